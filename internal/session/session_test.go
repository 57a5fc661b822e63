package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/CoreSpeed-io/zypher-agent/internal/agent"
	"github.com/CoreSpeed-io/zypher-agent/internal/checkpoint"
	"github.com/CoreSpeed-io/zypher-agent/internal/mcp"
	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

type scriptedProvider struct {
	text string
}

func (p *scriptedProvider) StreamChat(ctx context.Context, req agent.ChatRequest, onEvent func(models.TaskEvent)) (agent.FinalMessage, error) {
	return agent.FinalMessage{
		Message:    models.NewAssistantMessage(models.TextBlock(p.text)),
		StopReason: agent.StopEndTurn,
	}, nil
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	root := t.TempDir()
	workDir := filepath.Join(root, "workspace")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	cpStore, err := checkpoint.NewStore(filepath.Join(root, ".checkpoints"), workDir)
	if err != nil {
		t.Fatalf("checkpoint.NewStore: %v", err)
	}

	manager := mcp.NewManager(nil, mcp.AutoApprove, nil)
	runner := agent.NewRunner(manager, &scriptedProvider{text: "ok"}, cpStore, nil, nil, nil)

	sess, err := Open(filepath.Join(root, "session.db"), runner, manager, cpStore, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = sess.Dispose() })
	return sess
}

func drainBus(t *testing.T, ch <-chan models.TaskEvent) {
	t.Helper()
	for range ch {
	}
}

func TestSessionRunTaskPersistsMessages(t *testing.T) {
	sess := newTestSession(t)

	bus, err := sess.RunTask(context.Background(), "hello", nil, agent.RunTaskOptions{})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	sub, _ := bus.Subscribe(16)
	drainBus(t, sub)

	if err := sess.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	msgs := sess.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(Messages()) = %d, want 2", len(msgs))
	}
}

func TestSessionClearMessages(t *testing.T) {
	sess := newTestSession(t)

	bus, err := sess.RunTask(context.Background(), "hello", nil, agent.RunTaskOptions{})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	sub, _ := bus.Subscribe(16)
	drainBus(t, sub)
	if err := sess.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if err := sess.ClearMessages(); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}
	if len(sess.Messages()) != 0 {
		t.Fatalf("expected empty history after ClearMessages, got %d", len(sess.Messages()))
	}
}

func TestSessionDisposedRejectsOperations(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	if _, err := sess.RunTask(context.Background(), "hi", nil, agent.RunTaskOptions{}); !errors.Is(err, ErrDisposed) {
		t.Fatalf("RunTask after dispose = %v, want ErrDisposed", err)
	}
	if err := sess.ClearMessages(); !errors.Is(err, ErrDisposed) {
		t.Fatalf("ClearMessages after dispose = %v, want ErrDisposed", err)
	}
}
