package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CoreSpeed-io/zypher-agent/internal/mcp"
	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// fakeProvider drives a scripted sequence of turns without touching a real
// model API, mirroring the teacher's table-driven provider fakes.
type fakeProvider struct {
	turns []func(req ChatRequest, onEvent func(models.TaskEvent)) (FinalMessage, error)
	calls int
}

func (f *fakeProvider) StreamChat(ctx context.Context, req ChatRequest, onEvent func(models.TaskEvent)) (FinalMessage, error) {
	if f.calls >= len(f.turns) {
		return FinalMessage{}, errors.New("fakeProvider: no more scripted turns")
	}
	turn := f.turns[f.calls]
	f.calls++
	return turn(req, onEvent)
}

func singleShotProvider(text string) *fakeProvider {
	return &fakeProvider{turns: []func(ChatRequest, func(models.TaskEvent)) (FinalMessage, error){
		func(req ChatRequest, onEvent func(models.TaskEvent)) (FinalMessage, error) {
			onEvent(models.TaskEvent{Type: models.TaskEventTextDelta, Delta: text})
			msg := models.NewAssistantMessage(models.TextBlock(text))
			return FinalMessage{
				Message:    msg,
				StopReason: StopEndTurn,
				Usage:      &models.TokenUsage{Total: 10},
			}, nil
		},
	}}
}

func drainEvents(t *testing.T, events <-chan models.TaskEvent) []models.TaskEvent {
	t.Helper()
	var out []models.TaskEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestRunnerSingleShotCompletion(t *testing.T) {
	manager := mcp.NewManager(nil, mcp.AutoApprove, nil)
	provider := singleShotProvider("hello there")
	r := NewRunner(manager, provider, nil, nil, nil, nil)

	bus, err := r.RunTask(context.Background(), "hi", nil, RunTaskOptions{})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	sub, _ := bus.Subscribe(16)
	events := drainEvents(t, sub)

	if bus.Err() != nil {
		t.Fatalf("bus.Err() = %v, want nil", bus.Err())
	}

	var sawCompleted bool
	for _, ev := range events {
		if ev.Type == models.TaskEventCompleted {
			sawCompleted = true
			if ev.Usage == nil || ev.Usage.Total != 10 {
				t.Fatalf("completed usage = %+v, want total 10", ev.Usage)
			}
		}
	}
	if !sawCompleted {
		t.Fatal("expected a completed event")
	}

	msgs := r.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2 (user + assistant)", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected message roles: %+v", msgs)
	}
}

func TestRunnerRejectsConcurrentTask(t *testing.T) {
	manager := mcp.NewManager(nil, mcp.AutoApprove, nil)
	blockCh := make(chan struct{})
	provider := &fakeProvider{turns: []func(ChatRequest, func(models.TaskEvent)) (FinalMessage, error){
		func(req ChatRequest, onEvent func(models.TaskEvent)) (FinalMessage, error) {
			<-blockCh
			return FinalMessage{Message: models.NewAssistantMessage(models.TextBlock("done")), StopReason: StopEndTurn}, nil
		},
	}}
	r := NewRunner(manager, provider, nil, nil, nil, nil)

	if _, err := r.RunTask(context.Background(), "first", nil, RunTaskOptions{}); err != nil {
		t.Fatalf("first RunTask: %v", err)
	}

	if _, err := r.RunTask(context.Background(), "second", nil, RunTaskOptions{}); !errors.Is(err, ErrTaskConcurrency) {
		t.Fatalf("second RunTask error = %v, want ErrTaskConcurrency", err)
	}

	close(blockCh)
}

func TestRunnerCancellation(t *testing.T) {
	manager := mcp.NewManager(nil, mcp.AutoApprove, nil)
	r := NewRunner(manager, singleShotProvider("x"), nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus, err := r.RunTask(ctx, "hi", nil, RunTaskOptions{})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	sub, _ := bus.Subscribe(16)
	events := drainEvents(t, sub)

	var sawCancelled bool
	for _, ev := range events {
		if ev.Type == models.TaskEventCancelled {
			sawCancelled = true
			if ev.CancelReason != models.CancelReasonUser {
				t.Fatalf("cancel reason = %q, want user", ev.CancelReason)
			}
		}
	}
	if !sawCancelled {
		t.Fatal("expected a cancelled event for an already-cancelled caller context")
	}
	if bus.Err() != nil {
		t.Fatalf("bus.Err() = %v, want nil (cancellation completes normally per §7)", bus.Err())
	}
}

func TestRunnerMaxIterationsStopsLoop(t *testing.T) {
	manager := mcp.NewManager(nil, mcp.AutoApprove, nil)
	turn := func(req ChatRequest, onEvent func(models.TaskEvent)) (FinalMessage, error) {
		return FinalMessage{Message: models.NewAssistantMessage(models.TextBlock("still going")), StopReason: StopMaxTokens}, nil
	}
	turns := make([]func(ChatRequest, func(models.TaskEvent)) (FinalMessage, error), 3)
	for i := range turns {
		turns[i] = turn
	}
	provider := &fakeProvider{turns: turns}
	r := NewRunner(manager, provider, nil, nil, nil, nil)

	bus, err := r.RunTask(context.Background(), "hi", nil, RunTaskOptions{MaxIterations: 3})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	sub, _ := bus.Subscribe(32)
	_ = drainEvents(t, sub)

	if provider.calls != 3 {
		t.Fatalf("provider.calls = %d, want 3 (loop bounded by MaxIterations)", provider.calls)
	}
}

func TestRunnerWithCheckpointAndAttachments(t *testing.T) {
	manager := mcp.NewManager(nil, mcp.AutoApprove, nil)
	cp := &fakeCheckpoints{}
	ac := &fakeAttachments{}
	r := NewRunner(manager, singleShotProvider("ok"), cp, ac, nil, nil)

	bus, err := r.RunTask(context.Background(), "hi", []string{"file-1"}, RunTaskOptions{})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	sub, _ := bus.Subscribe(16)
	_ = drainEvents(t, sub)

	if cp.created != 1 {
		t.Fatalf("checkpoints created = %d, want 1", cp.created)
	}
	if ac.calls != 1 {
		t.Fatalf("attachment cache calls = %d, want 1", ac.calls)
	}

	msgs := r.Messages()
	if msgs[0].CheckpointID == "" {
		t.Fatal("opening message should carry the pre-task checkpoint id")
	}
}

type fakeCheckpoints struct {
	created int
}

func (f *fakeCheckpoints) CreateCheckpoint(ctx context.Context, name string) (models.Checkpoint, error) {
	f.created++
	return models.Checkpoint{ID: "cp-" + name, Timestamp: time.Now()}, nil
}

type fakeAttachments struct {
	calls int
}

func (f *fakeAttachments) CacheMessageAttachments(ctx context.Context, messages []models.Message) (map[string]CachedAttachment, error) {
	f.calls++
	return map[string]CachedAttachment{"file-1": {LocalPath: "/tmp/file-1"}}, nil
}
