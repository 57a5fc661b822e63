package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

func echoTool(name string) ToolDescriptor {
	return ToolDescriptor{
		Name: name,
		Execute: func(ctx context.Context, input json.RawMessage) ([]models.ContentBlock, error) {
			return []models.ContentBlock{models.TextBlock(string(input))}, nil
		},
	}
}

func TestManagerRegisterToolRejectsDuplicate(t *testing.T) {
	mgr := NewManager(nil, nil, nil)
	if err := mgr.registerTool(echoTool("ping")); err != nil {
		t.Fatalf("registerTool() error = %v", err)
	}
	if err := mgr.registerTool(echoTool("ping")); err == nil {
		t.Fatal("expected error registering duplicate tool name")
	}
}

func TestManagerCallToolNotFound(t *testing.T) {
	mgr := NewManager(nil, nil, nil)
	events, unsub := mgr.Events(8)
	defer unsub()

	_, err := mgr.callTool(context.Background(), "tu_1", "missing", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}

	ev := <-events
	if ev.Type != EventToolUseError {
		t.Fatalf("expected tool_use_error, got %v", ev.Type)
	}
}

func TestManagerCallToolApprovedSequence(t *testing.T) {
	mgr := NewManager(nil, AutoApprove, nil)
	if err := mgr.registerTool(echoTool("ping")); err != nil {
		t.Fatalf("registerTool() error = %v", err)
	}
	events, unsub := mgr.Events(8)
	defer unsub()

	result, err := mgr.callTool(context.Background(), "tu_1", "ping", json.RawMessage(`"hi"`))
	if err != nil {
		t.Fatalf("callTool() error = %v", err)
	}
	if len(result) != 1 || result[0].Text != `"hi"` {
		t.Fatalf("unexpected result: %+v", result)
	}

	wantSequence := []EventType{EventToolUsePendingApproval, EventToolUseApproved, EventToolUseResult}
	for _, want := range wantSequence {
		ev := <-events
		if ev.Type != want {
			t.Fatalf("expected %v, got %v", want, ev.Type)
		}
	}
}

func TestManagerCallToolRejected(t *testing.T) {
	deny := func(context.Context, string, json.RawMessage) (bool, error) { return false, nil }
	mgr := NewManager(nil, deny, nil)
	if err := mgr.registerTool(echoTool("ping")); err != nil {
		t.Fatalf("registerTool() error = %v", err)
	}
	events, unsub := mgr.Events(8)
	defer unsub()

	if _, err := mgr.callTool(context.Background(), "tu_1", "ping", nil); err == nil {
		t.Fatal("expected rejection error")
	}

	wantSequence := []EventType{EventToolUsePendingApproval, EventToolUseRejected}
	for _, want := range wantSequence {
		ev := <-events
		if ev.Type != want {
			t.Fatalf("expected %v, got %v", want, ev.Type)
		}
	}
}

func TestManagerBuiltinShadowsMCPTool(t *testing.T) {
	mgr := NewManager(nil, nil, nil)
	builtin := echoTool("mcp__srv__search")
	if err := mgr.registerTool(builtin); err != nil {
		t.Fatalf("registerTool() error = %v", err)
	}

	found, ok := mgr.findTool("mcp__srv__search")
	if !ok {
		t.Fatal("expected to find tool")
	}
	if found.Name != builtin.Name {
		t.Fatalf("expected builtin to win collision, got %+v", found)
	}
}

func TestManagerDeregisterUnknownServer(t *testing.T) {
	mgr := NewManager(nil, nil, nil)
	if err := mgr.deregisterServer("nonexistent"); err == nil {
		t.Fatal("expected error for unknown server")
	}
}

func TestManagerRegisterServerFromRegistryRequiresCollaborator(t *testing.T) {
	mgr := NewManager(nil, nil, nil)
	if err := mgr.registerServerFromRegistry(context.Background(), "@scope/pkg", false, nil); err == nil {
		t.Fatal("expected error when no registry collaborator is configured")
	}
}

func TestManagerDisposeClosesEventSubscribers(t *testing.T) {
	mgr := NewManager(nil, nil, nil)
	events, _ := mgr.Events(1)

	if err := mgr.dispose(); err != nil {
		t.Fatalf("dispose() error = %v", err)
	}

	if _, ok := <-events; ok {
		t.Fatal("expected events channel to be closed after dispose")
	}
}
