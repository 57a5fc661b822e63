package interceptor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

type fakeToolCaller struct {
	results map[string][]models.ContentBlock
	errs    map[string]error
}

func (f *fakeToolCaller) CallTool(ctx context.Context, toolUseID, name string, input json.RawMessage) ([]models.ContentBlock, error) {
	if err, ok := f.errs[toolUseID]; ok {
		return nil, err
	}
	return f.results[toolUseID], nil
}

func TestToolExecutionNoToolUseCompletes(t *testing.T) {
	msgs := []models.Message{models.NewAssistantMessage(models.TextBlock("hello"))}
	ictx := &Context{Messages: &msgs}

	ic := NewToolExecution(&fakeToolCaller{})
	result, err := ic.Intercept(context.Background(), ictx)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if result.Decision != models.InterceptorComplete {
		t.Fatalf("expected complete, got %v", result.Decision)
	}
}

func TestToolExecutionPreservesOrderAndAppendsResults(t *testing.T) {
	msgs := []models.Message{
		models.NewAssistantMessage(
			models.ToolUseBlock("tu_1", "alpha", json.RawMessage(`{}`)),
			models.ToolUseBlock("tu_2", "beta", json.RawMessage(`{}`)),
		),
	}
	ictx := &Context{Messages: &msgs}

	caller := &fakeToolCaller{results: map[string][]models.ContentBlock{
		"tu_1": {models.TextBlock("alpha-result")},
		"tu_2": {models.TextBlock("beta-result")},
	}}

	ic := NewToolExecution(caller)
	result, err := ic.Intercept(context.Background(), ictx)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if result.Decision != models.InterceptorContinue {
		t.Fatalf("expected continue, got %v", result.Decision)
	}

	last := (*ictx.Messages)[len(*ictx.Messages)-1]
	if last.Role != models.RoleUser {
		t.Fatalf("expected appended message to be user-role, got %v", last.Role)
	}
	if len(last.Content) != 2 {
		t.Fatalf("expected 2 tool_result blocks, got %d", len(last.Content))
	}
	if last.Content[0].ToolUseID != "tu_1" || last.Content[1].ToolUseID != "tu_2" {
		t.Fatalf("expected original tool_use order preserved, got %+v", last.Content)
	}
	if !last.Content[0].ToolSuccess || !last.Content[1].ToolSuccess {
		t.Fatal("expected both tool calls to report success")
	}
}

func TestToolExecutionMarksFailedCallUnsuccessful(t *testing.T) {
	msgs := []models.Message{
		models.NewAssistantMessage(models.ToolUseBlock("tu_1", "alpha", nil)),
	}
	ictx := &Context{Messages: &msgs}

	caller := &fakeToolCaller{errs: map[string]error{"tu_1": errAlphaFailed}}
	ic := NewToolExecution(caller)
	if _, err := ic.Intercept(context.Background(), ictx); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}

	last := (*ictx.Messages)[len(*ictx.Messages)-1]
	if last.Content[0].ToolSuccess {
		t.Fatal("expected failed tool call to report success=false")
	}
}

var errAlphaFailed = toolErr("alpha blew up")

type toolErr string

func (e toolErr) Error() string { return string(e) }
