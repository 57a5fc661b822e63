package interceptor

import (
	"context"
	"sync"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// ToolExecution is the chain's always-first interceptor (§4.3's invariant):
// if the last assistant message carries tool_use blocks, it dispatches each
// one concurrently through the same ToolCaller, assembles tool_result
// blocks preserving the original tool_use order, and appends them as a
// single user-role message. A message with no tool_use blocks is a no-op
// that completes the chain.
type ToolExecution struct {
	caller ToolCaller
}

// NewToolExecution builds the Tool Execution interceptor.
func NewToolExecution(caller ToolCaller) *ToolExecution {
	return &ToolExecution{caller: caller}
}

func (t *ToolExecution) Name() string { return "tool_execution" }

func (t *ToolExecution) Intercept(ctx context.Context, ictx *Context) (Result, error) {
	msgs := *ictx.Messages
	var last models.Message
	found := false
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleAssistant {
			last = msgs[i]
			found = true
			break
		}
	}
	if !found {
		return Complete(), nil
	}

	toolUses := last.ToolUses()
	if len(toolUses) == 0 {
		return Complete(), nil
	}

	results := make([]models.ContentBlock, len(toolUses))
	var wg sync.WaitGroup
	for i, use := range toolUses {
		wg.Add(1)
		go func(i int, use models.ContentBlock) {
			defer wg.Done()
			content, err := t.caller.CallTool(ctx, use.ToolUseID, use.ToolName, use.ToolInput)
			if err != nil {
				results[i] = models.ToolResultBlock(use.ToolUseID, use.ToolName, use.ToolInput, false,
					models.TextBlock(err.Error()))
				return
			}
			results[i] = models.ToolResultBlock(use.ToolUseID, use.ToolName, use.ToolInput, true, content...)
		}(i, use)
	}
	wg.Wait()

	*ictx.Messages = append(*ictx.Messages, models.NewUserMessage(results...))
	return Result{Decision: models.InterceptorContinue}, nil
}
