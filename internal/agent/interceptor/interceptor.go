// Package interceptor implements the Loop Interceptor Chain (C3): a
// fixed-order sequence of post-inference processors that cooperatively
// decide whether the agent loop should continue (inject context and issue
// another model call) or complete.
package interceptor

import (
	"context"
	"encoding/json"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// ToolCaller is the collaborator the Tool Execution interceptor dispatches
// through. It is satisfied by the MCP Server Manager's callTool.
type ToolCaller interface {
	CallTool(ctx context.Context, toolUseID, name string, input json.RawMessage) ([]models.ContentBlock, error)
}

// Context carries everything an interceptor needs to inspect the turn that
// just completed and, if it decides continue, to extend the conversation
// (§4.3). Messages is a pointer so an interceptor can append to the
// in-progress history in place.
type Context struct {
	Messages           *[]models.Message
	LastAssistantText  string
	AvailableTools     []string
	StopReason         string
	ToolCaller         ToolCaller
}

// Result is what Intercept returns: the decision, and an optional reasoning
// string the chain appends as a synthetic message when the interceptor
// didn't itself extend Messages.
type Result struct {
	Decision  models.InterceptorDecision
	Reasoning string
}

// Continue builds a continue result with reasoning, for interceptors that
// rely on the chain to append the synthetic message.
func Continue(reasoning string) Result {
	return Result{Decision: models.InterceptorContinue, Reasoning: reasoning}
}

// Complete builds a complete result.
func Complete() Result {
	return Result{Decision: models.InterceptorComplete}
}

// Interceptor is one named processor in the chain.
type Interceptor interface {
	Name() string
	Intercept(ctx context.Context, ictx *Context) (Result, error)
}
