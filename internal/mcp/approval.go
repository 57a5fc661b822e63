package mcp

import (
	"context"
	"encoding/json"
)

// ApprovalHandler decides whether a pending tool call may proceed (§4.2,
// §4.5). Cancellation is expressed through ctx rather than a separate signal
// parameter, following the context.Context convention used elsewhere for
// blocking operations.
type ApprovalHandler func(ctx context.Context, toolName string, input json.RawMessage) (bool, error)

// AutoApprove approves every call unconditionally. It is the default used
// when a Manager is constructed without an explicit handler.
func AutoApprove(context.Context, string, json.RawMessage) (bool, error) {
	return true, nil
}
