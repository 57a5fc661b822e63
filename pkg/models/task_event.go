package models

import "encoding/json"

// TaskEventType discriminates the TaskEvent tagged union (§3, §4.4).
type TaskEventType string

const (
	// Model-stream events.
	TaskEventTextDelta         TaskEventType = "text_delta"
	TaskEventToolUse           TaskEventType = "tool_use"       // tool_use block opened
	TaskEventToolUseInputDelta TaskEventType = "tool_use_input" // streamed input-argument delta
	TaskEventMessage           TaskEventType = "message"        // a complete Message appended to history
	TaskEventUsage             TaskEventType = "usage"          // final usage for one model call

	// Tool-dispatch events, forwarded from the MCP Server Manager's events$
	// (filtered to these six types, per C5 step 3).
	TaskEventToolUsePendingApproval TaskEventType = "tool_use_pending_approval"
	TaskEventToolUseApproved        TaskEventType = "tool_use_approved"
	TaskEventToolUseRejected        TaskEventType = "tool_use_rejected"
	TaskEventToolUseResult          TaskEventType = "tool_use_result"
	TaskEventToolUseError           TaskEventType = "tool_use_error"
	TaskEventToolUseCancelled       TaskEventType = "tool_use_cancelled"

	// Interceptor events.
	TaskEventInterceptorUse    TaskEventType = "interceptor_use"
	TaskEventInterceptorResult TaskEventType = "interceptor_result"
	TaskEventInterceptorError  TaskEventType = "interceptor_error"

	// Lifecycle events.
	TaskEventCompleted      TaskEventType = "completed"
	TaskEventCancelled      TaskEventType = "cancelled"
	TaskEventHistoryChanged TaskEventType = "history_changed"

	// Transport events.
	TaskEventHeartbeat TaskEventType = "heartbeat"
)

// CancelReason distinguishes why a task was cancelled.
type CancelReason string

const (
	CancelReasonUser    CancelReason = "user"
	CancelReasonTimeout CancelReason = "timeout"
)

// InterceptorDecision is the result an interceptor returns from intercept().
type InterceptorDecision string

const (
	InterceptorContinue InterceptorDecision = "continue"
	InterceptorComplete InterceptorDecision = "complete"
)

// TaskEvent is the tagged union emitted onto the Task Event Bus. Exactly the
// fields relevant to Type are populated. Every event carries its ID, stamped
// at construction by the bus's TaskEventIDGenerator.
type TaskEvent struct {
	ID   TaskEventID   `json:"id"`
	Type TaskEventType `json:"type"`

	// text_delta
	Delta string `json:"delta,omitempty"`

	// tool_use / tool_use_input / tool dispatch events share ToolUseID/ToolName.
	ToolUseID string          `json:"toolUseId,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`

	// tool dispatch result/error/rejection detail
	ToolResult  []ContentBlock `json:"toolResult,omitempty"`
	ToolSuccess bool           `json:"toolSuccess,omitempty"`
	Reason      string         `json:"reason,omitempty"`

	// message
	Message *Message `json:"message,omitempty"`

	// usage / completed
	Usage *TokenUsage `json:"usage,omitempty"`

	// interceptor_*
	InterceptorName string               `json:"interceptorName,omitempty"`
	Decision        InterceptorDecision  `json:"decision,omitempty"`
	Reasoning       string               `json:"reasoning,omitempty"`

	// cancelled
	CancelReason CancelReason `json:"cancelReason,omitempty"`

	// error-bearing events (tool_use_error, interceptor_error)
	Error string `json:"error,omitempty"`

	// heartbeat
	HeartbeatAt int64 `json:"heartbeatAt,omitempty"`
}
