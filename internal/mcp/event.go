package mcp

import (
	"encoding/json"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// EventType discriminates the Manager's events$ tagged union (§4.2, §6):
// server lifecycle notifications and the six tool-dispatch events a Task
// Runner forwards into the Task Event Bus verbatim.
type EventType string

const (
	EventServerAdded         EventType = "server_added"
	EventServerRemoved       EventType = "server_removed"
	EventServerUpdated       EventType = "server_updated"
	EventClientStatusChanged EventType = "client_status_changed"

	EventToolUsePendingApproval EventType = "tool_use_pending_approval"
	EventToolUseApproved        EventType = "tool_use_approved"
	EventToolUseRejected        EventType = "tool_use_rejected"
	EventToolUseResult          EventType = "tool_use_result"
	EventToolUseError           EventType = "tool_use_error"
	EventToolUseCancelled       EventType = "tool_use_cancelled"
)

// Event is one value observed through Manager.Events. Only the fields
// relevant to Type are populated, following the payload-pointer-per-variant
// convention used throughout pkg/models.
type Event struct {
	Type EventType

	// server_added, server_removed, server_updated, client_status_changed
	ServerID string
	Endpoint ServerEndpoint // server_added, server_updated
	Status   Status         // client_status_changed

	// tool-dispatch events
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage
	ToolResult []models.ContentBlock
	Reason     string // tool_use_rejected, tool_use_cancelled
	Err        string // tool_use_error
}
