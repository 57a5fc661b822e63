// Package models provides the domain types shared across the Zypher agent
// runtime: messages and their content blocks, task events, token usage, and
// checkpoints.
package models

import "time"

// Role indicates the author of a Message. The core only ever produces
// user-authored and assistant-authored messages; tool results and
// interceptor-injected text travel as user-role messages carrying
// ToolResultBlock content, per the content-block design below.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is append-mostly: interceptors and the runner may append new
// messages, but never rewrite earlier ones. Any mutation of history other
// than a plain append (e.g. applyCheckpoint's truncation) must be paired
// with a history_changed event on the task event bus.
type Message struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`

	// CheckpointID is set on the message that opened a task: the pre-task
	// checkpoint commit hash created by the Checkpoint Store. applyCheckpoint
	// truncates history to the messages strictly before the message carrying
	// the matching checkpoint ID.
	CheckpointID string `json:"checkpointId,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewUserMessage constructs a user message with the given content blocks,
// stamped with the current time.
func NewUserMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleUser, Content: blocks, Timestamp: time.Now()}
}

// NewAssistantMessage constructs an assistant message with the given content
// blocks, stamped with the current time.
func NewAssistantMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: blocks, Timestamp: time.Now()}
}

// Text concatenates every TextBlock in the message's content, in order. It is
// a convenience used by interceptors that only care about the assistant's
// prose (e.g. the max-tokens continuation counter never inspects tool_use
// blocks).
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == ContentText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns every tool_use block in the message, in document order.
func (m Message) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == ContentToolUse {
			out = append(out, b)
		}
	}
	return out
}
