package agent

import (
	"context"
	"time"

	"github.com/CoreSpeed-io/zypher-agent/internal/mcp"
	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// StopReason is the provider's reason for ending a model turn (§6).
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopSequence     StopReason = "stop_sequence"
	StopUnrecognized StopReason = ""
)

// ChatRequest is the Model Provider collaborator's input (§6): `streamChat`
// takes maxTokens/system/messages/tools/userId/signal plus an optional
// attachment cache, here folded into AttachmentCache (nil if none).
type ChatRequest struct {
	MaxTokens      int
	System         string
	Messages       []models.Message
	Tools          []mcp.ToolDescriptor
	UserID         string
	AttachmentCache map[string]CachedAttachment
}

// CachedAttachment is one entry of the map cacheMessageAttachments returns
// (§4.7): a locally downloaded file plus a signed URL a provider may embed
// directly in its request instead of re-uploading bytes.
type CachedAttachment struct {
	LocalPath string
	SignedURL string
}

// FinalMessage is what `finalMessage()` yields once a streamChat call
// completes (§6): the accumulated assistant message, its stop reason, and
// usage if the provider reported it.
type FinalMessage struct {
	Message    models.Message
	StopReason StopReason
	Usage      *models.TokenUsage
}

// ModelProvider is the model provider collaborator interface (§6).
// StreamChat drives one model turn, invoking onEvent for every streamed
// model-stream TaskEvent (text_delta, tool_use, tool_use_input) as it
// arrives, and returns once the turn is complete or ctx is done.
type ModelProvider interface {
	StreamChat(ctx context.Context, req ChatRequest, onEvent func(models.TaskEvent)) (FinalMessage, error)
}

// FileMetadata is what getFileMetadata(id) returns (§6).
type FileMetadata struct {
	FileID   string
	Filename string
	MimeType string
	Size     int64
}

// StorageCollaborator is the storage collaborator interface (§6). Only the
// three read-path methods are consumed by the core; upload variants exist
// only on concrete implementations used outside the runner's hot path.
type StorageCollaborator interface {
	GetFileMetadata(ctx context.Context, fileID string) (FileMetadata, error)
	DownloadFile(ctx context.Context, fileID, localPath string) error
	GetSignedURL(ctx context.Context, fileID string, expiry time.Duration) (string, error)
}
