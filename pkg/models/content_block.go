package models

import "encoding/json"

// ContentBlockType discriminates the ContentBlock tagged union (§3).
type ContentBlockType string

const (
	ContentText           ContentBlockType = "text"
	ContentImage          ContentBlockType = "image"
	ContentToolUse        ContentBlockType = "tool_use"
	ContentToolResult     ContentBlockType = "tool_result"
	ContentFileAttachment ContentBlockType = "file_attachment"
	ContentThinking       ContentBlockType = "thinking"
)

// ContentBlock is the tagged-union variant making up a Message's content.
// Exactly the fields relevant to Type are populated; the rest are zero.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image: exactly one of Base64/URL is set.
	ImageBase64    string `json:"imageBase64,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	ImageMediaType string `json:"imageMediaType,omitempty"`

	// tool_use
	ToolUseID    string          `json:"id,omitempty"`
	ToolName     string          `json:"name,omitempty"`
	ToolInput    json.RawMessage `json:"input,omitempty"`

	// tool_result (Name/Input are echoed back for provider round-tripping)
	ToolResultContent []ContentBlock `json:"content,omitempty"`
	ToolSuccess       bool           `json:"success,omitempty"`

	// file_attachment
	FileID   string `json:"fileId,omitempty"`
	MimeType string `json:"mimeType,omitempty"`

	// thinking
	ThinkingSignature string `json:"signature,omitempty"`
}

// TextBlock constructs a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentText, Text: text}
}

// ImageBlock constructs an image content block from a base64 payload.
func ImageBlock(base64Data, mediaType string) ContentBlock {
	return ContentBlock{Type: ContentImage, ImageBase64: base64Data, ImageMediaType: mediaType}
}

// ImageURLBlock constructs an image content block referencing a URL.
func ImageURLBlock(url string) ContentBlock {
	return ContentBlock{Type: ContentImage, ImageURL: url}
}

// ToolUseBlock constructs a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: ContentToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// ToolResultBlock constructs a tool_result content block. id/name echo the
// originating tool_use block so providers that require it can round-trip.
func ToolResultBlock(id, name string, input json.RawMessage, success bool, content ...ContentBlock) ContentBlock {
	return ContentBlock{
		Type:              ContentToolResult,
		ToolUseID:         id,
		ToolName:          name,
		ToolInput:         input,
		ToolSuccess:       success,
		ToolResultContent: content,
	}
}

// FileAttachmentBlock constructs a file_attachment content block.
func FileAttachmentBlock(fileID, mimeType string) ContentBlock {
	return ContentBlock{Type: ContentFileAttachment, FileID: fileID, MimeType: mimeType}
}

// ThinkingBlock constructs a thinking content block.
func ThinkingBlock(signature, text string) ContentBlock {
	return ContentBlock{Type: ContentThinking, ThinkingSignature: signature, Text: text}
}
