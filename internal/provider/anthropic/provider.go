// Package anthropic implements the Model Provider collaborator (§6) against
// Anthropic's Claude API, trimmed from the teacher's dual beta/non-beta
// streaming path down to the single streaming path this spec needs (no
// computer-use tooling, no extended-thinking passthrough of the teacher's
// beta params).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/CoreSpeed-io/zypher-agent/internal/agent"
	"github.com/CoreSpeed-io/zypher-agent/internal/mcp"
	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// maxEmptyStreamEvents bounds consecutive events that produce no chunk
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// Provider implements agent.ModelProvider against the Anthropic Messages API.
type Provider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// New builds a Provider from cfg, applying the same defaults the teacher's
// AnthropicProvider applied (3 retries, 1s base backoff, claude-sonnet-4).
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// StreamChat implements agent.ModelProvider.
func (p *Provider) StreamChat(ctx context.Context, req agent.ChatRequest, onEvent func(models.TaskEvent)) (agent.FinalMessage, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return agent.FinalMessage{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return agent.FinalMessage{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	// Retry the whole turn with exponential backoff on a retryable error,
	// same formula the teacher uses (retryDelay * 2^attempt), applied around
	// stream consumption rather than stream creation since NewStreaming
	// itself never errors synchronously — failures only surface once the
	// stream is iterated.
	var final agent.FinalMessage
	for attempt := 0; ; attempt++ {
		stream := p.client.Messages.NewStreaming(ctx, params)
		final, err = processStream(stream, onEvent)
		if err == nil || !isRetryableError(err) || attempt >= p.maxRetries {
			break
		}
		backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return agent.FinalMessage{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return agent.FinalMessage{}, fmt.Errorf("anthropic: %w", err)
	}
	return final, nil
}

// processStream consumes the SSE stream, forwarding text/tool deltas through
// onEvent as they arrive and assembling the final accumulated message once
// message_stop closes the stream. Mirrors the teacher's processStream, minus
// the beta/computer-use branch and thinking-block handling this spec drops.
func processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], onEvent func(models.TaskEvent)) (agent.FinalMessage, error) {
	var blocks []models.ContentBlock
	var textBuf strings.Builder
	var toolInputBuf strings.Builder
	var currentToolID, currentToolName string
	inText := false
	inToolUse := false

	var usage models.TokenUsage
	var stopReason agent.StopReason
	emptyEvents := 0

	flushText := func() {
		if inText {
			blocks = append(blocks, models.TextBlock(textBuf.String()))
			textBuf.Reset()
			inText = false
		}
	}

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				usage.Input.Total = int(ms.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			cb := event.AsContentBlockStart().ContentBlock
			switch cb.Type {
			case "text":
				inText = true
			case "tool_use":
				flushText()
				tu := cb.AsToolUse()
				currentToolID, currentToolName = tu.ID, tu.Name
				toolInputBuf.Reset()
				inToolUse = true
				onEvent(models.TaskEvent{Type: models.TaskEventToolUse, ToolUseID: currentToolID, ToolName: currentToolName})
			}
			processed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					textBuf.WriteString(delta.Text)
					onEvent(models.TaskEvent{Type: models.TaskEventTextDelta, Delta: delta.Text})
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInputBuf.WriteString(delta.PartialJSON)
					onEvent(models.TaskEvent{
						Type:      models.TaskEventToolUseInputDelta,
						ToolUseID: currentToolID,
						ToolName:  currentToolName,
						ToolInput: json.RawMessage(delta.PartialJSON),
					})
					processed = true
				}
			}

		case "content_block_stop":
			if inToolUse {
				raw := toolInputBuf.String()
				if raw == "" {
					raw = "{}"
				}
				blocks = append(blocks, models.ToolUseBlock(currentToolID, currentToolName, json.RawMessage(raw)))
				inToolUse = false
			} else {
				flushText()
			}
			processed = true

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.Output.Total = int(md.Usage.OutputTokens)
			}
			stopReason = convertStopReason(string(md.Delta.StopReason))
			processed = true

		case "message_stop":
			flushText()
			usage.Total = usage.Input.Total + usage.Output.Total
			return agent.FinalMessage{
				Message:    models.NewAssistantMessage(blocks...),
				StopReason: stopReason,
				Usage:      &usage,
			}, nil

		case "error":
			return agent.FinalMessage{}, errors.New("anthropic: stream error")
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				return agent.FinalMessage{}, fmt.Errorf("anthropic: stream appears malformed: %d consecutive empty events", emptyEvents)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return agent.FinalMessage{}, fmt.Errorf("anthropic: stream: %w", err)
	}

	flushText()
	usage.Total = usage.Input.Total + usage.Output.Total
	return agent.FinalMessage{Message: models.NewAssistantMessage(blocks...), StopReason: stopReason, Usage: &usage}, nil
}

func convertStopReason(s string) agent.StopReason {
	switch s {
	case "end_turn":
		return agent.StopEndTurn
	case "max_tokens":
		return agent.StopMaxTokens
	case "tool_use":
		return agent.StopToolUse
	case "stop_sequence":
		return agent.StopSequence
	default:
		return agent.StopUnrecognized
	}
}

// convertMessages adapts the teacher's convertMessages to the new
// models.Message/ContentBlock shape: tool_result and tool_use blocks travel
// as first-class ContentBlock variants rather than separate slices.
func convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, b := range msg.Content {
			switch b.Type {
			case models.ContentText:
				content = append(content, anthropic.NewTextBlock(b.Text))
			case models.ContentToolUse:
				var input any
				if len(b.ToolInput) > 0 {
					if err := json.Unmarshal(b.ToolInput, &input); err != nil {
						return nil, fmt.Errorf("invalid tool_use input for %s: %w", b.ToolName, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(b.ToolUseID, input, b.ToolName))
			case models.ContentToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolUseID, toolResultText(b.ToolResultContent), !b.ToolSuccess))
			case models.ContentImage:
				if b.ImageBase64 != "" {
					content = append(content, anthropic.NewImageBlockBase64(b.ImageMediaType, b.ImageBase64))
				} else if b.ImageURL != "" {
					// The SDK's base64 image block is the only image variant
					// this adapter constructs directly; a URL-referenced
					// image is passed through as text so the model at least
					// sees the reference instead of silently dropping it.
					content = append(content, anthropic.NewTextBlock(b.ImageURL))
				}
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func toolResultText(blocks []models.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == models.ContentText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// convertTools adapts toolconv.ToAnthropicTool to unmarshal directly from a
// mcp.ToolDescriptor's raw JSON schema instead of calling a Tool.Schema()
// method, since the MCP Server Manager's tools carry their schema as
// json.RawMessage rather than behind that interface.
func convertTools(tools []mcp.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

// isRetryableError mirrors the teacher's string-matching classification of
// rate-limit/server/timeout/connection errors, trimmed of the ProviderError
// wrapper type the teacher's errors.go defines (out of scope here: this
// adapter has no error taxonomy consumers beyond the Agent Runner's bus.Fail).
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"rate_limit", "429", "too many requests",
		"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var _ agent.ModelProvider = (*Provider)(nil)
