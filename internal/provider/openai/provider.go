// Package openai implements the Model Provider collaborator (§6) against
// OpenAI's Chat Completions API, adapted from the teacher's OpenAIProvider
// onto the new models.Message/mcp.ToolDescriptor shapes.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/CoreSpeed-io/zypher-agent/internal/agent"
	"github.com/CoreSpeed-io/zypher-agent/internal/mcp"
	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// Provider implements agent.ModelProvider against OpenAI's Chat Completions
// streaming API.
type Provider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// New builds a Provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

// StreamChat implements agent.ModelProvider.
func (p *Provider) StreamChat(ctx context.Context, req agent.ChatRequest, onEvent func(models.TaskEvent)) (agent.FinalMessage, error) {
	messages, err := convertMessages(req.Messages, req.System)
	if err != nil {
		return agent.FinalMessage{}, fmt.Errorf("openai: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.defaultModel,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	for attempt := 0; ; attempt++ {
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err == nil {
			break
		}
		if !isRetryableError(err) || attempt >= p.maxRetries {
			return agent.FinalMessage{}, fmt.Errorf("openai: %w", err)
		}
		select {
		case <-ctx.Done():
			return agent.FinalMessage{}, ctx.Err()
		case <-time.After(p.retryDelay * time.Duration(attempt+1)):
		}
	}
	defer stream.Close()

	return processStream(ctx, stream, onEvent)
}

type pendingToolCall struct {
	id, name string
	args     strings.Builder
}

// processStream mirrors the teacher's processStream: OpenAI streams tool
// call arguments as fragments keyed by index, finalized once finish_reason
// is "tool_calls" or the stream reaches EOF.
func processStream(ctx context.Context, stream *openai.ChatCompletionStream, onEvent func(models.TaskEvent)) (agent.FinalMessage, error) {
	var textBuf strings.Builder
	toolCalls := make(map[int]*pendingToolCall)
	order := make([]int, 0, 4)

	finalize := func() []models.ContentBlock {
		var blocks []models.ContentBlock
		if textBuf.Len() > 0 {
			blocks = append(blocks, models.TextBlock(textBuf.String()))
		}
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc == nil || tc.id == "" || tc.name == "" {
				continue
			}
			raw := tc.args.String()
			if raw == "" {
				raw = "{}"
			}
			blocks = append(blocks, models.ToolUseBlock(tc.id, tc.name, jsonOrNil(raw)))
			onEvent(models.TaskEvent{Type: models.TaskEventToolUse, ToolUseID: tc.id, ToolName: tc.name})
		}
		return blocks
	}

	for {
		select {
		case <-ctx.Done():
			return agent.FinalMessage{}, ctx.Err()
		default:
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return agent.FinalMessage{Message: models.NewAssistantMessage(finalize()...), StopReason: agent.StopEndTurn}, nil
		}
		if err != nil {
			return agent.FinalMessage{}, fmt.Errorf("openai: stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			textBuf.WriteString(choice.Delta.Content)
			onEvent(models.TaskEvent{Type: models.TaskEventTextDelta, Delta: choice.Delta.Content})
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			entry, ok := toolCalls[idx]
			if !ok {
				entry = &pendingToolCall{}
				toolCalls[idx] = entry
				order = append(order, idx)
			}
			if tc.ID != "" {
				entry.id = tc.ID
			}
			if tc.Function.Name != "" {
				entry.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				entry.args.WriteString(tc.Function.Arguments)
				onEvent(models.TaskEvent{
					Type:      models.TaskEventToolUseInputDelta,
					ToolUseID: entry.id,
					ToolName:  entry.name,
					ToolInput: json.RawMessage(tc.Function.Arguments),
				})
			}
		}

		switch choice.FinishReason {
		case "tool_calls":
			return agent.FinalMessage{Message: models.NewAssistantMessage(finalize()...), StopReason: agent.StopToolUse}, nil
		case "length":
			return agent.FinalMessage{Message: models.NewAssistantMessage(finalize()...), StopReason: agent.StopMaxTokens}, nil
		case "stop":
			return agent.FinalMessage{Message: models.NewAssistantMessage(finalize()...), StopReason: agent.StopEndTurn}, nil
		}
	}
}

func jsonOrNil(raw string) json.RawMessage {
	if !json.Valid([]byte(raw)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}

// convertMessages adapts the teacher's convertToOpenAIMessages onto
// models.Message's content-block shape: a tool_result block becomes its own
// role:"tool" message (OpenAI requires one message per tool result), and
// tool_use blocks on an assistant message become that message's ToolCalls.
func convertMessages(messages []models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		var text strings.Builder
		var toolCalls []openai.ToolCall
		for _, b := range msg.Content {
			switch b.Type {
			case models.ContentText:
				text.WriteString(b.Text)
			case models.ContentToolUse:
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:       b.ToolUseID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: b.ToolName, Arguments: string(b.ToolInput)},
				})
			case models.ContentToolResult:
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    toolResultText(b.ToolResultContent),
					ToolCallID: b.ToolUseID,
				})
			}
		}

		if text.Len() == 0 && len(toolCalls) == 0 {
			continue
		}
		result = append(result, openai.ChatCompletionMessage{
			Role:      role,
			Content:   text.String(),
			ToolCalls: toolCalls,
		})
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

// convertTools adapts the teacher's convertToOpenAITools to unmarshal a
// mcp.ToolDescriptor's raw JSON schema directly instead of calling a
// Tool.Schema() method.
func convertTools(tools []mcp.ToolDescriptor) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		schema := map[string]any{"type": "object", "properties": map[string]any{}}
		if len(tool.InputSchema) > 0 {
			_ = json.Unmarshal(tool.InputSchema, &schema)
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var _ agent.ModelProvider = (*Provider)(nil)
