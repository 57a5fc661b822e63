// Package agent implements the Agent Runner (C5): the component that drives
// one task end to end, wiring together the MCP Server Manager (C1/C2), the
// Task Event Bus (C4), and the Loop Interceptor Chain (C3) per spec.md §4.5's
// task algorithm.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CoreSpeed-io/zypher-agent/internal/agent/interceptor"
	"github.com/CoreSpeed-io/zypher-agent/internal/eventbus"
	"github.com/CoreSpeed-io/zypher-agent/internal/mcp"
	"github.com/CoreSpeed-io/zypher-agent/internal/observability"
	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxIterations is the task loop's default iteration cap (§4.5 step 7).
const DefaultMaxIterations = 25

// DefaultMaxTokens is the per-call token budget requested from the model
// provider when a Runner isn't configured with one explicitly.
const DefaultMaxTokens = 4096

// SystemPromptLoader produces the system prompt for a task (§4.5 step 4). A
// loader may incorporate discovered skill metadata (internal/skills) without
// the Runner needing to know about skills at all.
type SystemPromptLoader func(ctx context.Context) (string, error)

// CheckpointCreator is the slice of the Checkpoint Store (C6) the Runner
// depends on: snapshotting the workspace before a task starts (§4.5 step 5).
type CheckpointCreator interface {
	CreateCheckpoint(ctx context.Context, name string) (models.Checkpoint, error)
}

// AttachmentCacher is the File Attachment Cache (C7) contract the Runner
// depends on (§4.5 step 6, §4.7).
type AttachmentCacher interface {
	CacheMessageAttachments(ctx context.Context, messages []models.Message) (map[string]CachedAttachment, error)
}

// RunTaskOptions overrides a Runner's defaults for one task (§4.5, §4.8).
type RunTaskOptions struct {
	MaxIterations int
	TaskTimeout   time.Duration
	UserID        string
}

// Runner is the Agent Runner (§4.5): it enforces the single-task gate,
// composes the cancellation signal, forwards MCP tool events onto the task
// event bus, snapshots the workspace, caches attachments, and drives the
// model-call/interceptor-chain loop.
type Runner struct {
	manager      *mcp.Manager
	provider     ModelProvider
	checkpoints  CheckpointCreator
	attachments  AttachmentCacher
	promptLoader SystemPromptLoader
	chain        *interceptor.Chain
	tracer       *observability.Tracer
	providerName string

	maxIterations int
	maxTokens     int

	mu            sync.Mutex
	running       bool
	currentCancel context.CancelFunc
	messages      []models.Message
	lastStats     models.RunStats
}

// NewRunner constructs a Runner. checkpoints and attachments may be nil, in
// which case steps 5/6 of the task algorithm are skipped (useful for tests
// and for a Runner used without a workspace). chain, if nil, defaults to the
// standard tool_execution → continue_on_max_tokens order with no error
// detector command (§4.3's "Tool Execution must be first" invariant).
func NewRunner(
	manager *mcp.Manager,
	provider ModelProvider,
	checkpoints CheckpointCreator,
	attachments AttachmentCacher,
	promptLoader SystemPromptLoader,
	chain *interceptor.Chain,
) *Runner {
	if chain == nil {
		chain = interceptor.NewChain(
			interceptor.NewToolExecution(manager),
			interceptor.NewContinueOnMaxTokens(0),
		)
	}
	if promptLoader == nil {
		promptLoader = func(context.Context) (string, error) { return "", nil }
	}
	return &Runner{
		manager:       manager,
		provider:      provider,
		checkpoints:   checkpoints,
		attachments:   attachments,
		promptLoader:  promptLoader,
		chain:         chain,
		maxIterations: DefaultMaxIterations,
		maxTokens:     DefaultMaxTokens,
	}
}

// WithTracer attaches a Tracer so each task turn and model call is traced.
// Passing nil disables tracing.
func (r *Runner) WithTracer(tracer *observability.Tracer) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracer = tracer
	return r
}

// WithProviderName labels the Model Provider in trace spans (e.g.
// "anthropic", "openai"); it has no effect on provider behavior.
func (r *Runner) WithProviderName(name string) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providerName = name
	return r
}

// IsRunning reports whether a task is currently in flight.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Messages returns a snapshot of the accumulated message history.
func (r *Runner) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Message(nil), r.messages...)
}

// SetMessages replaces the message history wholesale, used by
// applyCheckpoint's truncation (§4.8) and clearMessages.
func (r *Runner) SetMessages(msgs []models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = msgs
}

// Stats returns the statistics collected during the most recently finished
// task.
func (r *Runner) Stats() models.RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastStats
}

// Cancel requests cancellation of the in-flight task, if any. It is the
// "user" half of the composite cancellation signal (§4.5 step 2).
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel := r.currentCancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RunTask starts one task and returns the event bus it streams onto.
// Per §4.5 step 1, it fails with ErrTaskConcurrency if a task is already
// running; the isTaskRunning check and completer assignment are atomic
// under r.mu (§5).
func (r *Runner) RunTask(ctx context.Context, text string, attachmentFileIDs []string, opts RunTaskOptions) (*eventbus.Bus, error) {
	if r.provider == nil {
		return nil, ErrNoProvider
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrTaskConcurrency
	}
	r.running = true
	r.mu.Unlock()

	bus := eventbus.New(0)
	go r.execute(ctx, text, attachmentFileIDs, opts, bus)
	return bus, nil
}

// composeSignal builds the composite cancellation signal (§4.5 step 2): the
// caller's ctx plus, if timeout > 0, a derived deadline. reason reports which
// half fired once the returned context is done.
func composeSignal(parent context.Context, timeout time.Duration) (ctx context.Context, cancel context.CancelFunc, reason func() models.CancelReason) {
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	reason = func() models.CancelReason {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.CancelReasonTimeout
		}
		return models.CancelReasonUser
	}
	return ctx, cancel, reason
}

// execute runs the full task algorithm (§4.5 steps 2-8) in its own
// goroutine; RunTask has already reserved the single-task gate.
func (r *Runner) execute(callerCtx context.Context, text string, attachmentFileIDs []string, opts RunTaskOptions, bus *eventbus.Bus) {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = r.maxIterations
	}

	taskCtx, cancel, reason := composeSignal(callerCtx, opts.TaskTimeout)
	r.mu.Lock()
	r.currentCancel = cancel
	tracer := r.tracer
	r.mu.Unlock()

	if tracer != nil {
		var span trace.Span
		taskCtx, span = tracer.TraceAgentTurn(taskCtx, opts.UserID)
		defer span.End()
	}

	defer func() {
		bus.Complete() // no-op if already completed by a terminal event below
		cancel()
		r.mu.Lock()
		r.running = false
		r.currentCancel = nil
		r.mu.Unlock()
	}()

	// Step 3: pass-through pipe from the MCP server manager's tool events,
	// filtered to the six tool-dispatch types, forwarded onto the task bus.
	toolEvents, unsubscribe := r.manager.Events(32)
	defer unsubscribe()
	stopForward := make(chan struct{})
	defer close(stopForward)
	go forwardToolEvents(toolEvents, bus, stopForward)

	stats := NewStatsCollector()

	// Step 4: load the system prompt.
	systemPrompt, err := r.promptLoader(taskCtx)
	if err != nil {
		bus.Fail(fmt.Errorf("agent: load system prompt: %w", err))
		return
	}

	// Step 5: snapshot the workspace and attach the checkpoint to the
	// opening message.
	checkpointID := ""
	if r.checkpoints != nil {
		cp, err := r.checkpoints.CreateCheckpoint(taskCtx, fmt.Sprintf("task-%d", time.Now().UnixNano()))
		if err != nil {
			bus.Fail(fmt.Errorf("agent: create checkpoint: %w", err))
			return
		}
		checkpointID = cp.ID
	}

	blocks := []models.ContentBlock{models.TextBlock(text)}
	for _, fileID := range attachmentFileIDs {
		blocks = append(blocks, models.FileAttachmentBlock(fileID, ""))
	}
	userMsg := models.NewUserMessage(blocks...)
	userMsg.CheckpointID = checkpointID

	r.mu.Lock()
	r.messages = append(r.messages, userMsg)
	r.mu.Unlock()
	bus.Emit(models.TaskEvent{Type: models.TaskEventMessage, Message: &userMsg})

	// Step 6: cache file attachments referenced anywhere in history.
	var attachmentCache map[string]CachedAttachment
	if r.attachments != nil {
		attachmentCache, err = r.attachments.CacheMessageAttachments(taskCtx, r.Messages())
		if err != nil {
			bus.Fail(fmt.Errorf("agent: cache attachments: %w", err))
			return
		}
	}

	emit := func(ev models.TaskEvent) {
		stamped := bus.Emit(ev)
		stats.Observe(stamped)
	}

	var totalUsage models.TokenUsage
	haveUsage := false

	// Step 7: the iteration loop.
	for i := 0; i < maxIter; i++ {
		stats.IterationStarted()

		if taskCtx.Err() != nil {
			r.emitCancelled(bus, reason())
			r.lastStats = stats.Finish()
			return
		}

		req := ChatRequest{
			MaxTokens:       r.maxTokens,
			System:          systemPrompt,
			Messages:        r.Messages(),
			Tools:           r.manager.Tools(),
			UserID:          opts.UserID,
			AttachmentCache: attachmentCache,
		}

		var span trace.Span
		callCtx := taskCtx
		if tracer != nil {
			callCtx, span = tracer.TraceLLMRequest(taskCtx, r.providerName, "")
		}
		final, err := r.provider.StreamChat(callCtx, req, emit)
		if span != nil {
			if err != nil {
				tracer.RecordError(span, err)
			}
			span.End()
		}
		if err != nil {
			if taskCtx.Err() != nil {
				r.emitCancelled(bus, reason())
				r.mu.Lock()
				r.lastStats = stats.Finish()
				r.mu.Unlock()
				return
			}
			bus.Fail(fmt.Errorf("agent: stream chat: %w", err))
			return
		}

		r.mu.Lock()
		r.messages = append(r.messages, final.Message)
		r.mu.Unlock()
		emit(models.TaskEvent{Type: models.TaskEventMessage, Message: &final.Message})

		if final.Usage != nil {
			emit(models.TaskEvent{Type: models.TaskEventUsage, Usage: final.Usage})
			totalUsage = totalUsage.Sum(*final.Usage)
			haveUsage = true
		}

		msgs := r.messages
		ictx := &interceptor.Context{
			Messages:          &msgs,
			LastAssistantText: final.Message.Text(),
			AvailableTools:    toolNames(r.manager.Tools()),
			StopReason:        string(final.StopReason),
			ToolCaller:        r.manager,
		}

		decision, err := r.chain.Execute(taskCtx, ictx, emit)
		r.mu.Lock()
		r.messages = msgs
		r.mu.Unlock()
		if err != nil {
			if errors.Is(err, interceptor.ErrAborted) {
				r.emitCancelled(bus, reason())
				r.mu.Lock()
				r.lastStats = stats.Finish()
				r.mu.Unlock()
				return
			}
			bus.Fail(fmt.Errorf("agent: interceptor chain: %w", err))
			return
		}
		if decision == models.InterceptorComplete {
			break
		}
	}

	var usagePtr *models.TokenUsage
	if haveUsage {
		usagePtr = &totalUsage
	}
	bus.Emit(models.TaskEvent{Type: models.TaskEventCompleted, Usage: usagePtr})
	r.mu.Lock()
	r.lastStats = stats.Finish()
	r.mu.Unlock()
}

// emitCancelled implements §4.5's cancellation semantics: abort is expected
// control flow, so it is reported as a cancelled event and a normal bus
// completion rather than a failure.
func (r *Runner) emitCancelled(bus *eventbus.Bus, why models.CancelReason) {
	bus.Emit(models.TaskEvent{Type: models.TaskEventCancelled, CancelReason: why})
}

// forwardToolEvents is the step-3 pass-through pipe: every event on ch that
// is one of the six tool-dispatch types is translated and re-emitted on bus
// verbatim, until ch closes or stop fires.
func forwardToolEvents(ch <-chan mcp.Event, bus *eventbus.Bus, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if te, ok := convertToolEvent(ev); ok {
				bus.Emit(te)
			}
		}
	}
}

func convertToolEvent(ev mcp.Event) (models.TaskEvent, bool) {
	switch ev.Type {
	case mcp.EventToolUsePendingApproval:
		return models.TaskEvent{Type: models.TaskEventToolUsePendingApproval, ToolUseID: ev.ToolUseID, ToolName: ev.ToolName, ToolInput: ev.ToolInput}, true
	case mcp.EventToolUseApproved:
		return models.TaskEvent{Type: models.TaskEventToolUseApproved, ToolUseID: ev.ToolUseID, ToolName: ev.ToolName}, true
	case mcp.EventToolUseRejected:
		return models.TaskEvent{Type: models.TaskEventToolUseRejected, ToolUseID: ev.ToolUseID, ToolName: ev.ToolName, Reason: ev.Reason}, true
	case mcp.EventToolUseResult:
		return models.TaskEvent{Type: models.TaskEventToolUseResult, ToolUseID: ev.ToolUseID, ToolName: ev.ToolName, ToolResult: ev.ToolResult}, true
	case mcp.EventToolUseError:
		return models.TaskEvent{Type: models.TaskEventToolUseError, ToolUseID: ev.ToolUseID, ToolName: ev.ToolName, Error: ev.Err}, true
	case mcp.EventToolUseCancelled:
		return models.TaskEvent{Type: models.TaskEventToolUseCancelled, ToolUseID: ev.ToolUseID, ToolName: ev.ToolName, Reason: ev.Reason}, true
	default:
		return models.TaskEvent{}, false
	}
}

func toolNames(tools []mcp.ToolDescriptor) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
