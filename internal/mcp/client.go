package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// ErrNotInError is returned by Retry when the client is not currently in the
// error state: per §4.1, retry() is only valid from error; any other state
// is a programming error.
var ErrNotInError = errors.New("mcp: retry called outside the error state")

// ErrWaitCancelled is returned by WaitForConnection when desiredState drifts
// away from connected while the wait is pending.
var ErrWaitCancelled = errors.New("mcp: wait cancelled: desired state changed")

// ErrWaitTimeout is returned by WaitForConnection when the timeout elapses
// before the client reaches connected.toolDiscovered.
var ErrWaitTimeout = errors.New("mcp: wait for connection timed out")

// ErrDisposeTimeout is returned by Dispose when the 30s disposal cap (§4.1,
// §5) elapses before the machine reaches disposed.
var ErrDisposeTimeout = errors.New("mcp: dispose timed out")

const disposeTimeout = 30 * time.Second

// Client drives one MCP server through the connect/disconnect/retry
// lifecycle described in §4.1: it reconciles an externally set desired
// state with the realized transport, exposes discovered tools, and surfaces
// status plus OAuth interruption. All state transitions are guarded by mu
// per the concurrency model in §5.
type Client struct {
	mu sync.RWMutex

	endpoint ServerEndpoint
	source   ServerSource
	logger   *slog.Logger

	desired DesiredState
	status  Status

	rpc   *rpcClient
	tools []ToolDescriptor

	auth AuthProvider // wrapped, may be nil

	subs      map[int]chan Status
	nextSubID int

	// generation guards against a stale async connect/disconnect goroutine
	// mutating state after a newer one has superseded it (e.g. aborting mid
	// connect then immediately reconnecting).
	generation int
}

// NewClient constructs a Client in the disconnected state with the given
// endpoint. auth may be nil if the server requires no OAuth flow.
func NewClient(endpoint ServerEndpoint, source ServerSource, auth AuthProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		endpoint: endpoint,
		source:   source,
		logger:   logger.With("mcp_server", endpoint.ID),
		desired:  DesiredDisconnected,
		status:   Status{Kind: StatusDisconnected},
		subs:     make(map[int]chan Status),
	}
	c.auth = wrapAuthProvider(auth, func(url string) { c.onOAuthRequired(url) })
	return c
}

// Endpoint returns the server endpoint this client was constructed with.
func (c *Client) Endpoint() ServerEndpoint { return c.endpoint }

// Source returns the registration source carried alongside the endpoint.
func (c *Client) Source() ServerSource { return c.source }

// Status returns the current state-machine value.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// DesiredEnabled reports whether the desired state is currently connected.
func (c *Client) DesiredEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desired == DesiredConnected
}

// SetDesiredEnabled sets the desired state to connected or disconnected.
// Setting to the same value is a no-op. The call is synchronous;
// reconciliation towards the new desired state happens asynchronously.
func (c *Client) SetDesiredEnabled(enabled bool) {
	next := DesiredDisconnected
	if enabled {
		next = DesiredConnected
	}

	c.mu.Lock()
	if c.desired == DesiredDisposed {
		c.mu.Unlock()
		return // disposed is terminal
	}
	if c.desired == next {
		c.mu.Unlock()
		return
	}
	c.desired = next
	c.mu.Unlock()

	c.reconcile()
}

// PendingOAuthURL returns the URL to send the user to, defined iff status is
// connecting.awaitingOAuth.
func (c *Client) PendingOAuthURL() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status.Kind == StatusConnecting && c.status.ConnectingSub == ConnectingAwaitingOAuth {
		return c.status.OAuthURL, true
	}
	return "", false
}

// Tools returns the discovered tool descriptors, non-empty only in
// connected.toolDiscovered (§3 invariant).
func (c *Client) Tools() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.status.IsToolDiscovered() {
		return nil
	}
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// GetTool looks up a discovered tool by its namespaced name.
func (c *Client) GetTool(name string) (ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.status.IsToolDiscovered() {
		return ToolDescriptor{}, false
	}
	for _, t := range c.tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

// ToolCount returns len(Tools()) without allocating the slice.
func (c *Client) ToolCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.status.IsToolDiscovered() {
		return 0
	}
	return len(c.tools)
}

// Subscribe registers a channel that receives the current status and every
// subsequent change, de-duplicated by deep equality. The returned function
// unsubscribes.
func (c *Client) Subscribe(buf int) (<-chan Status, func()) {
	ch := make(chan Status, buf)
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = ch
	current := c.status
	c.mu.Unlock()

	select {
	case ch <- current:
	default:
	}

	unsub := func() {
		c.mu.Lock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
		c.mu.Unlock()
	}
	return ch, unsub
}

// WaitForConnection succeeds only when the machine reaches
// connected.toolDiscovered AND desiredState == connected (§4.1).
func (c *Client) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	updates, unsub := c.Subscribe(8)
	defer unsub()

	for {
		c.mu.RLock()
		status, desired := c.status, c.desired
		c.mu.RUnlock()

		if status.IsToolDiscovered() && desired == DesiredConnected {
			return nil
		}
		if status.Kind == StatusError {
			return fmt.Errorf("mcp: connection failed: %w", status.LastError)
		}
		if desired != DesiredConnected {
			return ErrWaitCancelled
		}

		select {
		case <-ctx.Done():
			return ErrWaitTimeout
		case _, ok := <-updates:
			if !ok {
				return ErrWaitCancelled
			}
		}
	}
}

// Retry transitions from error back to connecting. Any other state is a
// programming error per §4.1.
func (c *Client) Retry() error {
	c.mu.Lock()
	if c.status.Kind != StatusError {
		c.mu.Unlock()
		return ErrNotInError
	}
	c.setStatusLocked(Status{Kind: StatusDisconnected})
	c.mu.Unlock()
	c.reconcile()
	return nil
}

// ExecuteToolCall delegates to the underlying MCP client and normalizes a
// legacy {toolResult} shape into a single text content block (§4.1).
func (c *Client) ExecuteToolCall(ctx context.Context, name string, input json.RawMessage) ([]models.ContentBlock, error) {
	c.mu.RLock()
	rpc := c.rpc
	c.mu.RUnlock()
	if rpc == nil {
		return nil, fmt.Errorf("mcp: server %q not connected", c.endpoint.ID)
	}

	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("mcp: unmarshal tool input: %w", err)
		}
	}
	result, err := rpc.CallTool(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return normalizeToolResult(result), nil
}

// normalizeToolResult converts the wire ToolCallResult into ContentBlocks,
// wrapping a legacy shape lacking structured content as a single text block.
func normalizeToolResult(result *ToolCallResult) []models.ContentBlock {
	if result == nil {
		return nil
	}
	if len(result.Content) == 0 {
		return nil
	}
	blocks := make([]models.ContentBlock, 0, len(result.Content))
	for _, c := range result.Content {
		switch c.Type {
		case "image":
			blocks = append(blocks, models.ContentBlock{Type: models.ContentImage, ImageBase64: c.Data, ImageMediaType: c.MimeType})
		default:
			blocks = append(blocks, models.ContentBlock{Type: models.ContentText, Text: c.Text})
		}
	}
	return blocks
}

// Dispose sets desired=disposed and awaits reaching disposed within 30s.
func (c *Client) Dispose() error {
	c.mu.Lock()
	c.desired = DesiredDisposed
	c.mu.Unlock()

	updates, unsub := c.Subscribe(8)
	defer unsub()

	c.reconcile()

	deadline := time.NewTimer(disposeTimeout)
	defer deadline.Stop()
	for {
		c.mu.RLock()
		done := c.status.Kind == StatusDisposed
		c.mu.RUnlock()
		if done {
			return nil
		}
		select {
		case <-deadline.C:
			return ErrDisposeTimeout
		case _, ok := <-updates:
			if !ok {
				return ErrDisposeTimeout
			}
		}
	}
}

// onOAuthRequired is invoked by the wrapped AuthProvider on every
// RedirectToAuthorization call (§4.1's OAuth interception).
func (c *Client) onOAuthRequired(url string) {
	c.mu.Lock()
	if c.status.Kind == StatusConnecting {
		c.setStatusLocked(Status{Kind: StatusConnecting, ConnectingSub: ConnectingAwaitingOAuth, OAuthURL: url})
	}
	c.mu.Unlock()
}

// setStatusLocked updates status and notifies subscribers. Caller must hold mu.
func (c *Client) setStatusLocked(next Status) {
	if c.status.Equal(next) {
		return
	}
	c.status = next
	for _, ch := range c.subs {
		select {
		case ch <- next:
		default:
			// Slow subscriber: drop rather than block the state machine,
			// matching the teacher's non-blocking status-stream convention.
		}
	}
}

// reconcile re-evaluates the guards in §4.1's transition table against the
// current (status, desired) pair and kicks off at most one async operation.
// It is safe to call redundantly; it is a no-op if no transition applies.
func (c *Client) reconcile() {
	c.mu.Lock()
	status, desired := c.status, c.desired
	c.generation++
	gen := c.generation

	switch status.Kind {
	case StatusDisconnected:
		switch desired {
		case DesiredDisposed:
			c.setStatusLocked(Status{Kind: StatusDisposed})
			c.mu.Unlock()
			return
		case DesiredConnected:
			c.setStatusLocked(Status{Kind: StatusConnecting, ConnectingSub: ConnectingInitializing})
			c.mu.Unlock()
			go c.runConnect(gen)
			return
		}

	case StatusConnecting:
		if desired != DesiredConnected {
			c.setStatusLocked(Status{Kind: StatusAborting})
			c.mu.Unlock()
			// The in-flight runConnect goroutine observes the generation
			// bump and finishes the abort by transitioning to disconnected.
			return
		}

	case StatusConnected:
		if desired != DesiredConnected {
			c.setStatusLocked(Status{Kind: StatusDisconnecting})
			c.mu.Unlock()
			go c.runDisconnect(gen, false)
			return
		}

	case StatusError:
		if desired != DesiredConnected {
			c.setStatusLocked(Status{Kind: StatusDisconnected})
			c.mu.Unlock()
			return
		}
		// desired == connected is handled by an explicit Retry() call only.

	case StatusAborting:
		// Waits for runConnect's cancellation to land on 'aborted'.

	case StatusDisconnecting, StatusDisconnectingDueToError, StatusDisposed:
		// Terminal-for-now or already tearing down; nothing to do here.
	}
	c.mu.Unlock()
}

// runConnect establishes the transport, performs MCP initialize + tool
// discovery, and lands the machine on connected.toolDiscovered, error, or
// (if aborted mid-flight) disconnected.
func (c *Client) runConnect(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rpc := newRPCClient(c.endpoint.serverConfig(), c.logger)
	err := rpc.Connect(ctx)

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		if err == nil {
			_ = rpc.Close()
		}
		return
	}
	if c.status.Kind == StatusAborting {
		c.setStatusLocked(Status{Kind: StatusDisconnected})
		c.mu.Unlock()
		if err == nil {
			_ = rpc.Close()
		}
		return
	}
	if err != nil {
		c.setStatusLocked(Status{Kind: StatusError, LastError: err})
		c.mu.Unlock()
		return
	}

	c.rpc = rpc
	c.setStatusLocked(Status{Kind: StatusConnected, ConnectedSub: ConnectedInitial})
	c.mu.Unlock()

	c.discoverTools(gen, rpc)
}

// discoverTools lists the server's tools and builds their ToolDescriptors,
// landing the machine on connected.toolDiscovered.
func (c *Client) discoverTools(gen int, rpc *rpcClient) {
	tools := rpc.Tools()
	descriptors := make([]ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		name := mcpToolName(c.endpoint.ID, t.Name)
		descriptors = append(descriptors, ToolDescriptor{
			Name:        name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Execute: func(ctx context.Context, input json.RawMessage) ([]models.ContentBlock, error) {
				return c.ExecuteToolCall(ctx, t.Name, input)
			},
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.status.Kind != StatusConnected {
		return
	}
	c.tools = descriptors
	c.setStatusLocked(Status{Kind: StatusConnected, ConnectedSub: ConnectedToolDiscovered})
}

// runDisconnect tears down the transport and lands on disconnected (or error
// if dueToError, from which a caller must explicitly Retry()).
func (c *Client) runDisconnect(gen int, dueToError bool) {
	c.mu.Lock()
	rpc := c.rpc
	c.rpc = nil
	c.tools = nil
	c.mu.Unlock()

	if rpc != nil {
		_ = rpc.Close()
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	if dueToError {
		c.setStatusLocked(Status{Kind: StatusError, LastError: c.status.LastError})
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(Status{Kind: StatusDisconnected})
	disposePending := c.desired == DesiredDisposed
	c.mu.Unlock()
	if disposePending {
		c.reconcile()
	}
}

// ReportConnectionError is called by the owning Manager (or the client
// itself, if it detects a transport-level failure post-connect) to drive a
// connected.* -> disconnectingDueToError -> error transition.
func (c *Client) ReportConnectionError(err error) {
	c.mu.Lock()
	if c.status.Kind != StatusConnected {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	c.setStatusLocked(Status{Kind: StatusDisconnectingDueToError, LastError: err})
	c.mu.Unlock()
	go c.runDisconnect(gen, true)
}
