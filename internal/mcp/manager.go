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

// ErrServerExists is returned by registerServer/registerServerFromRegistry
// when the endpoint's ID is already registered (§4.2).
var ErrServerExists = errors.New("mcp: server already registered")

// ErrServerNotFound is returned when an operation names an unknown server ID.
var ErrServerNotFound = errors.New("mcp: server not found")

// ErrToolExists is returned by registerTool on a name collision with another
// built-in tool.
var ErrToolExists = errors.New("mcp: tool already registered")

// ErrToolNotFound is returned by callTool when no built-in or MCP tool
// matches the requested name.
var ErrToolNotFound = errors.New("mcp: tool not found")

// ErrToolRejected is returned by callTool when the ApprovalHandler declines
// the call.
var ErrToolRejected = errors.New("mcp: tool call rejected")

const defaultConnectTimeout = 30 * time.Second

// serverEntry is the Manager's bookkeeping for one registered server: the
// state-machine client plus the subscription forwarding its status changes
// into Manager.events.
type serverEntry struct {
	client *Client
	unsub  func()
}

// Manager is the MCP Server Manager (§4.2): it owns every registered
// server's Client, exposes a merged tool list with built-ins shadowing MCP
// tools on a name collision, and gates every tool call through an
// ApprovalHandler, emitting the full pending/approved/rejected/result/
// error/cancelled sequence onto events$.
type Manager struct {
	mu sync.RWMutex

	logger   *slog.Logger
	approval ApprovalHandler
	registry RegistryCollaborator

	servers map[string]*serverEntry
	order   []string // registration order; later entries shadow earlier ones on tool-name collision

	builtins map[string]ToolDescriptor
	schemas  *schemaValidator

	subs      map[int]chan Event
	nextSubID int
	disposed  bool
}

// NewManager constructs an empty Manager. approval may be nil, defaulting to
// AutoApprove; registry may be nil if registerServerFromRegistry is unused.
func NewManager(logger *slog.Logger, approval ApprovalHandler, registry RegistryCollaborator) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if approval == nil {
		approval = AutoApprove
	}
	return &Manager{
		logger:   logger.With("component", "mcp"),
		approval: approval,
		registry: registry,
		servers:  make(map[string]*serverEntry),
		builtins: make(map[string]ToolDescriptor),
		schemas:  newSchemaValidator(),
		subs:     make(map[int]chan Event),
	}
}

// Events subscribes to the merged lifecycle + tool-dispatch stream. The
// returned function unsubscribes.
func (m *Manager) Events(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) publish(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// registerServer adds a new MCP server endpoint. Per §4.2, server_added is
// emitted before the manager subscribes to the client's status stream; if
// enabled, registerServer blocks until the client reaches
// connected.toolDiscovered or ctx is cancelled.
func (m *Manager) registerServer(ctx context.Context, endpoint ServerEndpoint, enabled bool, source ServerSource, auth AuthProvider) error {
	if err := endpoint.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return errors.New("mcp: manager disposed")
	}
	if _, exists := m.servers[endpoint.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerExists, endpoint.ID)
	}
	client := NewClient(endpoint, source, auth, m.logger)
	entry := &serverEntry{client: client}
	m.servers[endpoint.ID] = entry
	m.order = append(m.order, endpoint.ID)
	m.mu.Unlock()

	m.publish(Event{Type: EventServerAdded, ServerID: endpoint.ID, Endpoint: endpoint})

	statusCh, unsub := client.Subscribe(16)
	entry.unsub = unsub
	go m.forwardStatus(endpoint.ID, statusCh)

	if !enabled {
		return nil
	}
	client.SetDesiredEnabled(true)
	return client.WaitForConnection(ctx, defaultConnectTimeout)
}

// registerServerFromRegistry resolves packageIdentifier through the
// RegistryCollaborator before delegating to registerServer (§4.2, §6).
func (m *Manager) registerServerFromRegistry(ctx context.Context, packageIdentifier string, enabled bool, auth AuthProvider) error {
	if m.registry == nil {
		return errors.New("mcp: no registry collaborator configured")
	}
	detail, err := m.registry.RetrieveByPackage(ctx, packageIdentifier, "")
	if err != nil {
		return fmt.Errorf("mcp: resolve registry package %q: %w", packageIdentifier, err)
	}
	return m.registerServer(ctx, detail.Endpoint, enabled, RegistrySource(packageIdentifier), auth)
}

// forwardStatus republishes one client's status updates as
// client_status_changed events until the channel is closed (on unsubscribe).
func (m *Manager) forwardStatus(serverID string, statusCh <-chan Status) {
	for status := range statusCh {
		m.publish(Event{Type: EventClientStatusChanged, ServerID: serverID, Status: status})
	}
}

// deregisterServer disposes the named server's client before removing it and
// emitting server_removed, per §4.2's teardown-before-notify ordering.
func (m *Manager) deregisterServer(id string) error {
	m.mu.Lock()
	entry, ok := m.servers[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	delete(m.servers, id)
	m.order = removeString(m.order, id)
	m.mu.Unlock()

	if err := entry.client.Dispose(); err != nil {
		m.logger.Warn("mcp server disposal error", "server", id, "err", err)
	}
	if entry.unsub != nil {
		entry.unsub()
	}

	m.publish(Event{Type: EventServerRemoved, ServerID: id})
	return nil
}

// updateServer changes a registered server's endpoint and/or enabled flag.
// Changing the endpoint re-creates the underlying client (the old one is
// disposed first); toggling enabled alone just flips SetDesiredEnabled.
func (m *Manager) updateServer(ctx context.Context, id string, endpoint *ServerEndpoint, enabled *bool) error {
	m.mu.RLock()
	entry, ok := m.servers[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}

	if endpoint != nil {
		if err := endpoint.Validate(); err != nil {
			return err
		}
		if endpoint.ID != id {
			return fmt.Errorf("mcp: updateServer cannot change server id %q -> %q", id, endpoint.ID)
		}
		source := entry.client.Source()
		wasEnabled := entry.client.DesiredEnabled()
		if err := m.deregisterServer(id); err != nil {
			return err
		}
		want := wasEnabled
		if enabled != nil {
			want = *enabled
		}
		if err := m.registerServer(ctx, *endpoint, want, source, nil); err != nil {
			return err
		}
		m.publish(Event{Type: EventServerUpdated, ServerID: id, Endpoint: *endpoint})
		return nil
	}

	if enabled != nil {
		entry.client.SetDesiredEnabled(*enabled)
		if *enabled {
			if err := entry.client.WaitForConnection(ctx, defaultConnectTimeout); err != nil {
				return err
			}
		}
	}
	m.publish(Event{Type: EventServerUpdated, ServerID: id, Endpoint: entry.client.Endpoint()})
	return nil
}

// registerTool adds a built-in tool, which always shadows any MCP-sourced
// tool of the same name (§3, §4.2).
func (m *Manager) registerTool(tool ToolDescriptor) error {
	if tool.Name == "" {
		return errors.New("mcp: tool name must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.builtins[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, tool.Name)
	}
	m.builtins[tool.Name] = tool
	return nil
}

// tools returns the computed view over every built-in and discovered MCP
// tool. Built-ins always win a name collision; among MCP servers, a later
// registration shadows an earlier one for the same namespaced name (decided
// in DESIGN.md, since §9 leaves collision ordering unspecified).
func (m *Manager) tools() []ToolDescriptor {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	servers := make(map[string]*serverEntry, len(m.servers))
	for k, v := range m.servers {
		servers[k] = v
	}
	builtins := make(map[string]ToolDescriptor, len(m.builtins))
	for k, v := range m.builtins {
		builtins[k] = v
	}
	m.mu.RUnlock()

	merged := make(map[string]ToolDescriptor)
	for _, id := range order {
		entry, ok := servers[id]
		if !ok {
			continue
		}
		for _, t := range entry.client.Tools() {
			merged[t.Name] = t
		}
	}
	for name, t := range builtins {
		merged[name] = t
	}

	out := make([]ToolDescriptor, 0, len(merged))
	for _, t := range merged {
		out = append(out, t)
	}
	return out
}

// findTool resolves a tool by name under the same shadowing rule as tools().
func (m *Manager) findTool(name string) (ToolDescriptor, bool) {
	m.mu.RLock()
	if t, ok := m.builtins[name]; ok {
		m.mu.RUnlock()
		return t, true
	}
	order := append([]string(nil), m.order...)
	servers := make(map[string]*serverEntry, len(m.servers))
	for k, v := range m.servers {
		servers[k] = v
	}
	m.mu.RUnlock()

	var found ToolDescriptor
	ok := false
	for _, id := range order {
		entry, exists := servers[id]
		if !exists {
			continue
		}
		if t, has := entry.client.GetTool(name); has {
			found, ok = t, true
		}
	}
	return found, ok
}

// callTool runs the full dispatch sequence for one tool call (§4.2, §4.5):
// pending_approval, then either rejected or approved, then result/error, or
// cancelled if ctx is done before execution completes.
func (m *Manager) callTool(ctx context.Context, toolUseID, name string, input json.RawMessage) ([]models.ContentBlock, error) {
	tool, ok := m.findTool(name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrToolNotFound, name)
		m.publish(Event{Type: EventToolUseError, ToolUseID: toolUseID, ToolName: name, ToolInput: input, Err: err.Error()})
		return nil, err
	}

	if err := m.schemas.validate(name, tool.InputSchema, input); err != nil {
		m.publish(Event{Type: EventToolUseError, ToolUseID: toolUseID, ToolName: name, ToolInput: input, Err: err.Error()})
		return nil, err
	}

	m.publish(Event{Type: EventToolUsePendingApproval, ToolUseID: toolUseID, ToolName: name, ToolInput: input})

	approved, err := m.approval(ctx, name, input)
	if err != nil {
		m.publish(Event{Type: EventToolUseRejected, ToolUseID: toolUseID, ToolName: name, ToolInput: input, Reason: err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrToolRejected, err)
	}
	if !approved {
		m.publish(Event{Type: EventToolUseRejected, ToolUseID: toolUseID, ToolName: name, ToolInput: input, Reason: "declined"})
		return nil, ErrToolRejected
	}
	m.publish(Event{Type: EventToolUseApproved, ToolUseID: toolUseID, ToolName: name, ToolInput: input})

	result, execErr := tool.Execute(ctx, input)
	if execErr != nil {
		if ctx.Err() != nil {
			m.publish(Event{Type: EventToolUseCancelled, ToolUseID: toolUseID, ToolName: name, ToolInput: input, Reason: ctx.Err().Error()})
			return nil, ctx.Err()
		}
		m.publish(Event{Type: EventToolUseError, ToolUseID: toolUseID, ToolName: name, ToolInput: input, Err: execErr.Error()})
		return nil, execErr
	}

	m.publish(Event{Type: EventToolUseResult, ToolUseID: toolUseID, ToolName: name, ToolInput: input, ToolResult: result})
	return result, nil
}

// dispose tears down every registered server's client and closes every
// event subscriber channel.
func (m *Manager) dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	m.servers = make(map[string]*serverEntry)
	m.order = nil
	subs := m.subs
	m.subs = make(map[int]chan Event)
	m.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.client.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
		if e.unsub != nil {
			e.unsub()
		}
	}
	for _, ch := range subs {
		close(ch)
	}
	return firstErr
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, item := range s {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
