package mcp

import (
	"context"
	"encoding/json"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// This file is the Manager's exported surface. The methods themselves stay
// unexported (and are exercised directly by this package's own tests);
// everything outside package mcp — the Agent Runner, the CLI shell — goes
// through these thin wrappers instead.

// RegisterServer adds a new MCP server endpoint (§4.2).
func (m *Manager) RegisterServer(ctx context.Context, endpoint ServerEndpoint, enabled bool, source ServerSource, auth AuthProvider) error {
	return m.registerServer(ctx, endpoint, enabled, source, auth)
}

// RegisterServerFromRegistry resolves packageIdentifier through the
// configured RegistryCollaborator before registering it.
func (m *Manager) RegisterServerFromRegistry(ctx context.Context, packageIdentifier string, enabled bool, auth AuthProvider) error {
	return m.registerServerFromRegistry(ctx, packageIdentifier, enabled, auth)
}

// DeregisterServer tears down and removes a registered server.
func (m *Manager) DeregisterServer(id string) error {
	return m.deregisterServer(id)
}

// UpdateServer changes a registered server's endpoint and/or enabled flag.
func (m *Manager) UpdateServer(ctx context.Context, id string, endpoint *ServerEndpoint, enabled *bool) error {
	return m.updateServer(ctx, id, endpoint, enabled)
}

// RegisterTool adds a built-in tool that always shadows same-named MCP tools.
func (m *Manager) RegisterTool(tool ToolDescriptor) error {
	return m.registerTool(tool)
}

// Tools returns the merged built-in + MCP tool view (§4.2's shadowing rule).
func (m *Manager) Tools() []ToolDescriptor {
	return m.tools()
}

// FindTool resolves a single tool by name under the same shadowing rule.
func (m *Manager) FindTool(name string) (ToolDescriptor, bool) {
	return m.findTool(name)
}

// CallTool runs the full approval/dispatch sequence for one tool call and
// satisfies interceptor.ToolCaller.
func (m *Manager) CallTool(ctx context.Context, toolUseID, name string, input json.RawMessage) ([]models.ContentBlock, error) {
	return m.callTool(ctx, toolUseID, name, input)
}

// Dispose tears down every registered server and closes every subscriber.
func (m *Manager) Dispose() error {
	return m.dispose()
}
