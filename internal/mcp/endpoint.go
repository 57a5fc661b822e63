package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// ServerIDPattern is the validity regex for a Server Endpoint's ID (§3, §6):
// it is enforced at registration time to keep MCP-derived tool names
// (mcp__<serverId>__<originalName>) valid downstream.
var ServerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// EndpointKind discriminates the ServerEndpoint tagged union.
type EndpointKind string

const (
	EndpointCommand EndpointKind = "command"
	EndpointRemote  EndpointKind = "remote"
)

// ServerEndpoint identifies one MCP server (§3): a kebab-case ID, an
// optional display name, and one of two transport variants.
type ServerEndpoint struct {
	ID   string
	Name string
	Kind EndpointKind

	// command variant
	Command string
	Args    []string
	Env     map[string]string

	// remote variant
	URL     string
	Headers map[string]string
}

// Validate checks the ID format and that exactly the fields for Kind are
// populated.
func (e ServerEndpoint) Validate() error {
	if !ServerIDPattern.MatchString(e.ID) {
		return fmt.Errorf("mcp: invalid server id %q: must match %s", e.ID, ServerIDPattern.String())
	}
	switch e.Kind {
	case EndpointCommand:
		if e.Command == "" {
			return fmt.Errorf("mcp: server %q: command is required", e.ID)
		}
	case EndpointRemote:
		if e.URL == "" {
			return fmt.Errorf("mcp: server %q: url is required", e.ID)
		}
	default:
		return fmt.Errorf("mcp: server %q: unknown endpoint kind %q", e.ID, e.Kind)
	}
	return nil
}

// serverConfig converts the endpoint into the transport-layer ServerConfig
// consumed by NewTransport.
func (e ServerEndpoint) serverConfig() *ServerConfig {
	cfg := &ServerConfig{ID: e.ID, Name: e.Name}
	switch e.Kind {
	case EndpointCommand:
		cfg.Transport = TransportStdio
		cfg.Command = e.Command
		cfg.Args = e.Args
		cfg.Env = e.Env
	case EndpointRemote:
		cfg.Transport = TransportHTTP
		cfg.URL = e.URL
		cfg.Headers = e.Headers
	}
	return cfg
}

// SourceKind discriminates the ServerSource tagged union.
type SourceKind string

const (
	SourceDirect   SourceKind = "direct"
	SourceRegistry SourceKind = "registry"
)

// ServerSource records how a server was registered, carried alongside the
// endpoint for observability (§3). It has no effect on lifecycle behavior.
type ServerSource struct {
	Kind              SourceKind
	PackageIdentifier string // set iff Kind == SourceRegistry
}

// DirectSource is the ServerSource for endpoints registered with explicit
// config.
var DirectSource = ServerSource{Kind: SourceDirect}

// RegistrySource builds a ServerSource for an endpoint resolved from a
// registry package identifier.
func RegistrySource(packageIdentifier string) ServerSource {
	return ServerSource{Kind: SourceRegistry, PackageIdentifier: packageIdentifier}
}

// ToolDescriptor (§3) is a tool's name, description, schemas, and the
// closure that invokes it. Tool names sourced from MCP are namespaced
// mcp__<serverId>__<originalName> so they are globally unique across
// servers; built-in tools registered directly on the Manager keep their
// bare name.
type ToolDescriptor struct {
	Name         string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Execute      func(ctx context.Context, input json.RawMessage) ([]models.ContentBlock, error)
}

// mcpToolName builds the namespaced tool name for a tool discovered from
// server serverID.
func mcpToolName(serverID, originalName string) string {
	return fmt.Sprintf("mcp__%s__%s", serverID, originalName)
}
