package mcp

import "context"

// ServerDetail is a registry entry convertible to a ServerEndpoint (§6).
type ServerDetail struct {
	PackageIdentifier string
	Name              string
	Endpoint          ServerEndpoint
}

// RegistryPage is one page of a registry listing.
type RegistryPage struct {
	Servers    []ServerDetail
	NextCursor string
}

// RegistryCollaborator resolves `@scope/name` package identifiers to
// concrete server endpoints (§6). It is an external collaborator; the core
// only ever calls it through this interface.
type RegistryCollaborator interface {
	ListServers(ctx context.Context, cursor string, limit int) (RegistryPage, error)
	RetrieveByPackage(ctx context.Context, name, scope string) (ServerDetail, error)
}
