package mcp

import "fmt"

// DesiredState is the caller-declared target state for an MCP client (§3).
// The client reconciles asynchronously towards it.
type DesiredState string

const (
	DesiredConnected    DesiredState = "connected"
	DesiredDisconnected DesiredState = "disconnected"
	DesiredDisposed     DesiredState = "disposed"
)

// StatusKind is the top-level state of the MCP client state machine (§4.1).
type StatusKind string

const (
	StatusDisconnected            StatusKind = "disconnected"
	StatusConnecting              StatusKind = "connecting"
	StatusConnected               StatusKind = "connected"
	StatusDisconnecting           StatusKind = "disconnecting"
	StatusDisconnectingDueToError StatusKind = "disconnectingDueToError"
	StatusError                   StatusKind = "error"
	StatusAborting                StatusKind = "aborting"
	StatusDisposed                StatusKind = "disposed"
)

// ConnectingSubstate is valid iff Status.Kind == StatusConnecting.
type ConnectingSubstate string

const (
	ConnectingInitializing  ConnectingSubstate = "initializing"
	ConnectingAwaitingOAuth ConnectingSubstate = "awaitingOAuth"
)

// ConnectedSubstate is valid iff Status.Kind == StatusConnected.
type ConnectedSubstate string

const (
	ConnectedInitial        ConnectedSubstate = "initial"
	ConnectedToolDiscovered ConnectedSubstate = "toolDiscovered"
)

// Status is the full state-machine value observed through status$. It is
// compared by deep equality to de-duplicate the stream (§4.1).
type Status struct {
	Kind StatusKind

	ConnectingSub ConnectingSubstate // set iff Kind == StatusConnecting
	ConnectedSub  ConnectedSubstate  // set iff Kind == StatusConnected

	// OAuthURL is defined iff Kind == StatusConnecting && ConnectingSub == ConnectingAwaitingOAuth.
	OAuthURL string

	// LastError is defined iff Kind == StatusError.
	LastError error
}

// Equal reports deep equality, treating two non-nil LastErrors as equal iff
// their messages match (errors generally aren't comparable with ==).
func (s Status) Equal(other Status) bool {
	if s.Kind != other.Kind || s.ConnectingSub != other.ConnectingSub ||
		s.ConnectedSub != other.ConnectedSub || s.OAuthURL != other.OAuthURL {
		return false
	}
	switch {
	case s.LastError == nil && other.LastError == nil:
		return true
	case s.LastError == nil || other.LastError == nil:
		return false
	default:
		return s.LastError.Error() == other.LastError.Error()
	}
}

func (s Status) String() string {
	switch s.Kind {
	case StatusConnecting:
		return fmt.Sprintf("connecting.%s", s.ConnectingSub)
	case StatusConnected:
		return fmt.Sprintf("connected.%s", s.ConnectedSub)
	case StatusError:
		return fmt.Sprintf("error(%v)", s.LastError)
	default:
		return string(s.Kind)
	}
}

// IsToolDiscovered reports whether the client is in connected.toolDiscovered,
// the only substate in which the tool list invariant (§3) holds non-empty.
func (s Status) IsToolDiscovered() bool {
	return s.Kind == StatusConnected && s.ConnectedSub == ConnectedToolDiscovered
}
