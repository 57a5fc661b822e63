// Package gateway exposes a Session Facade over a websocket control plane:
// one frame-based protocol for starting a task, streaming its Task Event
// Bus, cancelling it, and listing checkpoints, grounded on the teacher's
// ws_control_plane design but trimmed to zypher-agent's single-session,
// single-workspace scope (no gRPC/protobuf fan-out, no multi-channel auth).
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/CoreSpeed-io/zypher-agent/internal/session"
)

// Server upgrades incoming HTTP connections to the websocket control plane
// for a single Session Facade.
type Server struct {
	session  *session.Session
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer constructs a Server over sess. logger defaults to slog.Default.
func NewServer(sess *session.Session, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		session: sess,
		logger:  logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the http.Handler that upgrades a connection and serves
// the control plane frame protocol over it.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	newConn(s, conn).run(r.Context())
}
