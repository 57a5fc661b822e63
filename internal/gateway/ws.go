package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CoreSpeed-io/zypher-agent/internal/agent"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPingInterval    = 30 * time.Second
)

// frame is the control-plane wire message: a request ("req"), a response
// ("res"), or a streamed event ("event"). Exactly one of Method/Event is set.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type runParams struct {
	Text               string   `json:"text"`
	AttachmentFileIDs  []string `json:"attachmentFileIds,omitempty"`
	MaxIterations      int      `json:"maxIterations,omitempty"`
	TaskTimeoutSeconds int      `json:"taskTimeoutSeconds,omitempty"`
	UserID             string   `json:"userId,omitempty"`
}

type applyCheckpointParams struct {
	ID string `json:"id"`
}

// conn is one client's view of the control plane: a read loop that
// dispatches requests and a write loop that serializes frames (including
// streamed task events) onto a single websocket connection.
type conn struct {
	server *Server
	ws     *websocket.Conn
	send   chan frame
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	return &conn{server: s, ws: ws, send: make(chan frame, 64)}
}

func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.ws.Close()

	go c.writeLoop(ctx)
	c.readLoop(ctx)
}

func (c *conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(wsMaxPayloadBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.sendError("", fmt.Sprintf("invalid frame: %v", err))
			continue
		}
		c.handle(ctx, f)
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case f, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteJSON(f); err != nil {
				return
			}
		}
	}
}

func (c *conn) handle(ctx context.Context, f frame) {
	switch f.Method {
	case "task.run":
		c.handleRun(ctx, f)
	case "task.cancel":
		c.server.session.Cancel()
		c.sendOK(f.ID, map[string]any{"status": "cancelled"})
	case "checkpoint.list":
		c.handleCheckpointList(ctx, f)
	case "checkpoint.apply":
		c.handleCheckpointApply(ctx, f)
	default:
		c.sendError(f.ID, fmt.Sprintf("unknown method %q", f.Method))
	}
}

func (c *conn) handleRun(ctx context.Context, f frame) {
	var params runParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		c.sendError(f.ID, err.Error())
		return
	}

	opts := agent.RunTaskOptions{
		MaxIterations: params.MaxIterations,
		UserID:        params.UserID,
	}
	if params.TaskTimeoutSeconds > 0 {
		opts.TaskTimeout = time.Duration(params.TaskTimeoutSeconds) * time.Second
	}

	bus, err := c.server.session.RunTask(ctx, params.Text, params.AttachmentFileIDs, opts)
	if err != nil {
		c.sendError(f.ID, err.Error())
		return
	}
	c.sendOK(f.ID, map[string]any{"status": "started"})

	sub, unsubscribe := bus.Subscribe(32)
	go func() {
		defer unsubscribe()
		for ev := range sub {
			select {
			case c.send <- frame{Type: "event", Event: "task", Payload: ev}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *conn) handleCheckpointList(ctx context.Context, f frame) {
	checkpoints, err := c.server.session.Checkpoints().ListCheckpoints(ctx)
	if err != nil {
		c.sendError(f.ID, err.Error())
		return
	}
	c.sendOK(f.ID, checkpoints)
}

func (c *conn) handleCheckpointApply(ctx context.Context, f frame) {
	var params applyCheckpointParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		c.sendError(f.ID, err.Error())
		return
	}
	if err := c.server.session.ApplyCheckpoint(ctx, params.ID); err != nil {
		c.sendError(f.ID, err.Error())
		return
	}
	c.sendOK(f.ID, map[string]any{"status": "applied"})
}

func (c *conn) sendOK(id string, payload any) {
	ok := true
	c.send <- frame{Type: "res", ID: id, OK: &ok, Payload: payload}
}

func (c *conn) sendError(id, msg string) {
	ok := false
	c.send <- frame{Type: "res", ID: id, OK: &ok, Error: msg}
}
