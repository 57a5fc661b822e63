// Package session implements the Session Facade (C8): the outward-facing
// handle a caller holds for one workspace's agent — runTask/wait/
// clearMessages/applyCheckpoint plus read-only accessors — backed by a
// modernc.org/sqlite-persisted message history so a crash doesn't lose
// conversation state (§4.8).
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CoreSpeed-io/zypher-agent/internal/agent"
	"github.com/CoreSpeed-io/zypher-agent/internal/checkpoint"
	"github.com/CoreSpeed-io/zypher-agent/internal/eventbus"
	"github.com/CoreSpeed-io/zypher-agent/internal/mcp"
	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// ErrDisposed is returned by every Session operation once Dispose has run.
var ErrDisposed = errors.New("session: disposed")

// Session is the Session Facade (§4.8). It owns the Agent Runner, the MCP
// Server Manager, and the Checkpoint Store for one workspace, and persists
// message history to sqlite as tasks progress.
type Session struct {
	runner      *agent.Runner
	manager     *mcp.Manager
	checkpoints *checkpoint.Store
	logger      *slog.Logger

	db *sql.DB

	mu       sync.Mutex
	disposed bool
	doneCh   chan struct{}
}

// Open opens (creating if necessary) the sqlite database at dbPath, loads
// any persisted message history into runner, and returns a ready Session.
func Open(dbPath string, runner *agent.Runner, manager *mcp.Manager, checkpoints *checkpoint.Store, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("session: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: ping db: %w", err)
	}

	s := &Session{runner: runner, manager: manager, checkpoints: checkpoints, logger: logger.With("component", "session"), db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadHistory(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			role          TEXT NOT NULL,
			content       TEXT NOT NULL,
			timestamp     TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return fmt.Errorf("session: migrate: %w", err)
	}
	return nil
}

func (s *Session) loadHistory() error {
	rows, err := s.db.Query(`SELECT role, content, timestamp, checkpoint_id FROM messages ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("session: load history: %w", err)
	}
	defer rows.Close()

	var loaded []models.Message
	for rows.Next() {
		var role, content, ts, checkpointID string
		if err := rows.Scan(&role, &content, &ts, &checkpointID); err != nil {
			return fmt.Errorf("session: scan message: %w", err)
		}
		var blocks []models.ContentBlock
		if err := json.Unmarshal([]byte(content), &blocks); err != nil {
			return fmt.Errorf("session: unmarshal message content: %w", err)
		}
		timestamp, _ := time.Parse(time.RFC3339Nano, ts)
		loaded = append(loaded, models.Message{
			Role:         models.Role(role),
			Content:      blocks,
			Timestamp:    timestamp,
			CheckpointID: checkpointID,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("session: load history: %w", err)
	}

	s.runner.SetMessages(loaded)
	return nil
}

func (s *Session) persistMessage(msg models.Message) {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		s.logger.Error("marshal message for persistence", "error", err)
		return
	}
	_, err = s.db.Exec(
		`INSERT INTO messages (role, content, timestamp, checkpoint_id) VALUES (?, ?, ?, ?)`,
		string(msg.Role), string(content), msg.Timestamp.Format(time.RFC3339Nano), msg.CheckpointID,
	)
	if err != nil {
		s.logger.Error("persist message", "error", err)
	}
}

// RunTask starts a task through the Agent Runner and returns its event bus.
// Per §4.8, this throws ErrDisposed once the session is disposed.
func (s *Session) RunTask(ctx context.Context, text string, attachmentFileIDs []string, opts agent.RunTaskOptions) (*eventbus.Bus, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}
	doneCh := make(chan struct{})
	s.doneCh = doneCh
	s.mu.Unlock()

	bus, err := s.runner.RunTask(ctx, text, attachmentFileIDs, opts)
	if err != nil {
		close(doneCh)
		return nil, err
	}

	sub, unsubscribe := bus.Subscribe(32)
	go func() {
		defer unsubscribe()
		defer close(doneCh)
		for ev := range sub {
			if ev.Type == models.TaskEventMessage && ev.Message != nil {
				s.persistMessage(*ev.Message)
			}
		}
	}()

	return bus, nil
}

// Wait blocks until the in-flight task (if any) completes, or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	doneCh := s.doneCh
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	if doneCh == nil {
		return nil
	}
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearMessages wipes message history from both the in-memory runner and
// the persisted store.
func (s *Session) ClearMessages() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if _, err := s.db.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("session: clear messages: %w", err)
	}
	s.runner.SetMessages(nil)
	return nil
}

// ApplyCheckpoint delegates to the Checkpoint Store, then truncates message
// history to the entries strictly before the first message whose
// CheckpointID matches id (§4.8).
func (s *Session) ApplyCheckpoint(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.mu.Unlock()

	if _, err := s.checkpoints.ApplyCheckpoint(ctx, id, false); err != nil {
		return fmt.Errorf("session: apply checkpoint: %w", err)
	}

	msgs := s.runner.Messages()
	truncateAt := len(msgs)
	for i, m := range msgs {
		if m.CheckpointID == id {
			truncateAt = i
			break
		}
	}
	s.runner.SetMessages(msgs[:truncateAt])

	if _, err := s.db.Exec(`DELETE FROM messages WHERE seq NOT IN (SELECT seq FROM messages ORDER BY seq ASC LIMIT ?)`, truncateAt); err != nil {
		return fmt.Errorf("session: truncate persisted history: %w", err)
	}
	return nil
}

// MCP returns the underlying MCP Server Manager.
func (s *Session) MCP() *mcp.Manager {
	return s.manager
}

// Checkpoints returns the underlying Checkpoint Store.
func (s *Session) Checkpoints() *checkpoint.Store {
	return s.checkpoints
}

// Cancel aborts the in-flight task, if any, without disposing the session.
func (s *Session) Cancel() {
	s.runner.Cancel()
}

// Messages returns a read-only snapshot of the current message history.
func (s *Session) Messages() []models.Message {
	return s.runner.Messages()
}

// Dispose tears down the session: it cancels any in-flight task and closes
// the database. Every other method returns ErrDisposed afterward.
func (s *Session) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	s.mu.Unlock()

	s.runner.Cancel()
	if s.checkpoints != nil {
		_ = s.checkpoints.Close()
	}
	return s.db.Close()
}
