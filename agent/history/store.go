// Package history keeps the human-readable chat log: named sessions and the
// messages exchanged in them. It is separate from the checkpoint store and is
// never read back into the graph.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/grooming-reservation-agent/agent/contract"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
	_ "modernc.org/sqlite"
)

// Config is loaded with the HISTORY prefix.
type Config struct {
	Path string `envconfig:"PATH" default:"data/chat_history.db"`
}

type Session struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Message struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id"`
	Role      statex.Role `json:"role"`
	Content   string      `json:"content"`
	ToolName  string      `json:"tool_name,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Store implements contract.ChatLog on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ contractx.ChatLog = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: history path is required", contractx.ErrValidation)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES chat_sessions (id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSession(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, fmt.Errorf("%w: session name is empty", contractx.ErrValidation)
	}
	sess := Session{ID: uuid.NewString(), Name: name, CreatedAt: s.now().UTC().Truncate(time.Second)}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, name, phone_number, created_at) VALUES (?, ?, '', ?)`,
		sess.ID, sess.Name, sess.CreatedAt.Unix(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone_number, created_at FROM chat_sessions ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var createdAt int64
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.PhoneNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) Rename(ctx context.Context, sessionID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: session name is empty", contractx.ErrValidation)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET name = ? WHERE id = ?`, name, sessionID)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return requireRow(res, sessionID)
}

// Delete removes the session's messages first, then the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := requireRow(res, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetPhoneNumber(ctx context.Context, sessionID, phone string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET phone_number = ? WHERE id = ?`, strings.TrimSpace(phone), sessionID)
	if err != nil {
		return fmt.Errorf("update phone number: %w", err)
	}
	return requireRow(res, sessionID)
}

func (s *Store) PhoneNumber(ctx context.Context, sessionID string) (string, error) {
	var phone string
	err := s.db.QueryRowContext(ctx, `SELECT phone_number FROM chat_sessions WHERE id = ?`, sessionID).Scan(&phone)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: session %s", contractx.ErrNotFound, sessionID)
	}
	if err != nil {
		return "", fmt.Errorf("get phone number: %w", err)
	}
	return phone, nil
}

// Append records turns in order. Sessions that were never created through
// CreateSession are registered under their id.
func (s *Store) Append(ctx context.Context, sessionID string, turns []statex.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, name, phone_number, created_at) VALUES (?, ?, '', ?) ON CONFLICT(id) DO NOTHING`,
		sessionID, sessionID, s.now().UTC().Unix(),
	); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (session_id, role, content, tool_name, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, t := range turns {
		content := t.Content
		toolName := t.ToolName
		if content == "" && t.ToolCall != nil {
			content = "[tool call] " + t.ToolCall.Name
			toolName = t.ToolCall.Name
		}
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
		}
		if _, err := stmt.ExecContext(ctx, sessionID, string(t.Role), content, toolName, createdAt.UTC().Unix()); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) Load(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tool_name, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.ToolName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = statex.Role(role)
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s", contractx.ErrNotFound, sessionID)
	}
	return nil
}
