package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"agentd/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	memory TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(user_id, name)
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_name TEXT NOT NULL DEFAULT '',
	tool_calls TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	host_path TEXT NOT NULL,
	name TEXT NOT NULL,
	uploaded_at DATETIME NOT NULL
);
`

// SQLiteStore is the default Store implementation, backed by modernc.org/sqlite
// (pure Go, no cgo required).
type SQLiteStore struct {
	db          *sql.DB
	memoryLimit int
}

// NewSQLiteStore opens (creating if absent) the sqlite database at path and
// applies the schema. memoryLimit bounds the per-user memory blob in bytes;
// <=0 means DefaultMemoryLimit.
func NewSQLiteStore(path string, memoryLimit int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc sqlite serializes writers anyway; keep it simple.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if memoryLimit <= 0 {
		memoryLimit = DefaultMemoryLimit
	}
	return &SQLiteStore{db: db, memoryLimit: memoryLimit}, nil
}

// DefaultMemoryLimit is the fallback MEMORY_LIMIT (bytes) when config omits it.
const DefaultMemoryLimit = 64 * 1024

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) UpsertUser(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `SELECT id, username, memory, created_at FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.Memory, &u.CreatedAt)
	if err == nil {
		return &u, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	u = models.User{ID: uuid.NewString(), Username: username, CreatedAt: now()}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username, memory, created_at) VALUES (?, ?, '', ?)`,
		u.ID, u.Username, u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStore) UpsertSession(ctx context.Context, userID, name string) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, status, created_at, updated_at FROM sessions WHERE user_id = ? AND name = ?`,
		userID, name).Scan(&sess.ID, &sess.UserID, &sess.Name, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if err == nil {
		return &sess, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	ts := now()
	sess = models.Session{
		ID: uuid.NewString(), UserID: userID, Name: name,
		Status: models.StatusIdle, CreatedAt: ts, UpdatedAt: ts,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, name, status, created_at, updated_at) VALUES (?,?,?,?,?,?)`,
		sess.ID, sess.UserID, sess.Name, sess.Status, sess.CreatedAt, sess.UpdatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, status, created_at, updated_at FROM sessions WHERE id = ?`, sessionID).
		Scan(&sess.ID, &sess.UserID, &sess.Name, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`, status, now(), sessionID)
	return err
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, status, created_at, updated_at FROM sessions WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Name, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, tool_name, tool_calls, metadata, created_at) VALUES (?,?,?,?,?,?,?,?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.ToolName, string(toolCalls), string(meta), msg.CreatedAt)
	return err
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, opts ListOptions) ([]*models.Message, error) {
	q := `SELECT id, session_id, role, content, tool_name, tool_calls, metadata, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC`
	args := []any{sessionID}
	if opts.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var toolCalls, meta string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ToolName, &toolCalls, &meta, &m.CreatedAt); err != nil {
			return nil, err
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, err
			}
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ResetHistory(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

func (s *SQLiteStore) GetMemory(ctx context.Context, userID string) (string, error) {
	var memory string
	err := s.db.QueryRowContext(ctx, `SELECT memory FROM users WHERE id = ?`, userID).Scan(&memory)
	return memory, err
}

// SetMemory stores memory, truncating to the store's memory limit (spec
// invariant: memory blob <= MEMORY_LIMIT bytes after set).
func (s *SQLiteStore) SetMemory(ctx context.Context, userID string, memory string) error {
	if len(memory) > s.memoryLimit {
		memory = memory[:s.memoryLimit]
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET memory = ? WHERE id = ?`, memory, userID)
	return err
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, host_path, name, uploaded_at) VALUES (?,?,?,?,?)`,
		doc.ID, doc.UserID, doc.HostPath, doc.Name, doc.UploadedAt)
	return err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, userID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, host_path, name, uploaded_at FROM documents WHERE user_id = ? ORDER BY uploaded_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.HostPath, &d.Name, &d.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
