// Package sessions implements the conversation store adapter (spec §4.8):
// user/session/message persistence and the per-user memory blob.
package sessions

import (
	"context"
	"time"

	"agentd/pkg/models"
)

// ListOptions filters a message listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store is the conversation store adapter. Implementations must be safe
// against concurrent appends from one process; cross-process safety is not
// required.
type Store interface {
	// UpsertUser creates the user on first reference, otherwise returns the
	// existing row.
	UpsertUser(ctx context.Context, username string) (*models.User, error)

	// UpsertSession creates a session by (user, name) on first reference.
	UpsertSession(ctx context.Context, userID, name string) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
	ListSessions(ctx context.Context, userID string) ([]*models.Session, error)

	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, sessionID string, opts ListOptions) ([]*models.Message, error)
	ResetHistory(ctx context.Context, sessionID string) error

	GetMemory(ctx context.Context, userID string) (string, error)
	SetMemory(ctx context.Context, userID string, memory string) error

	CreateDocument(ctx context.Context, doc *models.Document) error
	ListDocuments(ctx context.Context, userID string) ([]*models.Document, error)

	Close() error
}

// now exists so tests can stub time without touching the system clock.
var now = time.Now
