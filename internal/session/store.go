package session

import (
	"context"

	"github.com/dimitrije/mise-api/internal/models"
	"github.com/google/uuid"
)

// Notice kinds shared between instances.
const (
	NoticeSignedIn  = "signed_in"
	NoticeRefreshed = "refreshed"
	NoticeSignedOut = "signed_out"
)

// Notice tells other instances sharing a session key that it changed.
type Notice struct {
	Origin string    `json:"origin"`
	Kind   string    `json:"kind"`
	UserID uuid.UUID `json:"user_id"`
}

// Store persists the current session so a restarted process can pick it up.
type Store interface {
	Load(ctx context.Context) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context) error
}

// Broadcaster propagates session changes between instances.
type Broadcaster interface {
	Publish(ctx context.Context, n Notice) error
	Listen(ctx context.Context, fn func(Notice)) error
}
