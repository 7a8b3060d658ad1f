package handlers

import (
	"context"
	"io"

	"github.com/dimitrije/mise-api/internal/identity"
	"github.com/dimitrije/mise-api/internal/models"
	"github.com/google/uuid"
)

// SessionService is the reconciler surface the HTTP layer uses.
type SessionService interface {
	User() *models.User
	Snapshot() identity.Snapshot
	SignIn(ctx context.Context, email, password string) identity.Result
	SignUp(ctx context.Context, email, password, name, role string) identity.Result
	SignOut(ctx context.Context)
	ResetPassword(ctx context.Context, email string) identity.Result
	UpdateProfile(ctx context.Context, upd models.ProfileUpdate) identity.Result
	RefreshProfile(ctx context.Context) identity.Result
}

// AvatarStorage stores avatar images and returns their public URL.
type AvatarStorage interface {
	Upload(ctx context.Context, userID uuid.UUID, r io.Reader, size int64, contentType string) (string, error)
}

// Compile-time interface checks
var _ SessionService = (*identity.Reconciler)(nil)
