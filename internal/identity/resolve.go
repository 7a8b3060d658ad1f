package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dimitrije/mise-api/internal/models"
	"github.com/dimitrije/mise-api/internal/profiles"
)

// Resolution outcomes reported to Metrics.
const (
	OutcomeFound    = "found"
	OutcomeCreated  = "created"
	OutcomeDegraded = "degraded"
	OutcomeFallback = "fallback"
)

// resolveProfile turns a session into a user. It always returns a user for
// the session's identity: store trouble of any kind ends in a user built from
// session metadata.
func (r *Reconciler) resolveProfile(ctx context.Context, sess *models.Session) (user *models.User) {
	logger := r.logger.With(slog.String("user_id", sess.User.ID.String()))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("profile resolution panicked", slog.String("panic", fmt.Sprint(rec)))
			r.metrics.ResolutionObserved(OutcomeFallback)
			user = synthesizeUser(sess)
		}
	}()

	p, err := r.store.Get(ctx, sess.User.ID)
	switch {
	case err == nil:
		r.setTableMissing(false)
		r.metrics.ResolutionObserved(OutcomeFound)
		return p.ToUser(sess.User.Email)

	case profiles.IsTableMissing(err):
		r.setTableMissing(true)
		logger.Info("profiles table unavailable, using session metadata", slog.String("error", err.Error()))
		r.metrics.ResolutionObserved(OutcomeDegraded)
		return synthesizeUser(sess)

	case !profiles.IsNotFound(err):
		if ctx.Err() != nil {
			logger.Debug("profile read abandoned", slog.String("error", err.Error()))
		} else {
			logger.Warn("failed to read profile", slog.String("error", err.Error()))
		}
		r.metrics.ResolutionObserved(OutcomeFallback)
		return synthesizeUser(sess)
	}

	fallback := synthesizeUser(sess)
	created, err := r.store.Upsert(ctx, &models.Profile{
		ID:   sess.User.ID,
		Name: fallback.Name,
		Role: fallback.Role,
	})
	if profiles.IsTableMissing(err) {
		r.setTableMissing(true)
	}
	if err != nil {
		logger.Warn("failed to create profile", slog.String("error", err.Error()))
		r.metrics.ResolutionObserved(OutcomeFallback)
		return fallback
	}

	r.setTableMissing(false)
	logger.Info("created profile", slog.String("role", created.Role))
	r.metrics.ResolutionObserved(OutcomeCreated)
	return created.ToUser(sess.User.Email)
}

func (r *Reconciler) setTableMissing(missing bool) {
	r.mu.Lock()
	r.tableMissing = missing
	r.mu.Unlock()
}

// synthesizeUser builds the minimal user that stands in for a profile row.
func synthesizeUser(sess *models.Session) *models.User {
	name := sess.MetadataString("name", "full_name")
	if name == "" {
		name = emailLocalPart(sess.User.Email)
	}

	role := sess.MetadataString("role")
	if !models.IsSelfAssignableRole(role) {
		role = models.RoleStudent
	}

	return &models.User{
		ID:          sess.User.ID,
		Email:       sess.User.Email,
		Name:        name,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
		Synthesized: true,
	}
}

func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

func profileFromUser(u *models.User) models.Profile {
	return models.Profile{
		ID:             u.ID,
		Name:           u.Name,
		Role:           u.Role,
		Bio:            u.Bio,
		AvatarURL:      u.AvatarURL,
		YearLevel:      u.YearLevel,
		Specialization: u.Specialization,
		Phone:          u.Phone,
		Location:       u.Location,
		CreatedAt:      u.CreatedAt,
	}
}
