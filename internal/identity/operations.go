package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dimitrije/mise-api/internal/autherr"
	"github.com/dimitrije/mise-api/internal/models"
	"github.com/dimitrije/mise-api/internal/profiles"
)

const (
	MsgConfirmationSent = "📧 Account created! Check your email to confirm your address, then sign in."
	MsgNoUser           = "No signed-in user."
	MsgInvalidProfile   = "✏️ Please provide a non-empty name and a valid role."
	MsgInvalidRole      = "✏️ Please choose a valid role."
	MsgRoleLocked       = "🔒 Your role can only be changed by an administrator."

	fallbackSignIn  = "⚠️ Could not sign in. Please try again."
	fallbackSignUp  = "⚠️ Could not create your account. Please try again."
	fallbackReset   = "⚠️ Could not send the reset email. Please try again."
	fallbackProfile = "⚠️ Could not save your profile. Please try again."
)

// Result is what every user operation returns. Error carries a user-facing
// message; on a successful sign-up it may carry an informational one.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SignIn authenticates with the source. The change stream, not this call,
// puts the new session and user in place.
func (r *Reconciler) SignIn(ctx context.Context, email, password string) (res Result) {
	defer r.beginOperation()()
	defer r.recoverOperation("sign_in", &res)

	if _, err := r.source.SignIn(ctx, email, password); err != nil {
		return r.fail("sign_in", err, fallbackSignIn)
	}
	return Result{Success: true}
}

func (r *Reconciler) SignUp(ctx context.Context, email, password, name, role string) (res Result) {
	defer r.beginOperation()()
	defer r.recoverOperation("sign_up", &res)

	if role == "" {
		role = models.RoleStudent
	}
	if !models.IsSelfAssignableRole(role) {
		return r.reject(MsgInvalidRole)
	}

	metadata := map[string]any{"role": role}
	if name = strings.TrimSpace(name); name != "" {
		metadata["name"] = name
		metadata["full_name"] = name
	}

	out, err := r.source.SignUp(ctx, email, password, metadata)
	if err != nil {
		return r.fail("sign_up", err, fallbackSignUp)
	}
	if out.ConfirmationPending {
		return Result{Success: true, Error: MsgConfirmationSent}
	}
	return Result{Success: true}
}

// SignOut is best effort. The source ends the session locally whatever the
// remote call does, so failures are only logged.
func (r *Reconciler) SignOut(ctx context.Context) {
	res := Result{}
	defer r.beginOperation()()
	defer r.recoverOperation("sign_out", &res)

	if err := r.source.SignOut(ctx); err != nil {
		r.logger.Warn("sign out failed remotely", slog.String("error", err.Error()))
	}
}

func (r *Reconciler) ResetPassword(ctx context.Context, email string) (res Result) {
	defer r.beginOperation()()
	defer r.recoverOperation("reset_password", &res)

	if err := r.source.RequestPasswordReset(ctx, email, r.resetRedirect); err != nil {
		return r.fail("reset_password", err, fallbackReset)
	}
	return Result{Success: true}
}

// UpdateProfile writes upd for the signed-in user. When the profiles table is
// missing the change is only applied locally. Other store failures leave the
// local user untouched.
func (r *Reconciler) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (res Result) {
	defer r.beginOperation()()
	defer r.recoverOperation("update_profile", &res)

	r.mu.Lock()
	current := r.user.Clone()
	gen := r.generation
	offline := r.tableMissing
	r.mu.Unlock()

	if current == nil {
		return Result{Success: false, Error: MsgNoUser}
	}
	if !validUpdate(upd) {
		return Result{Success: false, Error: MsgInvalidProfile}
	}
	if upd.Role != nil && *upd.Role != current.Role {
		return Result{Success: false, Error: MsgRoleLocked}
	}
	if upd.IsEmpty() {
		return Result{Success: true}
	}
	if offline && current.Synthesized {
		r.commitUpdate(gen, upd.ApplyToUser(current))
		return Result{Success: true}
	}

	p, err := r.store.Update(ctx, current.ID, upd)
	if profiles.IsNotFound(err) {
		merged := upd.Apply(profileFromUser(current))
		p, err = r.store.Save(ctx, &merged)
	}

	if err != nil {
		if profiles.IsTableMissing(err) {
			r.setTableMissing(true)
			r.logger.Info("profiles table unavailable, updating local user only")
			r.commitUpdate(gen, upd.ApplyToUser(current))
			return Result{Success: true}
		}
		category, msg := autherr.Classify(err, fallbackProfile)
		r.metrics.ErrorClassified(string(category))
		r.logger.Warn("failed to update profile",
			slog.String("category", string(category)),
			slog.String("user_id", current.ID.String()),
		)
		r.logger.Debug("update profile error", slog.String("error", err.Error()))
		return Result{Success: false, Error: msg}
	}

	next := p.ToUser(current.Email)
	r.commitUpdate(gen, next)
	return Result{Success: true}
}

// RefreshProfile re-runs resolution for the current session.
func (r *Reconciler) RefreshProfile(ctx context.Context) Result {
	r.mu.Lock()
	sess := r.session.Clone()
	gen := r.generation
	r.mu.Unlock()

	if !sess.HasIdentity() {
		return Result{Success: false, Error: MsgNoUser}
	}

	user := r.resolveProfile(ctx, sess)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitLocked(gen, user)
	return Result{Success: true}
}

func (r *Reconciler) commitUpdate(gen uint64, next *models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.generation || r.user == nil || r.user.ID != next.ID {
		r.metrics.StaleDiscarded()
		return
	}
	r.user = next
	r.notifyLocked()
}

func validUpdate(upd models.ProfileUpdate) bool {
	if upd.Role != nil && !models.IsValidRole(*upd.Role) {
		return false
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return false
	}
	return true
}

// beginOperation clears the last error and marks the reconciler busy. The
// returned func ends the operation.
func (r *Reconciler) beginOperation() func() {
	r.mu.Lock()
	r.lastError = ""
	r.busy++
	r.notifyLocked()
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.busy--
		r.notifyLocked()
		r.mu.Unlock()
	}
}

func (r *Reconciler) recoverOperation(op string, res *Result) {
	rec := recover()
	if rec == nil {
		return
	}
	r.logger.Error("operation panicked", slog.String("op", op), slog.String("panic", fmt.Sprint(rec)))
	*res = r.reject(autherr.Message(autherr.CategoryUnknown))
	r.metrics.ErrorClassified(string(autherr.CategoryUnknown))
}

// fail classifies err, records it as the last error and returns it as a
// failed result. The raw error only reaches the debug log.
func (r *Reconciler) fail(op string, err error, fallback string) Result {
	category, msg := autherr.Classify(err, fallback)
	r.metrics.ErrorClassified(string(category))
	r.logger.Info("operation failed", slog.String("op", op), slog.String("category", string(category)))
	r.logger.Debug("operation error", slog.String("op", op), slog.String("error", err.Error()))
	return r.reject(msg)
}

func (r *Reconciler) reject(msg string) Result {
	r.mu.Lock()
	r.lastError = msg
	r.notifyLocked()
	r.mu.Unlock()
	return Result{Success: false, Error: msg}
}
