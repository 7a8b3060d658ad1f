package identity

import (
	"time"

	"github.com/dimitrije/mise-api/internal/models"
	"github.com/google/uuid"
)

// Snapshot is a point-in-time copy of the reconciler state that is safe to
// hand to clients. Tokens are left out.
type Snapshot struct {
	User      *models.User `json:"user"`
	Session   *SessionInfo `json:"session"`
	Loading   bool         `json:"loading"`
	LastError *string      `json:"last_error"`
}

type SessionInfo struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Reconciler) snapshotLocked() Snapshot {
	snap := Snapshot{
		User:    r.user.Clone(),
		Loading: r.loadingLocked(),
	}
	if r.session != nil {
		snap.Session = &SessionInfo{
			UserID:    r.session.User.ID,
			Email:     r.session.User.Email,
			ExpiresAt: r.session.ExpiresAt(),
		}
	}
	if r.lastError != "" {
		msg := r.lastError
		snap.LastError = &msg
	}
	return snap
}

// Watch returns a channel that receives the current snapshot and then one
// after every state change. A slow reader only sees the latest snapshot.
// The channel is closed by the returned cancel func or by Close.
func (r *Reconciler) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := r.nextWatcher
	r.nextWatcher++
	r.watchers[id] = ch
	ch <- r.snapshotLocked()
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.watchers[id]; ok {
			close(c)
			delete(r.watchers, id)
		}
	}
}

func (r *Reconciler) notifyLocked() {
	if len(r.watchers) == 0 {
		return
	}
	snap := r.snapshotLocked()
	for _, ch := range r.watchers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
