// Package identity owns the process-wide (session, user) pair. It bootstraps
// from the session source, follows its change stream and resolves a full
// user for every session it sees, falling back to session metadata when the
// profile store cannot help.
package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dimitrije/mise-api/internal/models"
	"github.com/dimitrije/mise-api/internal/session"
	"github.com/google/uuid"
)

type SessionSource interface {
	CurrentSession(ctx context.Context) (*models.Session, error)
	Subscribe(handler func(*models.Session)) func()
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*session.SignUpResult, error)
	SignOut(ctx context.Context) error
	RequestPasswordReset(ctx context.Context, email, redirectTo string) error
}

type ProfileStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	Upsert(ctx context.Context, p *models.Profile) (*models.Profile, error)
	Save(ctx context.Context, p *models.Profile) (*models.Profile, error)
	Update(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.Profile, error)
}

// Metrics receives reconciler events. metrics.Collector implements it.
type Metrics interface {
	ResolutionObserved(outcome string)
	StaleDiscarded()
	ErrorClassified(category string)
}

type noopMetrics struct{}

func (noopMetrics) ResolutionObserved(string) {}
func (noopMetrics) StaleDiscarded()           {}
func (noopMetrics) ErrorClassified(string)    {}

type Options struct {
	BootstrapTimeout time.Duration
	ResolveTimeout   time.Duration
	ResetRedirect    string
	Logger           *slog.Logger
	Metrics          Metrics
}

type Reconciler struct {
	source           SessionSource
	store            ProfileStore
	logger           *slog.Logger
	metrics          Metrics
	bootstrapTimeout time.Duration
	resolveTimeout   time.Duration
	resetRedirect    string

	mu             sync.Mutex
	session        *models.Session
	user           *models.User
	initialLoading bool
	busy           int
	lastError      string
	generation     uint64
	cancelResolve  context.CancelFunc
	// tableMissing is set while the last store call reported the profiles
	// table absent.
	tableMissing   bool
	started        bool
	closed         bool
	unsubscribe    func()

	watchers    map[uint64]chan Snapshot
	nextWatcher uint64

	wg sync.WaitGroup
}

func NewReconciler(source SessionSource, store ProfileStore, opts Options) *Reconciler {
	if opts.BootstrapTimeout <= 0 {
		opts.BootstrapTimeout = 5 * time.Second
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	return &Reconciler{
		source:           source,
		store:            store,
		logger:           logger.With(slog.String("component", "identity")),
		metrics:          m,
		bootstrapTimeout: opts.BootstrapTimeout,
		resolveTimeout:   opts.ResolveTimeout,
		resetRedirect:    opts.ResetRedirect,
		initialLoading:   true,
		watchers:         make(map[uint64]chan Snapshot),
	}
}

// Start subscribes to the change stream, then looks up an existing session
// and resolves its user before clearing the initial loading flag. A failed or
// slow lookup leaves the reconciler signed out.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	unsubscribe := r.source.Subscribe(r.onSession)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsubscribe()
		return
	}
	r.unsubscribe = unsubscribe
	startGen := r.generation
	r.mu.Unlock()

	lookupCtx, cancel := context.WithTimeout(ctx, r.bootstrapTimeout)
	sess, err := r.source.CurrentSession(lookupCtx)
	cancel()
	if err != nil {
		r.logger.Warn("failed to fetch current session", slog.String("error", err.Error()))
	}

	if err == nil && sess.HasIdentity() {
		r.mu.Lock()
		adopted := !r.closed && r.generation == startGen
		var gen uint64
		var resolveCtx context.Context
		var cancelResolve context.CancelFunc
		if adopted {
			r.generation++
			gen = r.generation
			r.session = sess
			resolveCtx, cancelResolve = context.WithTimeout(ctx, r.resolveTimeout)
			r.cancelResolve = cancelResolve
		}
		r.mu.Unlock()

		if adopted {
			user := r.resolveProfile(resolveCtx, sess)
			cancelResolve()
			r.mu.Lock()
			r.commitLocked(gen, user)
			r.mu.Unlock()
		}
	}

	r.mu.Lock()
	r.initialLoading = false
	r.notifyLocked()
	r.mu.Unlock()
}

// Close stops following the change stream. Events and resolutions that
// arrive afterwards leave the state untouched.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.cancelResolveLocked()
	unsubscribe := r.unsubscribe
	for id, ch := range r.watchers {
		close(ch)
		delete(r.watchers, id)
	}
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.wg.Wait()
}

// onSession is the single writer of the (session, user) pair. It must not
// block: resolution runs on its own goroutine and commits only if no later
// event has arrived in the meantime.
func (r *Reconciler) onSession(sess *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.generation++
	gen := r.generation
	r.cancelResolveLocked()

	if !sess.HasIdentity() {
		r.session = nil
		r.user = nil
		r.notifyLocked()
		return
	}

	if r.user != nil && r.user.ID != sess.User.ID {
		r.user = nil
	}
	r.session = sess

	ctx, cancel := context.WithTimeout(context.Background(), r.resolveTimeout)
	r.cancelResolve = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		user := r.resolveProfile(ctx, sess)

		r.mu.Lock()
		defer r.mu.Unlock()
		r.commitLocked(gen, user)
	}()

	r.notifyLocked()
}

func (r *Reconciler) commitLocked(gen uint64, user *models.User) bool {
	if r.closed || gen != r.generation || r.session == nil || r.session.User.ID != user.ID {
		r.metrics.StaleDiscarded()
		r.logger.Debug("discarding stale resolution", slog.String("user_id", user.ID.String()))
		return false
	}
	r.user = user
	r.notifyLocked()
	return true
}

func (r *Reconciler) cancelResolveLocked() {
	if r.cancelResolve != nil {
		r.cancelResolve()
		r.cancelResolve = nil
	}
}

func (r *Reconciler) User() *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.user.Clone()
}

func (r *Reconciler) Session() *models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Clone()
}

func (r *Reconciler) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadingLocked()
}

func (r *Reconciler) LastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

func (r *Reconciler) loadingLocked() bool {
	return r.initialLoading || r.busy > 0
}
