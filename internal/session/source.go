// Package session is the process-side view of the auth service session: it
// holds the current token bundle, keeps it refreshed and notifies
// subscribers, in order, whenever it changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dimitrije/mise-api/internal/authclient"
	"github.com/dimitrije/mise-api/internal/models"
	"github.com/google/uuid"
)

var ErrClosed = errors.New("session source closed")

// AuthClient is the subset of authclient.Client used by Source.
type AuthClient interface {
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*models.Session, error)
	SignUp(ctx context.Context, email, password string, data map[string]any) (*authclient.SignUpResponse, error)
	SignOut(ctx context.Context, accessToken string) error
	RecoverPassword(ctx context.Context, email, redirectTo string) error
	ParseClaims(accessToken string) (*authclient.Claims, error)
}

// SignUpResult reports a registration. ConfirmationPending is set when the
// account was created but no session was issued yet.
type SignUpResult struct {
	Session             *models.Session
	UserID              uuid.UUID
	ConfirmationPending bool
}

type Options struct {
	Store          Store
	Broadcaster    Broadcaster
	RefreshMargin  time.Duration
	RetryInterval  time.Duration
	PersistTimeout time.Duration
	Logger         *slog.Logger
}

type Source struct {
	client         AuthClient
	store          Store
	bus            Broadcaster
	logger         *slog.Logger
	refreshMargin  time.Duration
	retryInterval  time.Duration
	persistTimeout time.Duration
	origin         string

	mu           sync.Mutex
	current      *models.Session
	loaded       bool
	closed       bool
	refreshTimer *time.Timer

	subMu    sync.RWMutex
	handlers map[uint64]func(*models.Session)
	nextID   uint64

	events    chan *models.Session
	done      chan struct{}
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSource(client AuthClient, opts Options) *Source {
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = time.Minute
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 30 * time.Second
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 3 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Source{
		client:         client,
		store:          opts.Store,
		bus:            opts.Broadcaster,
		logger:         logger.With(slog.String("component", "session")),
		refreshMargin:  opts.RefreshMargin,
		retryInterval:  opts.RetryInterval,
		persistTimeout: opts.PersistTimeout,
		origin:         uuid.New().String(),
		handlers:       make(map[uint64]func(*models.Session)),
		events:         make(chan *models.Session, 64),
		done:           make(chan struct{}),
	}
}

// Start launches event delivery and, when a broadcaster is configured, the
// listener for changes made by other instances.
func (s *Source) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel

		s.wg.Add(1)
		go s.dispatch()

		if s.bus != nil {
			s.wg.Add(1)
			go s.listen(ctx)
		}
	})
}

func (s *Source) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.stopRefreshLocked()
		s.mu.Unlock()

		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// Subscribe registers handler for every session change. Handlers run on a
// single goroutine in emission order and must not block on the Source.
func (s *Source) Subscribe(handler func(*models.Session)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.handlers, id)
			s.subMu.Unlock()
		})
	}
}

// CurrentSession returns the live session, restoring a persisted one on the
// first call. A nil session without error means nobody is signed in.
func (s *Source) CurrentSession(ctx context.Context) (*models.Session, error) {
	s.mu.Lock()
	if s.loaded || s.store == nil {
		cur := s.current.Clone()
		s.mu.Unlock()
		return cur, nil
	}
	s.mu.Unlock()

	stored, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored session: %w", err)
	}

	restored := s.restore(ctx, stored)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.current.Clone(), nil
	}
	s.loaded = true
	if restored != nil {
		s.current = restored.Clone()
		s.scheduleRefreshLocked()
	}
	return restored, nil
}

func (s *Source) restore(ctx context.Context, stored *models.Session) *models.Session {
	if !stored.HasIdentity() {
		return nil
	}

	if stored.AccessToken() != "" && time.Now().Before(stored.ExpiresAt()) {
		claims, err := s.client.ParseClaims(stored.AccessToken())
		if err == nil && claims.Subject == stored.User.ID.String() {
			return stored
		}
		if err != nil {
			s.logger.Debug("stored access token rejected", slog.String("error", err.Error()))
		}
	}

	if stored.RefreshToken() == "" {
		s.discardStored(ctx)
		return nil
	}

	refreshed, err := s.client.RefreshSession(ctx, stored.RefreshToken())
	if err != nil {
		s.logger.Warn("failed to refresh stored session", slog.String("error", err.Error()))
		if isRevoked(err) {
			s.discardStored(ctx)
		}
		return nil
	}

	s.mu.Lock()
	s.persistLocked(ctx, refreshed, NoticeRefreshed)
	s.mu.Unlock()
	return refreshed
}

func (s *Source) discardStored(ctx context.Context) {
	pctx, cancel := s.persistContext(ctx)
	defer cancel()
	if err := s.store.Delete(pctx); err != nil {
		s.logger.Warn("failed to delete stored session", slog.String("error", err.Error()))
	}
}

func (s *Source) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	sess, err := s.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.persistLocked(ctx, sess, NoticeSignedIn)
	s.setSessionLocked(sess)
	return sess.Clone(), nil
}

func (s *Source) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	resp, err := s.client.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, err
	}

	result := &SignUpResult{ConfirmationPending: resp.Session == nil}
	if resp.User != nil {
		result.UserID = resp.User.ID
	}
	if resp.Session == nil {
		return result, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.persistLocked(ctx, resp.Session, NoticeSignedIn)
	s.setSessionLocked(resp.Session)
	result.Session = resp.Session.Clone()
	return result, nil
}

// SignOut ends the session locally right away, then revokes it remotely.
// The returned error only concerns the remote call.
func (s *Source) SignOut(ctx context.Context) error {
	s.mu.Lock()
	prev := s.current
	s.clearLocked(ctx, true)
	s.mu.Unlock()

	if prev.AccessToken() == "" {
		return nil
	}
	if err := s.client.SignOut(ctx, prev.AccessToken()); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func (s *Source) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	return s.client.RecoverPassword(ctx, email, redirectTo)
}

func (s *Source) setSessionLocked(sess *models.Session) {
	s.current = sess.Clone()
	s.loaded = true
	s.scheduleRefreshLocked()
	s.emitLocked(sess)
}

func (s *Source) clearLocked(ctx context.Context, publish bool) {
	var userID uuid.UUID
	if s.current != nil {
		userID = s.current.User.ID
	}
	s.current = nil
	s.loaded = true
	s.stopRefreshLocked()
	if publish {
		s.persistLocked(ctx, nil, NoticeSignedOut, userID)
	}
	s.emitLocked(nil)
}

// persistLocked writes the session through to the store and tells other
// instances about it. Failures are logged; the local state stays authoritative.
func (s *Source) persistLocked(ctx context.Context, sess *models.Session, kind string, userIDs ...uuid.UUID) {
	pctx, cancel := s.persistContext(ctx)
	defer cancel()

	if s.store != nil {
		var err error
		if sess == nil {
			err = s.store.Delete(pctx)
		} else {
			err = s.store.Save(pctx, sess)
		}
		if err != nil {
			s.logger.Warn("failed to persist session", slog.String("kind", kind), slog.String("error", err.Error()))
		}
	}

	if s.bus != nil {
		n := Notice{Origin: s.origin, Kind: kind}
		if sess != nil {
			n.UserID = sess.User.ID
		} else if len(userIDs) > 0 {
			n.UserID = userIDs[0]
		}
		if err := s.bus.Publish(pctx, n); err != nil {
			s.logger.Warn("failed to publish session notice", slog.String("kind", kind), slog.String("error", err.Error()))
		}
	}
}

func (s *Source) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
}

func (s *Source) emitLocked(sess *models.Session) {
	if s.closed {
		return
	}
	select {
	case s.events <- sess.Clone():
	case <-s.done:
	}
}

func (s *Source) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case sess := <-s.events:
			s.subMu.RLock()
			handlers := make([]func(*models.Session), 0, len(s.handlers))
			for _, h := range s.handlers {
				handlers = append(handlers, h)
			}
			s.subMu.RUnlock()

			for _, h := range handlers {
				h(sess.Clone())
			}
		}
	}
}

func (s *Source) scheduleRefreshLocked() {
	s.stopRefreshLocked()
	if s.closed || s.current == nil || s.current.RefreshToken() == "" || s.current.ExpiresAt().IsZero() {
		return
	}

	wait := time.Until(s.current.ExpiresAt()) - s.refreshMargin
	if wait < 0 {
		wait = 0
	}
	token := s.current.RefreshToken()
	s.refreshTimer = time.AfterFunc(wait, func() { s.refresh(token) })
}

func (s *Source) stopRefreshLocked() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
}

func (s *Source) refresh(refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	next, err := s.client.RefreshSession(ctx, refreshToken)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.current == nil || s.current.RefreshToken() != refreshToken {
		return
	}

	if err != nil {
		if isRevoked(err) {
			s.logger.Warn("session refresh rejected, signing out", slog.String("error", err.Error()))
			s.clearLocked(ctx, true)
			return
		}
		s.logger.Warn("session refresh failed, retrying", slog.String("error", err.Error()), slog.Duration("retry_in", s.retryInterval))
		s.refreshTimer = time.AfterFunc(s.retryInterval, func() { s.refresh(refreshToken) })
		return
	}

	s.persistLocked(ctx, next, NoticeRefreshed)
	s.setSessionLocked(next)
}

func (s *Source) listen(ctx context.Context) {
	defer s.wg.Done()
	for {
		err := s.bus.Listen(ctx, s.onNotice)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("session notice listener stopped", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryInterval):
		}
	}
}

func (s *Source) onNotice(n Notice) {
	if n.Origin == s.origin {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()

	switch n.Kind {
	case NoticeSignedOut:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.current == nil {
			return
		}
		if n.UserID != uuid.Nil && s.current.User.ID != n.UserID {
			return
		}
		s.logger.Info("session ended by another instance", slog.String("user_id", n.UserID.String()))
		s.clearLocked(ctx, false)

	case NoticeSignedIn, NoticeRefreshed:
		if s.store == nil {
			return
		}
		stored, err := s.store.Load(ctx)
		if err != nil {
			s.logger.Warn("failed to load session from notice", slog.String("error", err.Error()))
			return
		}
		if !stored.HasIdentity() {
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		if s.current != nil && s.current.AccessToken() == stored.AccessToken() {
			return
		}
		s.setSessionLocked(stored)
	}
}

// isRevoked reports whether the auth service refused a refresh token for
// good, as opposed to a transient failure worth retrying.
func isRevoked(err error) bool {
	var apiErr *authclient.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= http.StatusBadRequest &&
		apiErr.Status < http.StatusInternalServerError &&
		apiErr.Status != http.StatusTooManyRequests
}
