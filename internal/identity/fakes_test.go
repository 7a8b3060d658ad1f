package identity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dimitrije/mise-api/internal/models"
	"github.com/dimitrije/mise-api/internal/profiles"
	"github.com/dimitrije/mise-api/internal/session"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

type fakeSource struct {
	mu       sync.Mutex
	handlers map[int]func(*models.Session)
	nextID   int

	current func(ctx context.Context) (*models.Session, error)
	signIn  func(ctx context.Context, email, password string) (*models.Session, error)
	signUp  func(ctx context.Context, email, password string, metadata map[string]any) (*session.SignUpResult, error)
	signOut func(ctx context.Context) error
	reset   func(ctx context.Context, email, redirectTo string) error

	resetRedirect string
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: make(map[int]func(*models.Session))}
}

func (f *fakeSource) CurrentSession(ctx context.Context) (*models.Session, error) {
	if f.current == nil {
		return nil, nil
	}
	return f.current(ctx)
}

func (f *fakeSource) Subscribe(h func(*models.Session)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}
}

// emit delivers sess to every subscriber on the caller's goroutine, the way
// the real source's dispatcher does.
func (f *fakeSource) emit(sess *models.Session) {
	f.mu.Lock()
	hs := make([]func(*models.Session), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(sess.Clone())
	}
}

func (f *fakeSource) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeSource) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	return f.signIn(ctx, email, password)
}

func (f *fakeSource) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*session.SignUpResult, error) {
	return f.signUp(ctx, email, password, metadata)
}

func (f *fakeSource) SignOut(ctx context.Context) error {
	if f.signOut == nil {
		return nil
	}
	return f.signOut(ctx)
}

func (f *fakeSource) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	f.mu.Lock()
	f.resetRedirect = redirectTo
	f.mu.Unlock()
	return f.reset(ctx, email, redirectTo)
}

// fakeStore behaves like the profiles table, including upsert convergence.
type fakeStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.Profile

	// getHook runs before every Get and may block.
	getHook func(ctx context.Context, id uuid.UUID) error
	// upsertHook runs at the start of every Upsert and may block.
	upsertHook func(ctx context.Context, p *models.Profile)
	// errors forced on every call when set
	getErr    error
	upsertErr error
	updateErr error
	saveErr   error

	upserts atomic.Int32
	saves   atomic.Int32
	updates atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[uuid.UUID]models.Profile)}
}

func (s *fakeStore) put(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[p.ID] = p
}

func (s *fakeStore) row(id uuid.UUID) (models.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	return p, ok
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeStore) Get(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	if s.getHook != nil {
		if err := s.getHook(ctx, id); err != nil {
			return nil, err
		}
	}
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return nil, profiles.ErrNotFound
	}
	return &p, nil
}

func (s *fakeStore) Upsert(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	s.upserts.Add(1)
	if s.upsertHook != nil {
		s.upsertHook(ctx, p)
	}
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rows[p.ID]; ok {
		return &existing, nil
	}
	row := *p
	row.CreatedAt = time.Now()
	row.UpdatedAt = row.CreatedAt
	s.rows[p.ID] = row
	return &row, nil
}

func (s *fakeStore) Save(ctx context.Context, p *models.Profile) (*models.Profile, error) {
	s.saves.Add(1)
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *p
	s.rows[p.ID] = row
	return &row, nil
}

func (s *fakeStore) Update(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.Profile, error) {
	s.updates.Add(1)
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return nil, profiles.ErrNotFound
	}
	p = upd.Apply(p)
	s.rows[id] = p
	return &p, nil
}

type countingMetrics struct {
	stale      atomic.Int32
	mu         sync.Mutex
	outcomes   map[string]int
	categories map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string]int{}, categories: map[string]int{}}
}

func (m *countingMetrics) ResolutionObserved(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *countingMetrics) StaleDiscarded() { m.stale.Add(1) }

func (m *countingMetrics) ErrorClassified(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[category]++
}

func (m *countingMetrics) outcome(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[name]
}

func (m *countingMetrics) category(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.categories[name]
}

func newSession(id uuid.UUID, email string, metadata map[string]any) *models.Session {
	return &models.Session{
		User: models.SessionUser{ID: id, Email: email, Metadata: metadata},
		Token: &oauth2.Token{
			AccessToken:  "access-" + uuid.NewString(),
			RefreshToken: "refresh-" + uuid.NewString(),
			TokenType:    "bearer",
			Expiry:       time.Now().Add(time.Hour),
		},
	}
}

func strPtr(s string) *string { return &s }
