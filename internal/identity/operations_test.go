package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dimitrije/mise-api/internal/authclient"
	"github.com/dimitrije/mise-api/internal/autherr"
	"github.com/dimitrije/mise-api/internal/models"
	"github.com/dimitrije/mise-api/internal/profiles"
	"github.com/dimitrije/mise-api/internal/session"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signedIn returns a started reconciler with a committed user backed by row.
func signedIn(t *testing.T, store *fakeStore, row models.Profile) (*Reconciler, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	r := startedReconciler(t, src, store)
	src.emit(newSession(row.ID, "cook@mise.test", nil))
	require.Eventually(t, userIs(r, row.ID), waitFor, tick)
	return r, src
}

func TestSignIn_Success(t *testing.T) {
	src := newFakeSource()
	src.signIn = func(ctx context.Context, email, password string) (*models.Session, error) {
		assert.Equal(t, "a@mise.test", email)
		return newSession(uuid.New(), email, nil), nil
	}
	r := startedReconciler(t, src, newFakeStore())

	res := r.SignIn(context.Background(), "a@mise.test", "secret1")

	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	// identity state only changes through the change stream
	assert.Nil(t, r.User())
	assert.Nil(t, r.Session())
	assert.False(t, r.Loading())
}

func TestSignIn_FailureClassified(t *testing.T) {
	src := newFakeSource()
	src.signIn = func(context.Context, string, string) (*models.Session, error) {
		return nil, &authclient.APIError{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	metrics := newCountingMetrics()
	r := newTestReconciler(t, src, newFakeStore(), metrics)
	r.Start(context.Background())

	res := r.SignIn(context.Background(), "a@mise.test", "wrong")

	assert.False(t, res.Success)
	assert.Equal(t, autherr.Message(autherr.CategoryInvalidCredentials), res.Error)
	assert.Equal(t, res.Error, r.LastError())
	assert.Equal(t, 1, metrics.category(string(autherr.CategoryInvalidCredentials)))
}

func TestSignIn_UnknownErrorUsesFallback(t *testing.T) {
	src := newFakeSource()
	src.signIn = func(context.Context, string, string) (*models.Session, error) {
		return nil, errors.New("zzz-unrecognized-xyz")
	}
	r := startedReconciler(t, src, newFakeStore())

	res := r.SignIn(context.Background(), "a@mise.test", "pw")

	assert.False(t, res.Success)
	assert.Equal(t, fallbackSignIn, res.Error)
	assert.NotContains(t, res.Error, "zzz")
}

func TestOperation_ClearsLastError(t *testing.T) {
	src := newFakeSource()
	fail := true
	src.signIn = func(context.Context, string, string) (*models.Session, error) {
		if fail {
			return nil, errors.New("Email not confirmed")
		}
		return newSession(uuid.New(), "a@mise.test", nil), nil
	}
	r := startedReconciler(t, src, newFakeStore())

	r.SignIn(context.Background(), "a@mise.test", "pw")
	assert.Equal(t, autherr.Message(autherr.CategoryUnconfirmedEmail), r.LastError())

	fail = false
	r.SignIn(context.Background(), "a@mise.test", "pw")
	assert.Empty(t, r.LastError())
}

func TestOperation_PanicRecoveredAsUnknown(t *testing.T) {
	src := newFakeSource()
	src.signIn = func(context.Context, string, string) (*models.Session, error) {
		panic("nil map write")
	}
	r := startedReconciler(t, src, newFakeStore())

	var res Result
	require.NotPanics(t, func() {
		res = r.SignIn(context.Background(), "a@mise.test", "pw")
	})

	assert.False(t, res.Success)
	assert.Equal(t, autherr.Message(autherr.CategoryUnknown), res.Error)
	assert.False(t, r.Loading())
}

func TestLoading_OverlappingOperations(t *testing.T) {
	src := newFakeSource()
	releaseIn := make(chan struct{})
	releaseReset := make(chan struct{})
	src.signIn = func(context.Context, string, string) (*models.Session, error) {
		<-releaseIn
		return nil, errors.New("Invalid login credentials")
	}
	src.reset = func(context.Context, string, string) error {
		<-releaseReset
		return nil
	}
	r := startedReconciler(t, src, newFakeStore())
	require.False(t, r.Loading())

	done := make(chan struct{}, 2)
	go func() { r.SignIn(context.Background(), "a@mise.test", "pw"); done <- struct{}{} }()
	go func() { r.ResetPassword(context.Background(), "a@mise.test"); done <- struct{}{} }()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.busy == 2
	}, waitFor, tick)

	close(releaseIn)
	<-done
	assert.True(t, r.Loading())

	close(releaseReset)
	<-done
	assert.False(t, r.Loading())
}

func TestSignUp_PendingConfirmation(t *testing.T) {
	src := newFakeSource()
	var gotMeta map[string]any
	src.signUp = func(ctx context.Context, email, password string, metadata map[string]any) (*session.SignUpResult, error) {
		gotMeta = metadata
		return &session.SignUpResult{UserID: uuid.New(), ConfirmationPending: true}, nil
	}
	r := startedReconciler(t, src, newFakeStore())

	res := r.SignUp(context.Background(), "new@mise.test", "secret1", "  Nigella ", models.RoleInstructor)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, MsgConfirmationSent, res.Error)
	assert.Nil(t, r.User())
	assert.Nil(t, r.Session())
	assert.Empty(t, r.LastError())

	assert.Equal(t, "Nigella", gotMeta["name"])
	assert.Equal(t, "Nigella", gotMeta["full_name"])
	assert.Equal(t, models.RoleInstructor, gotMeta["role"])

	// a later change event supplies the session
	id := uuid.New()
	src.emit(newSession(id, "new@mise.test", gotMeta))
	require.Eventually(t, userIs(r, id), waitFor, tick)
	assert.Equal(t, models.RoleInstructor, r.User().Role)
}

func TestSignUp_WithSession(t *testing.T) {
	src := newFakeSource()
	src.signUp = func(ctx context.Context, email, password string, metadata map[string]any) (*session.SignUpResult, error) {
		return &session.SignUpResult{Session: newSession(uuid.New(), email, metadata)}, nil
	}
	r := startedReconciler(t, src, newFakeStore())

	res := r.SignUp(context.Background(), "new@mise.test", "secret1", "Nigella", "")

	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
}

func TestSignUp_InvalidRole(t *testing.T) {
	src := newFakeSource()
	src.signUp = func(context.Context, string, string, map[string]any) (*session.SignUpResult, error) {
		t.Fatal("sign up must not reach the source")
		return nil, nil
	}
	r := startedReconciler(t, src, newFakeStore())

	res := r.SignUp(context.Background(), "new@mise.test", "secret1", "Nigella", "superuser")

	assert.False(t, res.Success)
	assert.Equal(t, MsgInvalidRole, res.Error)
}

func TestSignUp_AdminRoleRejected(t *testing.T) {
	src := newFakeSource()
	src.signUp = func(context.Context, string, string, map[string]any) (*session.SignUpResult, error) {
		t.Fatal("sign up must not reach the source")
		return nil, nil
	}
	r := startedReconciler(t, src, newFakeStore())

	res := r.SignUp(context.Background(), "new@mise.test", "secret1", "Nigella", models.RoleAdmin)

	assert.False(t, res.Success)
	assert.Equal(t, MsgInvalidRole, res.Error)
	assert.Equal(t, MsgInvalidRole, r.LastError())
}

func TestSignUp_AlreadyRegistered(t *testing.T) {
	src := newFakeSource()
	src.signUp = func(context.Context, string, string, map[string]any) (*session.SignUpResult, error) {
		return nil, &authclient.APIError{Status: 422, Code: "user_already_exists", Message: "User already registered"}
	}
	r := startedReconciler(t, src, newFakeStore())

	res := r.SignUp(context.Background(), "dup@mise.test", "secret1", "Dup", models.RoleStudent)

	assert.False(t, res.Success)
	assert.Equal(t, autherr.Message(autherr.CategoryAlreadyRegistered), res.Error)
}

func TestSignOut_FailureNotSurfaced(t *testing.T) {
	src := newFakeSource()
	src.signOut = func(context.Context) error {
		src.emit(nil)
		return errors.New("network unreachable")
	}
	store := newFakeStore()
	id := uuid.New()
	store.put(models.Profile{ID: id, Name: "A", Role: models.RoleStudent})

	r := startedReconciler(t, src, store)
	src.emit(newSession(id, "a@mise.test", nil))
	require.Eventually(t, userIs(r, id), waitFor, tick)

	r.SignOut(context.Background())

	assert.Empty(t, r.LastError())
	assert.Nil(t, r.User())
	assert.Nil(t, r.Session())
	assert.False(t, r.Loading())
}

func TestResetPassword(t *testing.T) {
	src := newFakeSource()
	src.reset = func(context.Context, string, string) error { return nil }
	r := startedReconciler(t, src, newFakeStore())

	res := r.ResetPassword(context.Background(), "a@mise.test")

	assert.True(t, res.Success)
	assert.Equal(t, "https://mise.test/reset", src.resetRedirect)
}

func TestResetPassword_RateLimited(t *testing.T) {
	src := newFakeSource()
	src.reset = func(context.Context, string, string) error {
		return &authclient.APIError{Status: 429, Code: "over_email_send_rate_limit", Message: "email rate limit exceeded"}
	}
	r := startedReconciler(t, src, newFakeStore())

	res := r.ResetPassword(context.Background(), "a@mise.test")

	assert.False(t, res.Success)
	assert.Equal(t, autherr.Message(autherr.CategoryRateLimited), res.Error)
}

func TestUpdateProfile_NoUser(t *testing.T) {
	r := startedReconciler(t, newFakeSource(), newFakeStore())

	res := r.UpdateProfile(context.Background(), models.ProfileUpdate{Name: strPtr("X")})

	assert.False(t, res.Success)
	assert.Equal(t, MsgNoUser, res.Error)
}

func TestUpdateProfile_Success(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	store.put(models.Profile{ID: id, Name: "Ada", Role: models.RoleStudent})
	r, _ := signedIn(t, store, models.Profile{ID: id})

	res := r.UpdateProfile(context.Background(), models.ProfileUpdate{Bio: strPtr("Line cook"), Location: strPtr("Lyon")})

	require.True(t, res.Success)
	user := r.User()
	assert.Equal(t, "Line cook", *user.Bio)
	assert.Equal(t, "Lyon", *user.Location)
	assert.True(t, user.ProfileComplete)

	row, _ := store.row(id)
	assert.Equal(t, "Line cook", *row.Bio)
}

func TestUpdateProfile_RowMissingFallsBackToSave(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	store.upsertErr = errors.New("insert blocked")
	r, _ := signedIn(t, store, models.Profile{ID: id})
	require.True(t, r.User().Synthesized)

	res := r.UpdateProfile(context.Background(), models.ProfileUpdate{Name: strPtr("Ada"), Bio: strPtr("Baker")})

	require.True(t, res.Success)
	assert.Equal(t, int32(1), store.saves.Load())
	row, ok := store.row(id)
	require.True(t, ok)
	assert.Equal(t, "Ada", row.Name)
	assert.Equal(t, models.RoleStudent, row.Role)

	user := r.User()
	assert.False(t, user.Synthesized)
	assert.True(t, user.ProfileComplete)
}

func TestUpdateProfile_TableMissingMergesLocally(t *testing.T) {
	store := newFakeStore()
	store.getErr = profiles.ErrTableMissing
	store.updateErr = fmt.Errorf("update profile: %w", profiles.ErrTableMissing)
	id := uuid.New()
	r, _ := signedIn(t, store, models.Profile{ID: id})

	res := r.UpdateProfile(context.Background(), models.ProfileUpdate{Name: strPtr("Offline Ada"), Phone: strPtr("555")})

	assert.True(t, res.Success)
	user := r.User()
	assert.Equal(t, "Offline Ada", user.Name)
	assert.Equal(t, "555", *user.Phone)
	assert.False(t, user.ProfileComplete)
	assert.Equal(t, 0, store.count())
}

func TestUpdateProfile_KnownMissingTableSkipsStore(t *testing.T) {
	store := newFakeStore()
	store.getErr = profiles.ErrTableMissing
	id := uuid.New()
	r, _ := signedIn(t, store, models.Profile{ID: id})
	require.True(t, r.User().Synthesized)

	res := r.UpdateProfile(context.Background(), models.ProfileUpdate{Bio: strPtr("Pastry")})

	assert.True(t, res.Success)
	assert.Equal(t, "Pastry", *r.User().Bio)
	assert.Equal(t, int32(0), store.updates.Load())
	assert.Equal(t, int32(0), store.saves.Load())
}

func TestUpdateProfile_TableRestoredUsesStoreAgain(t *testing.T) {
	store := newFakeStore()
	store.getErr = profiles.ErrTableMissing
	id := uuid.New()
	r, _ := signedIn(t, store, models.Profile{ID: id})

	store.getErr = nil
	store.put(models.Profile{ID: id, Name: "Ada", Role: models.RoleStudent})
	require.True(t, r.RefreshProfile(context.Background()).Success)
	require.False(t, r.User().Synthesized)

	res := r.UpdateProfile(context.Background(), models.ProfileUpdate{Bio: strPtr("Pastry")})

	assert.True(t, res.Success)
	assert.Equal(t, int32(1), store.updates.Load())
	assert.Equal(t, "Pastry", *r.User().Bio)
}

func TestUpdateProfile_GenericFailureLeavesStateUnchanged(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	store.put(models.Profile{ID: id, Name: "Ada", Role: models.RoleStudent})
	r, _ := signedIn(t, store, models.Profile{ID: id})
	before := r.User()

	store.updateErr = errors.New("permission denied for table profiles")
	res := r.UpdateProfile(context.Background(), models.ProfileUpdate{Name: strPtr("Changed")})

	assert.False(t, res.Success)
	assert.Equal(t, fallbackProfile, res.Error)
	assert.Equal(t, before, r.User())
	row, _ := store.row(id)
	assert.Equal(t, "Ada", row.Name)
}

func TestUpdateProfile_Validation(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	store.put(models.Profile{ID: id, Name: "Ada", Role: models.RoleStudent})
	r, _ := signedIn(t, store, models.Profile{ID: id})

	tests := []struct {
		name string
		upd  models.ProfileUpdate
	}{
		{"blank name", models.ProfileUpdate{Name: strPtr("   ")}},
		{"unknown role", models.ProfileUpdate{Role: strPtr("chef")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.UpdateProfile(context.Background(), tt.upd)
			assert.False(t, res.Success)
			assert.Equal(t, MsgInvalidProfile, res.Error)
		})
	}

	row, _ := store.row(id)
	assert.Equal(t, "Ada", row.Name)
}

func TestUpdateProfile_RoleChangeRejected(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	store.put(models.Profile{ID: id, Name: "Ada", Role: models.RoleStudent})
	r, _ := signedIn(t, store, models.Profile{ID: id})

	for _, role := range []string{models.RoleAdmin, models.RoleInstructor} {
		res := r.UpdateProfile(context.Background(), models.ProfileUpdate{Role: strPtr(role)})
		assert.False(t, res.Success)
		assert.Equal(t, MsgRoleLocked, res.Error)
	}

	row, _ := store.row(id)
	assert.Equal(t, models.RoleStudent, row.Role)
	assert.Equal(t, models.RoleStudent, r.User().Role)
}

func TestUpdateProfile_UnchangedRoleAccepted(t *testing.T) {
	store := newFakeStore()
	id := uuid.New()
	store.put(models.Profile{ID: id, Name: "Ada", Role: models.RoleStudent})
	r, _ := signedIn(t, store, models.Profile{ID: id})

	res := r.UpdateProfile(context.Background(), models.ProfileUpdate{Role: strPtr(models.RoleStudent), Bio: strPtr("Saucier")})

	assert.True(t, res.Success)
	row, _ := store.row(id)
	assert.Equal(t, models.RoleStudent, row.Role)
	require.NotNil(t, row.Bio)
	assert.Equal(t, "Saucier", *row.Bio)
}

func TestUpdateProfile_SupersededSessionNotCommitted(t *testing.T) {
	idA, idB := uuid.New(), uuid.New()
	store := newFakeStore()
	store.put(models.Profile{ID: idA, Name: "A", Role: models.RoleStudent})
	store.put(models.Profile{ID: idB, Name: "B", Role: models.RoleStudent})
	r, src := signedIn(t, store, models.Profile{ID: idA})

	gate := &gatedStore{fakeStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	r.store = gate

	done := make(chan Result, 1)
	go func() {
		done <- r.UpdateProfile(context.Background(), models.ProfileUpdate{Name: strPtr("A2")})
	}()

	<-gate.entered
	src.emit(newSession(idB, "b@mise.test", nil))
	require.Eventually(t, userIs(r, idB), waitFor, tick)
	close(gate.release)

	res := <-done
	assert.True(t, res.Success)
	assert.Equal(t, idB, r.User().ID)
	assert.Equal(t, "B", r.User().Name)
}

// gatedStore blocks the first Update until released.
type gatedStore struct {
	*fakeStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Update(ctx context.Context, id uuid.UUID, upd models.ProfileUpdate) (*models.Profile, error) {
	close(g.entered)
	<-g.release
	return g.fakeStore.Update(ctx, id, upd)
}
