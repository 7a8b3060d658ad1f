package testutil

import (
	"context"
	"io"

	"github.com/dimitrije/mise-api/internal/identity"
	"github.com/dimitrije/mise-api/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockSessionService mocks the identity reconciler
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) User() *models.User {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.User)
}

func (m *MockSessionService) Snapshot() identity.Snapshot {
	args := m.Called()
	return args.Get(0).(identity.Snapshot)
}

func (m *MockSessionService) SignIn(ctx context.Context, email, password string) identity.Result {
	args := m.Called(ctx, email, password)
	return args.Get(0).(identity.Result)
}

func (m *MockSessionService) SignUp(ctx context.Context, email, password, name, role string) identity.Result {
	args := m.Called(ctx, email, password, name, role)
	return args.Get(0).(identity.Result)
}

func (m *MockSessionService) SignOut(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockSessionService) ResetPassword(ctx context.Context, email string) identity.Result {
	args := m.Called(ctx, email)
	return args.Get(0).(identity.Result)
}

func (m *MockSessionService) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) identity.Result {
	args := m.Called(ctx, upd)
	return args.Get(0).(identity.Result)
}

func (m *MockSessionService) RefreshProfile(ctx context.Context) identity.Result {
	args := m.Called(ctx)
	return args.Get(0).(identity.Result)
}

// MockAvatarStorage mocks the avatar bucket
type MockAvatarStorage struct {
	mock.Mock
}

func (m *MockAvatarStorage) Upload(ctx context.Context, userID uuid.UUID, r io.Reader, size int64, contentType string) (string, error) {
	data, _ := io.ReadAll(r)
	args := m.Called(ctx, userID, data, size, contentType)
	return args.String(0), args.Error(1)
}
