package examengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
)

// ============================================================================
// Моки репозиториев
// ============================================================================

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) GetByID(ctx context.Context, id uint) (*entity.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.User), args.Error(1)
}

type MockAttemptRepo struct {
	mock.Mock
}

func (m *MockAttemptRepo) Create(ctx context.Context, attempt *entity.Attempt, maxAttempts int) error {
	args := m.Called(ctx, attempt, maxAttempts)
	return args.Error(0)
}

func (m *MockAttemptRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Attempt, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Attempt), args.Error(1)
}

func (m *MockAttemptRepo) GetActive(ctx context.Context, userID, assessmentID uint) (*entity.Attempt, error) {
	args := m.Called(ctx, userID, assessmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Attempt), args.Error(1)
}

func (m *MockAttemptRepo) CountByUserAndAssessment(ctx context.Context, userID, assessmentID uint) (int64, error) {
	args := m.Called(ctx, userID, assessmentID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAttemptRepo) SaveProgress(ctx context.Context, attempt *entity.Attempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockAttemptRepo) Finalize(ctx context.Context, attempt *entity.Attempt, result *entity.Result) (bool, error) {
	args := m.Called(ctx, attempt, result)
	return args.Bool(0), args.Error(1)
}

func (m *MockAttemptRepo) ListInProgress(ctx context.Context, limit, offset int) ([]entity.Attempt, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]entity.Attempt), args.Error(1)
}

func (m *MockAttemptRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]entity.Attempt, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Attempt), args.Error(1)
}

type MockEntitlementRepo struct {
	mock.Mock
}

func (m *MockEntitlementRepo) HasActive(ctx context.Context, userID, assessmentID uint, now time.Time) (bool, error) {
	args := m.Called(ctx, userID, assessmentID, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockEntitlementRepo) ListByUser(ctx context.Context, userID uint) ([]entity.Entitlement, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]entity.Entitlement), args.Error(1)
}

// ============================================================================
// Управляемые часы
// ============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
