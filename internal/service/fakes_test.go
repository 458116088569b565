package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	"github.com/yourusername/mocktest-api/internal/domain/repository"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

// ============================================================================
// Хранилища в памяти. Повторяют условные обновления postgres-репозиториев.
// ============================================================================

type memAttemptRepo struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]entity.Attempt
	results  *memResultRepo

	failFinalize error  // если задано, Finalize возвращает эту ошибку
	beforeCreate func() // вызывается в Create до подсчёта квоты, без блокировки
	finalized    int
}

func newMemAttemptRepo(results *memResultRepo) *memAttemptRepo {
	return &memAttemptRepo{attempts: make(map[uuid.UUID]entity.Attempt), results: results}
}

func cloneAttempt(a entity.Attempt) *entity.Attempt {
	c := a
	c.Answers = a.Answers.Clone()
	c.Visited = append([]uint{}, a.Visited...)
	c.Bookmarked = append([]uint{}, a.Bookmarked...)
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (r *memAttemptRepo) Create(ctx context.Context, attempt *entity.Attempt, maxAttempts int) error {
	if r.beforeCreate != nil {
		r.beforeCreate()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	used := 0
	for _, a := range r.attempts {
		if a.UserID != attempt.UserID || a.AssessmentID != attempt.AssessmentID {
			continue
		}
		used++
		if a.Status == entity.AttemptStatusInProgress {
			return repository.ErrActiveAttemptExists
		}
	}
	if maxAttempts > 0 && used >= maxAttempts {
		return repository.ErrAttemptQuotaExhausted
	}
	r.attempts[attempt.ID] = *cloneAttempt(*attempt)
	return nil
}

func (r *memAttemptRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cloneAttempt(a), nil
}

func (r *memAttemptRepo) GetActive(ctx context.Context, userID, assessmentID uint) (*entity.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.UserID == userID && a.AssessmentID == assessmentID && a.Status == entity.AttemptStatusInProgress {
			return cloneAttempt(a), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memAttemptRepo) CountByUserAndAssessment(ctx context.Context, userID, assessmentID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, a := range r.attempts {
		if a.UserID == userID && a.AssessmentID == assessmentID {
			n++
		}
	}
	return n, nil
}

func (r *memAttemptRepo) SaveProgress(ctx context.Context, attempt *entity.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.attempts[attempt.ID]
	if !ok || stored.Status != entity.AttemptStatusInProgress || stored.Version != attempt.Version {
		return repository.ErrAttemptNotInProgress
	}
	attempt.Version++
	r.attempts[attempt.ID] = *cloneAttempt(*attempt)
	return nil
}

func (r *memAttemptRepo) Finalize(ctx context.Context, attempt *entity.Attempt, result *entity.Result) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFinalize != nil {
		return false, r.failFinalize
	}
	stored, ok := r.attempts[attempt.ID]
	if !ok || stored.Status != entity.AttemptStatusInProgress || stored.Version != attempt.Version {
		return false, nil
	}
	if err := r.results.SaveIfAbsent(ctx, result); err != nil {
		return false, err
	}
	stored.Status = attempt.Status
	stored.FinishedAt = attempt.FinishedAt
	stored.Version++
	r.attempts[attempt.ID] = stored
	attempt.Version++
	r.finalized++
	return true, nil
}

func (r *memAttemptRepo) ListInProgress(ctx context.Context, limit, offset int) ([]entity.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.Attempt
	for _, a := range r.attempts {
		if a.Status == entity.AttemptStatusInProgress {
			out = append(out, a)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memAttemptRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]entity.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.Attempt
	for _, a := range r.attempts {
		if a.Status == entity.AttemptStatusInProgress && !now.Before(a.Deadline) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAttemptRepo) setFailFinalize(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failFinalize = err
}

func (r *memAttemptRepo) finalizeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

type memResultRepo struct {
	mu      sync.Mutex
	results map[uuid.UUID]entity.Result
	nextID  uint
}

func newMemResultRepo() *memResultRepo {
	return &memResultRepo{results: make(map[uuid.UUID]entity.Result)}
}

func (r *memResultRepo) GetByAttemptID(ctx context.Context, attemptID uuid.UUID) (*entity.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[attemptID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &res, nil
}

func (r *memResultRepo) SaveIfAbsent(ctx context.Context, result *entity.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.results[result.AttemptID]; ok {
		return nil
	}
	r.nextID++
	result.ID = r.nextID
	r.results[result.AttemptID] = *result
	return nil
}

func (r *memResultRepo) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]entity.Result, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.Result
	for _, res := range r.results {
		if res.UserID == userID {
			out = append(out, res)
		}
	}
	total := int64(len(out))
	if offset >= len(out) {
		return []entity.Result{}, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

type memAssessmentRepo struct {
	assessments map[uint]*entity.Assessment
	loads       int
	mu          sync.Mutex
}

func (r *memAssessmentRepo) GetByID(ctx context.Context, id uint) (*entity.Assessment, error) {
	return r.GetWithQuestions(ctx, id)
}

func (r *memAssessmentRepo) GetWithQuestions(ctx context.Context, id uint) (*entity.Assessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	a, ok := r.assessments[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *a
	c.Questions = append([]entity.Question(nil), a.Questions...)
	return &c, nil
}

type memUserRepo struct {
	users map[uint]*entity.User
}

func (r *memUserRepo) GetByID(ctx context.Context, id uint) (*entity.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return u, nil
}

type memEntitlementRepo struct {
	granted map[uint]map[uint]bool
}

func (r *memEntitlementRepo) HasActive(ctx context.Context, userID, assessmentID uint, now time.Time) (bool, error) {
	return r.granted[userID][assessmentID], nil
}

func (r *memEntitlementRepo) ListByUser(ctx context.Context, userID uint) ([]entity.Entitlement, error) {
	return nil, nil
}

// recordingNotifier запоминает уведомления об итогах
type recordingNotifier struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (n *recordingNotifier) NotifyResult(attempt *entity.Attempt, result *entity.Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, attempt.ID)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
