package examengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	"github.com/yourusername/mocktest-api/internal/domain/repository"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

// AccessEvaluator решает, может ли пользователь начать попытку.
// Только читает данные и ничего не создаёт.
type AccessEvaluator struct {
	config       *Config
	users        repository.UserRepository
	attempts     repository.AttemptRepository
	entitlements repository.EntitlementRepository
	clock        Clock
}

// NewAccessEvaluator создает новый AccessEvaluator
func NewAccessEvaluator(
	config *Config,
	users repository.UserRepository,
	attempts repository.AttemptRepository,
	entitlements repository.EntitlementRepository,
	clock Clock,
) *AccessEvaluator {
	return &AccessEvaluator{
		config:       config,
		users:        users,
		attempts:     attempts,
		entitlements: entitlements,
		clock:        clock,
	}
}

// QuotaFor возвращает лимит попыток для теста: своё значение теста
// или значение по умолчанию для уровня доступа.
func (e *AccessEvaluator) QuotaFor(assessment *entity.Assessment) int {
	if assessment.MaxAttempts > 0 {
		return assessment.MaxAttempts
	}
	if assessment.IsPaid() {
		return e.config.PaidMaxAttempts
	}
	return e.config.FreeMaxAttempts
}

// CanStart проверяет право начать попытку. Порядок проверок:
// аутентификация, пользователь, доступ к платному тесту, квота попыток.
// Ошибка хранилища возвращается как ошибка, а не как разрешение.
func (e *AccessEvaluator) CanStart(ctx context.Context, userID uint, assessment *entity.Assessment) (*AccessDecision, error) {
	decision := &AccessDecision{AttemptsMax: e.QuotaFor(assessment)}

	if userID == 0 {
		return deny(decision, ReasonAuthenticationRequired), nil
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return deny(decision, ReasonUserNotFound), nil
		}
		return nil, fmt.Errorf("lookup user #%d: %w", userID, err)
	}
	if !user.IsActive() {
		return deny(decision, ReasonUserNotFound), nil
	}

	used, err := e.attempts.CountByUserAndAssessment(ctx, userID, assessment.ID)
	if err != nil {
		return nil, fmt.Errorf("count attempts of user #%d for assessment #%d: %w", userID, assessment.ID, err)
	}
	decision.AttemptsUsed = int(used)
	decision.AttemptsRemaining = decision.AttemptsMax - decision.AttemptsUsed
	if decision.AttemptsRemaining < 0 {
		decision.AttemptsRemaining = 0
	}

	if assessment.IsPaid() {
		ok, err := e.entitlements.HasActive(ctx, userID, assessment.ID, e.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("check entitlement of user #%d for assessment #%d: %w", userID, assessment.ID, err)
		}
		if !ok {
			return deny(decision, ReasonNoSubscription), nil
		}
	}

	if decision.AttemptsUsed >= decision.AttemptsMax {
		return deny(decision, ReasonAttemptsExhausted), nil
	}

	decision.Allowed = true
	return decision, nil
}

func deny(d *AccessDecision, reason DenyReason) *AccessDecision {
	d.Allowed = false
	d.Reason = reason
	return d
}
