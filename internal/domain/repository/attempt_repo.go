package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/mocktest-api/internal/domain/entity"
)

// AttemptRepository определяет методы для работы с попытками
type AttemptRepository interface {
	// Create сохраняет новую попытку, если у пары (user, assessment) меньше maxAttempts попыток.
	// Подсчёт и вставка выполняются атомарно. Возвращает ErrAttemptQuotaExhausted при выбранной
	// квоте и ErrActiveAttemptExists, если уже есть in_progress. maxAttempts <= 0 снимает лимит.
	Create(ctx context.Context, attempt *entity.Attempt, maxAttempts int) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Attempt, error)
	// GetActive возвращает попытку in_progress для пары (user, assessment)
	GetActive(ctx context.Context, userID, assessmentID uint) (*entity.Attempt, error)
	// CountByUserAndAssessment считает попытки во всех статусах
	CountByUserAndAssessment(ctx context.Context, userID, assessmentID uint) (int64, error)
	// SaveProgress точечно сохраняет ответы, посещения, закладки и текущий индекс.
	// Обновление условное: status = in_progress. Иначе ErrAttemptNotInProgress.
	SaveProgress(ctx context.Context, attempt *entity.Attempt) error
	// Finalize атомарно переводит попытку in_progress → конечный статус и записывает результат.
	// Возвращает false без ошибки, если переход уже выполнил кто-то другой.
	Finalize(ctx context.Context, attempt *entity.Attempt, result *entity.Result) (bool, error)
	// ListInProgress возвращает попытки in_progress для восстановления таймеров
	ListInProgress(ctx context.Context, limit, offset int) ([]entity.Attempt, error)
	// ListOverdue возвращает попытки in_progress с наступившим дедлайном
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]entity.Attempt, error)
}
