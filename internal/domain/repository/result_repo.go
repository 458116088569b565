package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/yourusername/mocktest-api/internal/domain/entity"
)

// ResultRepository определяет методы для работы с результатами попыток
type ResultRepository interface {
	GetByAttemptID(ctx context.Context, attemptID uuid.UUID) (*entity.Result, error)
	// SaveIfAbsent записывает результат, если для попытки его ещё нет.
	// Существующий результат не перезаписывается.
	SaveIfAbsent(ctx context.Context, result *entity.Result) error
	// ListByUser возвращает результаты пользователя с пагинацией и общим количеством
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]entity.Result, int64, error)
}
