package repository

import (
	"context"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
)

// AssessmentRepository определяет методы чтения каталога тестов
type AssessmentRepository interface {
	GetByID(ctx context.Context, id uint) (*entity.Assessment, error)
	// GetWithQuestions возвращает тест с вопросами, упорядоченными по position
	GetWithQuestions(ctx context.Context, id uint) (*entity.Assessment, error)
}
