package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

// AssessmentRepo реализует repository.AssessmentRepository
type AssessmentRepo struct {
	db *gorm.DB
}

// NewAssessmentRepo создает новый репозиторий тестов
func NewAssessmentRepo(db *gorm.DB) *AssessmentRepo {
	return &AssessmentRepo{db: db}
}

// GetByID возвращает тест без вопросов
func (r *AssessmentRepo) GetByID(ctx context.Context, id uint) (*entity.Assessment, error) {
	var assessment entity.Assessment
	err := r.db.WithContext(ctx).First(&assessment, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &assessment, nil
}

// GetWithQuestions возвращает тест вместе с вопросами в порядке position
func (r *AssessmentRepo) GetWithQuestions(ctx context.Context, id uint) (*entity.Assessment, error) {
	var assessment entity.Assessment
	err := r.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		First(&assessment, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &assessment, nil
}
