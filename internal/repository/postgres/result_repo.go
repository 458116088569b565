package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

// ResultRepo реализует repository.ResultRepository
type ResultRepo struct {
	db *gorm.DB
}

// NewResultRepo создает новый репозиторий результатов
func NewResultRepo(db *gorm.DB) *ResultRepo {
	return &ResultRepo{db: db}
}

// GetByAttemptID возвращает результат попытки
func (r *ResultRepo) GetByAttemptID(ctx context.Context, attemptID uuid.UUID) (*entity.Result, error) {
	var result entity.Result
	err := r.db.WithContext(ctx).Where("attempt_id = ?", attemptID).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

// SaveIfAbsent вставляет результат; при конфликте по attempt_id ничего не делает
func (r *ResultRepo) SaveIfAbsent(ctx context.Context, result *entity.Result) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "attempt_id"}}, DoNothing: true}).
		Create(result).Error
}

// ListByUser возвращает результаты пользователя, новые первыми
func (r *ResultRepo) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]entity.Result, int64, error) {
	var results []entity.Result
	var total int64

	db := r.db.WithContext(ctx)
	if err := db.Model(&entity.Result{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Omit("outcomes").
		Where("user_id = ?", userID).
		Order("completed_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}
