package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	"github.com/yourusername/mocktest-api/internal/domain/repository"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

// AttemptRepo реализует repository.AttemptRepository
type AttemptRepo struct {
	db *gorm.DB
}

// NewAttemptRepo создает новый репозиторий попыток
func NewAttemptRepo(db *gorm.DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

// Create сохраняет новую попытку.
// Advisory lock на пару (user_id, assessment_id) держится до конца транзакции,
// поэтому параллельные старты считают попытки по очереди и квота не превышается.
// Partial unique index idx_attempts_single_active гарантирует не более одной in_progress
// на пару (user_id, assessment_id); нарушение (23505) → ErrActiveAttemptExists.
func (r *AttemptRepo) Create(ctx context.Context, attempt *entity.Attempt, maxAttempts int) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", quotaLockKey(attempt.UserID, attempt.AssessmentID)).Error; err != nil {
			return fmt.Errorf("lock attempt quota: %w", err)
		}

		if maxAttempts > 0 {
			var count int64
			if err := tx.Model(&entity.Attempt{}).
				Where("user_id = ? AND assessment_id = ?", attempt.UserID, attempt.AssessmentID).
				Count(&count).Error; err != nil {
				return fmt.Errorf("count attempts: %w", err)
			}
			if count >= int64(maxAttempts) {
				return fmt.Errorf("%w: user #%d, assessment #%d, used %d of %d",
					repository.ErrAttemptQuotaExhausted, attempt.UserID, attempt.AssessmentID, count, maxAttempts)
			}
		}

		return tx.Create(attempt).Error
	})
	if err != nil {
		if errors.Is(err, repository.ErrAttemptQuotaExhausted) {
			return err
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user #%d, assessment #%d", repository.ErrActiveAttemptExists, attempt.UserID, attempt.AssessmentID)
		}
		return fmt.Errorf("create attempt failed: %w", err)
	}
	return nil
}

// quotaLockKey - ключ advisory lock для квоты попыток пары (user, assessment)
func quotaLockKey(userID, assessmentID uint) string {
	return fmt.Sprintf("attempt_quota:%d:%d", userID, assessmentID)
}

// GetByID возвращает попытку вместе со снимком вопросов
func (r *AttemptRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Attempt, error) {
	var attempt entity.Attempt
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

// GetActive возвращает попытку in_progress для пары (user, assessment)
func (r *AttemptRepo) GetActive(ctx context.Context, userID, assessmentID uint) (*entity.Attempt, error) {
	var attempt entity.Attempt
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND assessment_id = ? AND status = ?", userID, assessmentID, entity.AttemptStatusInProgress).
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &attempt, nil
}

// CountByUserAndAssessment считает попытки во всех статусах
func (r *AttemptRepo) CountByUserAndAssessment(ctx context.Context, userID, assessmentID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Attempt{}).
		Where("user_id = ? AND assessment_id = ?", userID, assessmentID).
		Count(&count).Error
	return count, err
}

// SaveProgress точечно обновляет изменяемые поля попытки.
// Условие status = in_progress AND version = ? отсекает запись после завершения
// и запись поверх чужого сохранения. RowsAffected == 0 → ErrAttemptNotInProgress.
func (r *AttemptRepo) SaveProgress(ctx context.Context, attempt *entity.Attempt) error {
	result := r.db.WithContext(ctx).Model(&entity.Attempt{}).
		Where("id = ? AND status = ? AND version = ?", attempt.ID, entity.AttemptStatusInProgress, attempt.Version).
		Updates(map[string]interface{}{
			"answers":       attempt.Answers,
			"visited":       attempt.Visited,
			"bookmarked":    attempt.Bookmarked,
			"current_index": attempt.CurrentIndex,
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("save attempt %s progress failed: %w", attempt.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: attempt %s", repository.ErrAttemptNotInProgress, attempt.ID)
	}
	attempt.Version++
	return nil
}

// Finalize в одной транзакции переводит попытку в конечный статус (CAS по status и version)
// и записывает результат. Если CAS не прошёл, возвращает false без ошибки.
func (r *AttemptRepo) Finalize(ctx context.Context, attempt *entity.Attempt, result *entity.Result) (bool, error) {
	won := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&entity.Attempt{}).
			Where("id = ? AND status = ? AND version = ?", attempt.ID, entity.AttemptStatusInProgress, attempt.Version).
			Updates(map[string]interface{}{
				"status":      attempt.Status,
				"finished_at": attempt.FinishedAt,
				"version":     gorm.Expr("version + 1"),
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return nil
		}

		if err := tx.Create(result).Error; err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("finalize attempt %s failed: %w", attempt.ID, err)
	}
	if won {
		attempt.Version++
	}
	return won, nil
}

// ListInProgress возвращает попытки in_progress без снимка вопросов
func (r *AttemptRepo) ListInProgress(ctx context.Context, limit, offset int) ([]entity.Attempt, error) {
	var attempts []entity.Attempt
	err := r.db.WithContext(ctx).
		Select("id", "user_id", "assessment_id", "status", "deadline", "started_at").
		Where("status = ?", entity.AttemptStatusInProgress).
		Order("deadline ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&attempts).Error
	return attempts, err
}

// ListOverdue возвращает попытки in_progress, у которых наступил дедлайн
func (r *AttemptRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]entity.Attempt, error) {
	var attempts []entity.Attempt
	err := r.db.WithContext(ctx).
		Select("id", "user_id", "assessment_id", "status", "deadline", "started_at").
		Where("status = ? AND deadline <= ?", entity.AttemptStatusInProgress, now).
		Order("deadline ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}
