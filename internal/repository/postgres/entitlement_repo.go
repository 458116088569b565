package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
)

// EntitlementRepo реализует repository.EntitlementRepository
type EntitlementRepo struct {
	db *gorm.DB
}

// NewEntitlementRepo создает новый репозиторий прав доступа
func NewEntitlementRepo(db *gorm.DB) *EntitlementRepo {
	return &EntitlementRepo{db: db}
}

// HasActive проверяет наличие действующего права: покупка теста, подписка
// или набор, в который тест входит.
func (r *EntitlementRepo) HasActive(ctx context.Context, userID, assessmentID uint, now time.Time) (bool, error) {
	db := r.db.WithContext(ctx)

	bundles := db.Model(&entity.BundleItem{}).
		Select("bundle_id").
		Where("assessment_id = ?", assessmentID)

	grants := db.Where("kind = ? AND assessment_id = ?", entity.EntitlementPurchase, assessmentID).
		Or("kind = ?", entity.EntitlementSubscription).
		Or("kind = ? AND bundle_id IN (?)", entity.EntitlementBundle, bundles)

	var count int64
	err := db.Model(&entity.Entitlement{}).
		Where("user_id = ? AND valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)", userID, now, now).
		Where(grants).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByUser возвращает все права пользователя
func (r *EntitlementRepo) ListByUser(ctx context.Context, userID uint) ([]entity.Entitlement, error) {
	var entitlements []entity.Entitlement
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("valid_from DESC").
		Find(&entitlements).Error
	return entitlements, err
}
