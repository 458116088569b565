package repository

import (
	"context"
	"time"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
)

// EntitlementRepository определяет методы проверки прав доступа к платным тестам
type EntitlementRepository interface {
	// HasActive проверяет покупку, подписку или набор, действующие в момент now
	HasActive(ctx context.Context, userID, assessmentID uint, now time.Time) (bool, error)
	ListByUser(ctx context.Context, userID uint) ([]entity.Entitlement, error)
}
