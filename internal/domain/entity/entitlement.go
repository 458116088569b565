package entity

import "time"

// EntitlementKind - источник права доступа к платным тестам
type EntitlementKind string

const (
	EntitlementPurchase     EntitlementKind = "purchase"     // конкретный тест
	EntitlementSubscription EntitlementKind = "subscription" // все платные тесты
	EntitlementBundle       EntitlementKind = "bundle"       // тесты набора
)

// Entitlement - право пользователя на платные тесты.
// Записи создаёт платёжный сервис, здесь они только читаются.
type Entitlement struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       uint            `gorm:"not null;index" json:"user_id"`
	Kind         EntitlementKind `gorm:"size:20;not null" json:"kind"`
	AssessmentID *uint           `json:"assessment_id,omitempty"`
	BundleID     *uint           `json:"bundle_id,omitempty"`
	ValidFrom    time.Time       `gorm:"not null" json:"valid_from"`
	ValidUntil   *time.Time      `json:"valid_until,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (Entitlement) TableName() string {
	return "entitlements"
}

// IsActiveAt проверяет, действует ли право в указанный момент
func (e *Entitlement) IsActiveAt(now time.Time) bool {
	if now.Before(e.ValidFrom) {
		return false
	}
	return e.ValidUntil == nil || now.Before(*e.ValidUntil)
}

// BundleItem связывает набор с тестом
type BundleItem struct {
	BundleID     uint `gorm:"primaryKey" json:"bundle_id"`
	AssessmentID uint `gorm:"primaryKey" json:"assessment_id"`
}

// TableName определяет имя таблицы для GORM
func (BundleItem) TableName() string {
	return "bundle_items"
}
