package entity

import (
	"time"
)

// User - учётная запись, которой владеет сервис аутентификации.
// Движку нужны только существование пользователя и адрес для уведомлений.
type User struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Username  string     `gorm:"size:50;not null;uniqueIndex" json:"username"`
	Email     string     `gorm:"size:100;not null;uniqueIndex" json:"email"`
	FirstName string     `gorm:"size:100;not null;default:''" json:"first_name"`
	DeletedAt *time.Time `gorm:"type:timestamp" json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (User) TableName() string {
	return "users"
}

// IsActive возвращает false для удалённых аккаунтов
func (u *User) IsActive() bool {
	return u.DeletedAt == nil
}

// DisplayName возвращает имя для обращения в письмах
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}
