package repository

import (
	"context"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
)

// UserRepository определяет методы чтения пользователей
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*entity.User, error)
}
