package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_IsActive(t *testing.T) {
	// Arrange
	deleted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	active := &User{ID: 1, Username: "student"}
	removed := &User{ID: 2, Username: "gone", DeletedAt: &deleted}

	// Act & Assert
	assert.True(t, active.IsActive())
	assert.False(t, removed.IsActive(), "Удалённый аккаунт не может начинать попытки")
}

func TestUser_DisplayName(t *testing.T) {
	assert.Equal(t, "Асель", (&User{Username: "asel_k", FirstName: "Асель"}).DisplayName())
	assert.Equal(t, "asel_k", (&User{Username: "asel_k"}).DisplayName(), "Без имени используется логин")
}
