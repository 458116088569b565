package errors

import "errors"

// Общие ошибки приложения
var (
	// ErrNotFound используется, когда запись или ресурс не найдены.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized используется для ошибок авторизации (неверный или отсутствующий токен).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden используется, когда у пользователя недостаточно прав для действия.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation используется для ошибок валидации входных данных.
	// Состояние попытки при этом не меняется.
	ErrValidation = errors.New("validation failed")

	// ErrExpiredToken используется, когда токен сессии истек.
	ErrExpiredToken = errors.New("token is expired")

	// ErrConflict используется для конфликтов состояния.
	ErrConflict = errors.New("resource state conflict")

	// ErrAttemptClosed возвращается при изменении попытки, которая уже
	// отправлена или истекла. Это безопасный конфликт: вызывающая сторона
	// получает итоговое состояние вместо ошибки.
	ErrAttemptClosed = errors.New("attempt is closed")

	// ErrUnavailable обозначает временную ошибку хранилища.
	// Операцию можно повторить; таймер повторяет истечение сам.
	ErrUnavailable = errors.New("storage temporarily unavailable")
)
