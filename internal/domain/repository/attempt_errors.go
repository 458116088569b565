package repository

import "errors"

var (
	// ErrActiveAttemptExists означает, что у пользователя уже есть попытка in_progress по этому тесту.
	// Гарантируется partial unique index idx_attempts_single_active.
	ErrActiveAttemptExists = errors.New("active attempt already exists")
	// ErrAttemptQuotaExhausted означает, что на момент вставки квота попыток уже выбрана.
	ErrAttemptQuotaExhausted = errors.New("attempt quota exhausted")
	// ErrAttemptNotInProgress означает, что условное обновление не нашло попытку в статусе in_progress.
	ErrAttemptNotInProgress = errors.New("attempt is not in progress")
)
