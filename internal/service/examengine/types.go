package examengine

import (
	"fmt"
	"time"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

// Config содержит настройки движка попыток
type Config struct {
	// Квоты попыток, если в тесте не задано своё значение
	FreeMaxAttempts int
	PaidMaxAttempts int

	// Политика оценивания по умолчанию
	DefaultPolicy entity.ScoringPolicy

	// Таймер
	TickInterval     time.Duration // Шаг проверки дедлайна
	RetryInterval    time.Duration // Первая пауза перед повтором истечения
	MaxRetryInterval time.Duration // Потолок экспоненциальной паузы

	// Фоновая проверка просроченных попыток
	SweepSpec  string
	SweepBatch int
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		FreeMaxAttempts: 1,
		PaidMaxAttempts: 3,
		DefaultPolicy: entity.ScoringPolicy{
			NegativeMCQ: 0.25,
			NegativeMSQ: 0.5,
			NegativeNAT: 0,
			NATEpsilon:  0.01,
			ScoreFloor:  0,
		},
		TickInterval:     1 * time.Second,
		RetryInterval:    500 * time.Millisecond,
		MaxRetryInterval: 30 * time.Second,
		SweepSpec:        "@every 1m",
		SweepBatch:       200,
	}
}

// Clock - источник времени. В тестах подменяется управляемыми часами.
type Clock interface {
	Now() time.Time
}

// SystemClock возвращает текущее время в UTC
type SystemClock struct{}

// Now возвращает текущее время
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// DenyReason - причина отказа в старте попытки
type DenyReason string

const (
	ReasonAuthenticationRequired DenyReason = "authentication_required"
	ReasonUserNotFound           DenyReason = "user_not_found"
	ReasonNoSubscription         DenyReason = "no_subscription"
	ReasonAttemptsExhausted      DenyReason = "attempts_exhausted"
)

// AccessDecision - результат проверки права начать попытку
type AccessDecision struct {
	Allowed           bool       `json:"allowed"`
	Reason            DenyReason `json:"reason,omitempty"`
	AttemptsUsed      int        `json:"attempts_used"`
	AttemptsMax       int        `json:"attempts_max"`
	AttemptsRemaining int        `json:"attempts_remaining"`
}

// AccessDeniedError возвращается при отказе в старте попытки
type AccessDeniedError struct {
	Decision AccessDecision
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Decision.Reason)
}

// Unwrap позволяет проверять отказ через errors.Is(err, ErrForbidden)
func (e *AccessDeniedError) Unwrap() error {
	return apperrors.ErrForbidden
}

// Ошибки валидации. Все оборачивают apperrors.ErrValidation.
var (
	ErrUnknownQuestion = fmt.Errorf("%w: question does not belong to this attempt", apperrors.ErrValidation)
	ErrIndexOutOfRange = fmt.Errorf("%w: question index out of range", apperrors.ErrValidation)
	ErrAnswerShape     = fmt.Errorf("%w: answer shape does not match question type", apperrors.ErrValidation)
	ErrUnknownOption   = fmt.Errorf("%w: option is not offered by the question", apperrors.ErrValidation)
	ErrNotNumeric      = fmt.Errorf("%w: value is not a number", apperrors.ErrValidation)
	ErrEmptyAnswer     = fmt.Errorf("%w: answer is empty", apperrors.ErrValidation)
	ErrUnknownFilter   = fmt.Errorf("%w: unknown question type filter", apperrors.ErrValidation)
)

// ErrDeadlinePassed возвращается при изменении попытки после дедлайна
var ErrDeadlinePassed = fmt.Errorf("%w: deadline has passed", apperrors.ErrAttemptClosed)
