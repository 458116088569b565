package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yourusername/mocktest-api/internal/domain/entity"
	"github.com/yourusername/mocktest-api/internal/domain/repository"
	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
	"github.com/yourusername/mocktest-api/internal/service/examengine"
)

const (
	// finalizeRetries ограничивает повторы перехода в конечный статус,
	// когда версия попытки изменилась между чтением и CAS
	finalizeRetries = 3
	resultCacheTTL  = 24 * time.Hour
	resumePageSize  = 500
)

// AttemptView - состояние попытки на момент запроса
type AttemptView struct {
	Attempt    *entity.Attempt
	Remaining  time.Duration
	ServerTime time.Time
	Summary    examengine.Summary
	Result     *entity.Result // только для завершённой попытки
}

// AttemptService управляет жизненным циклом попыток: старт, ответы,
// навигация, отправка и истечение по таймеру.
type AttemptService struct {
	config    *examengine.Config
	catalog   *CatalogService
	attempts  repository.AttemptRepository
	results   repository.ResultRepository
	evaluator *examengine.AccessEvaluator
	timer     *examengine.ExpiryTimer
	locks     *examengine.LockSet
	clock     examengine.Clock
	notifier  ResultNotifier
	cache     repository.CacheRepository
}

// NewAttemptService создает новый сервис попыток
func NewAttemptService(
	config *examengine.Config,
	catalog *CatalogService,
	attempts repository.AttemptRepository,
	results repository.ResultRepository,
	evaluator *examengine.AccessEvaluator,
	timer *examengine.ExpiryTimer,
	clock examengine.Clock,
	notifier ResultNotifier,
	cache repository.CacheRepository,
) *AttemptService {
	if notifier == nil {
		notifier = NoopResultNotifier{}
	}
	return &AttemptService{
		config:    config,
		catalog:   catalog,
		attempts:  attempts,
		results:   results,
		evaluator: evaluator,
		timer:     timer,
		locks:     examengine.NewLockSet(),
		clock:     clock,
		notifier:  notifier,
		cache:     cache,
	}
}

// Start запускает таймер и восстанавливает отсчёты незавершённых попыток
func (s *AttemptService) Start(ctx context.Context) error {
	s.timer.Start(ctx, s.expireFromTimer)
	armed, err := s.ResumeTimers(ctx)
	if err != nil {
		return err
	}
	log.Printf("[AttemptService] Восстановлено таймеров: %d", armed)
	return nil
}

// Stop останавливает все отсчёты
func (s *AttemptService) Stop() {
	s.timer.Stop()
}

// ExpireFunc возвращает функцию истечения для фоновой проверки
func (s *AttemptService) ExpireFunc() examengine.ExpireFunc {
	return s.expireFromTimer
}

// Timer возвращает таймер попыток
func (s *AttemptService) Timer() *examengine.ExpiryTimer {
	return s.timer
}

// CanStart проверяет право начать попытку без побочных эффектов
func (s *AttemptService) CanStart(ctx context.Context, userID, assessmentID uint) (*examengine.AccessDecision, error) {
	assessment, err := s.catalog.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	decision, err := s.evaluator.CanStart(ctx, userID, assessment)
	if err != nil {
		return nil, storageError(err)
	}
	return decision, nil
}

// StartAttempt создаёт попытку или возвращает уже идущую.
// Второй результат true, если попытка продолжена, а не создана.
func (s *AttemptService) StartAttempt(ctx context.Context, userID, assessmentID uint) (*AttemptView, bool, error) {
	if userID == 0 {
		return nil, false, &examengine.AccessDeniedError{Decision: examengine.AccessDecision{Reason: examengine.ReasonAuthenticationRequired}}
	}

	assessment, err := s.catalog.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, false, err
	}

	view, resumed, err := s.resumeActive(ctx, userID, assessmentID)
	if err != nil || resumed {
		return view, resumed, err
	}

	decision, err := s.evaluator.CanStart(ctx, userID, assessment)
	if err != nil {
		return nil, false, storageError(err)
	}
	if !decision.Allowed {
		log.Printf("[AttemptService] Отказ в старте: пользователь #%d, тест #%d, причина %s", userID, assessmentID, decision.Reason)
		return nil, false, &examengine.AccessDeniedError{Decision: *decision}
	}

	if len(assessment.Questions) == 0 {
		return nil, false, fmt.Errorf("%w: assessment #%d has no questions", apperrors.ErrValidation, assessmentID)
	}
	if assessment.DurationSec <= 0 {
		return nil, false, fmt.Errorf("%w: assessment #%d has no duration", apperrors.ErrValidation, assessmentID)
	}

	now := s.clock.Now()
	attempt := &entity.Attempt{
		ID:           uuid.New(),
		UserID:       userID,
		AssessmentID: assessmentID,
		Status:       entity.AttemptStatusInProgress,
		Answers:      entity.AnswerMap{},
		Visited:      []uint{},
		Bookmarked:   []uint{},
		CurrentIndex: 0,
		DurationSec:  assessment.DurationSec,
		StartedAt:    now,
		Deadline:     now.Add(assessment.Duration()),
		Bank:         assessment.Questions,
	}
	attempt.Policy = datatypes.NewJSONType(ResolvePolicy(assessment, s.config.DefaultPolicy))
	attempt.MarkVisited(assessment.Questions[0].ID)

	if err := s.attempts.Create(ctx, attempt, decision.AttemptsMax); err != nil {
		if errors.Is(err, repository.ErrAttemptQuotaExhausted) {
			// Квоту выбрал параллельный старт между проверкой и вставкой
			log.Printf("[AttemptService] Квота исчерпана при вставке: пользователь #%d, тест #%d", userID, assessmentID)
			exhausted := *decision
			exhausted.Allowed = false
			exhausted.Reason = examengine.ReasonAttemptsExhausted
			exhausted.AttemptsUsed = exhausted.AttemptsMax
			exhausted.AttemptsRemaining = 0
			return nil, false, &examengine.AccessDeniedError{Decision: exhausted}
		}
		if errors.Is(err, repository.ErrActiveAttemptExists) {
			// Параллельный старт успел первым: продолжаем его попытку
			view, resumed, rerr := s.resumeActive(ctx, userID, assessmentID)
			if rerr != nil || resumed {
				return view, resumed, rerr
			}
			return nil, false, fmt.Errorf("%w: concurrent start for assessment #%d", apperrors.ErrConflict, assessmentID)
		}
		return nil, false, storageError(err)
	}

	s.arm(attempt)
	log.Printf("[AttemptService] Попытка %s начата: пользователь #%d, тест #%d, дедлайн %s",
		attempt.ID, userID, assessmentID, attempt.Deadline.Format(time.RFC3339))
	return s.viewOf(attempt, now, nil), false, nil
}

// resumeActive возвращает идущую попытку пользователя. Просроченную
// попытку сначала завершает, тогда resumed = false и можно начинать новую.
func (s *AttemptService) resumeActive(ctx context.Context, userID, assessmentID uint) (*AttemptView, bool, error) {
	active, err := s.attempts.GetActive(ctx, userID, assessmentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, storageError(err)
	}

	unlock := s.locks.Lock(active.ID)
	defer unlock()

	now := s.clock.Now()
	if active.IsOverdue(now) {
		if _, _, err := s.finalizeLocked(ctx, active, entity.AttemptStatusExpired); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	s.arm(active)
	return s.viewOf(active, now, nil), true, nil
}

// GetAttemptState возвращает состояние попытки владельцу.
// Просроченная попытка завершается при чтении.
func (s *AttemptService) GetAttemptState(ctx context.Context, userID uint, attemptID uuid.UUID) (*AttemptView, error) {
	unlock := s.locks.Lock(attemptID)
	defer unlock()

	return s.stateLocked(ctx, userID, attemptID)
}

// WatchTimer подписывает владельца на тики идущей попытки и взводит локальный отсчёт.
// Чтение состояния, подписка и взвод идут под блокировкой попытки: завершение
// не может вклиниться между ними, а более позднее придёт в канал событием Finished.
// Для завершённой попытки events == nil и таймер не взводится.
func (s *AttemptService) WatchTimer(ctx context.Context, userID uint, attemptID uuid.UUID) (*AttemptView, <-chan examengine.TickEvent, func(), error) {
	unlock := s.locks.Lock(attemptID)
	defer unlock()

	view, err := s.stateLocked(ctx, userID, attemptID)
	if err != nil {
		return nil, nil, nil, err
	}
	if view.Attempt.IsTerminal() {
		return view, nil, func() {}, nil
	}

	events, unsubscribe := s.timer.Subscribe(attemptID)
	// Попытку могли начать на другом экземпляре сервиса. Взводим локальный
	// отсчёт от того же дедлайна, повторное истечение безопасно.
	s.arm(view.Attempt)
	return view, events, unsubscribe, nil
}

func (s *AttemptService) stateLocked(ctx context.Context, userID uint, attemptID uuid.UUID) (*AttemptView, error) {
	attempt, err := s.loadOwned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if !attempt.IsTerminal() && attempt.IsOverdue(now) {
		result, _, err := s.finalizeLocked(ctx, attempt, entity.AttemptStatusExpired)
		if err != nil {
			return nil, err
		}
		return s.viewOf(attempt, now, result), nil
	}
	if attempt.IsTerminal() {
		result, err := s.loadResult(ctx, attempt)
		if err != nil {
			return nil, err
		}
		return s.viewOf(attempt, now, result), nil
	}
	return s.viewOf(attempt, now, nil), nil
}

// RecordAnswer сохраняет ответ на вопрос
func (s *AttemptService) RecordAnswer(ctx context.Context, userID uint, attemptID uuid.UUID, questionID uint, in examengine.AnswerInput) (*AttemptView, error) {
	return s.mutate(ctx, userID, attemptID, func(a *entity.Attempt, now time.Time) error {
		_, err := examengine.RecordAnswer(a, now, questionID, in)
		return err
	})
}

// ClearAnswer удаляет ответ на вопрос
func (s *AttemptService) ClearAnswer(ctx context.Context, userID uint, attemptID uuid.UUID, questionID uint) (*AttemptView, error) {
	return s.mutate(ctx, userID, attemptID, func(a *entity.Attempt, now time.Time) error {
		_, err := examengine.ClearAnswer(a, now, questionID)
		return err
	})
}

// ToggleBookmark переключает закладку. Второй результат - новое состояние закладки.
func (s *AttemptService) ToggleBookmark(ctx context.Context, userID uint, attemptID uuid.UUID, questionID uint) (*AttemptView, bool, error) {
	bookmarked := false
	view, err := s.mutate(ctx, userID, attemptID, func(a *entity.Attempt, now time.Time) error {
		var err error
		bookmarked, err = examengine.ToggleBookmark(a, now, questionID)
		return err
	})
	return view, bookmarked, err
}

// Navigate делает вопрос с каноническим индексом текущим
func (s *AttemptService) Navigate(ctx context.Context, userID uint, attemptID uuid.UUID, index int) (*AttemptView, error) {
	return s.mutate(ctx, userID, attemptID, func(a *entity.Attempt, now time.Time) error {
		_, err := examengine.GoTo(a, now, index)
		return err
	})
}

// Palette возвращает панель навигации с фильтром по типу вопроса
func (s *AttemptService) Palette(ctx context.Context, userID uint, attemptID uuid.UUID, filter examengine.QuestionFilter) ([]examengine.PaletteEntry, *AttemptView, error) {
	view, err := s.GetAttemptState(ctx, userID, attemptID)
	if err != nil {
		return nil, nil, err
	}
	return examengine.Palette(view.Attempt, filter), view, nil
}

// SubmitAttempt завершает попытку по запросу пользователя.
// Повторная отправка возвращает уже посчитанный результат; второй результат
// false означает, что попытку завершил кто-то раньше (повтор или таймер).
func (s *AttemptService) SubmitAttempt(ctx context.Context, userID uint, attemptID uuid.UUID) (*AttemptView, bool, error) {
	unlock := s.locks.Lock(attemptID)
	defer unlock()

	attempt, err := s.loadOwned(ctx, userID, attemptID)
	if err != nil {
		return nil, false, err
	}

	result, won, err := s.finalizeLocked(ctx, attempt, entity.AttemptStatusSubmitted)
	if err != nil {
		return nil, false, err
	}
	return s.viewOf(attempt, s.clock.Now(), result), won, nil
}

// ExpireAttempt завершает попытку с наступившим дедлайном.
// Вызывается таймером и фоновой проверкой, владельца не проверяет.
func (s *AttemptService) ExpireAttempt(ctx context.Context, attemptID uuid.UUID) (*entity.Result, error) {
	unlock := s.locks.Lock(attemptID)
	defer unlock()

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, storageError(err)
	}

	if !attempt.IsTerminal() && !attempt.IsOverdue(s.clock.Now()) {
		return nil, fmt.Errorf("%w: attempt %s deadline is %s", apperrors.ErrConflict, attemptID, attempt.Deadline.Format(time.RFC3339))
	}
	result, _, err := s.finalizeLocked(ctx, attempt, entity.AttemptStatusExpired)
	return result, err
}

// expireFromTimer - обработчик истечения для таймера и фоновой проверки.
// Ошибка хранилища возвращается, чтобы таймер повторил истечение.
func (s *AttemptService) expireFromTimer(ctx context.Context, attemptID uuid.UUID) error {
	_, err := s.ExpireAttempt(ctx, attemptID)
	if err == nil || errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

// GetResult возвращает результат завершённой попытки владельцу
func (s *AttemptService) GetResult(ctx context.Context, userID uint, attemptID uuid.UUID) (*entity.Result, *entity.Attempt, error) {
	view, err := s.GetAttemptState(ctx, userID, attemptID)
	if err != nil {
		return nil, nil, err
	}
	if view.Result == nil {
		return nil, view.Attempt, fmt.Errorf("%w: attempt %s is still in progress", apperrors.ErrConflict, attemptID)
	}
	return view.Result, view.Attempt, nil
}

// ListResults возвращает результаты пользователя, новые первыми
func (s *AttemptService) ListResults(ctx context.Context, userID uint, page, pageSize int) ([]entity.Result, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	results, total, err := s.results.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, storageError(err)
	}
	return results, total, nil
}

// ResumeTimers взводит таймеры всех незавершённых попыток после рестарта
func (s *AttemptService) ResumeTimers(ctx context.Context) (int, error) {
	armed := 0
	for offset := 0; ; offset += resumePageSize {
		page, err := s.attempts.ListInProgress(ctx, resumePageSize, offset)
		if err != nil {
			return armed, fmt.Errorf("list attempts in progress: %w", err)
		}
		for i := range page {
			if err := s.timer.Arm(page[i].ID, page[i].Deadline); err != nil {
				return armed, fmt.Errorf("arm timer for attempt %s: %w", page[i].ID, err)
			}
			armed++
		}
		if len(page) < resumePageSize {
			return armed, nil
		}
	}
}

// mutate выполняет изменение попытки под блокировкой и сохраняет его.
// Для завершённой или просроченной попытки возвращает итоговое состояние
// вместе с ErrAttemptClosed.
func (s *AttemptService) mutate(ctx context.Context, userID uint, attemptID uuid.UUID, fn func(a *entity.Attempt, now time.Time) error) (*AttemptView, error) {
	unlock := s.locks.Lock(attemptID)
	defer unlock()

	attempt, err := s.loadOwned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if attempt.IsTerminal() {
		return s.closedView(ctx, attempt, now, apperrors.ErrAttemptClosed)
	}
	if attempt.IsOverdue(now) {
		result, _, err := s.finalizeLocked(ctx, attempt, entity.AttemptStatusExpired)
		if err != nil {
			return nil, err
		}
		return s.viewOf(attempt, now, result), examengine.ErrDeadlinePassed
	}

	if err := fn(attempt, now); err != nil {
		return nil, err
	}

	if err := s.attempts.SaveProgress(ctx, attempt); err != nil {
		if !errors.Is(err, repository.ErrAttemptNotInProgress) {
			return nil, storageError(err)
		}
		reloaded, rerr := s.attempts.GetByID(ctx, attemptID)
		if rerr != nil {
			return nil, storageError(rerr)
		}
		if reloaded.IsTerminal() {
			return s.closedView(ctx, reloaded, now, apperrors.ErrAttemptClosed)
		}
		return nil, fmt.Errorf("%w: attempt %s was modified concurrently", apperrors.ErrConflict, attemptID)
	}

	return s.viewOf(attempt, now, nil), nil
}

func (s *AttemptService) closedView(ctx context.Context, attempt *entity.Attempt, now time.Time, cause error) (*AttemptView, error) {
	result, err := s.loadResult(ctx, attempt)
	if err != nil {
		return nil, err
	}
	return s.viewOf(attempt, now, result), cause
}

// finalizeLocked переводит попытку в конечный статус и возвращает результат.
// Вызывается под блокировкой попытки. Если попытку уже завершили, возвращает
// существующий результат и won = false, ничего не пересчитывая.
func (s *AttemptService) finalizeLocked(ctx context.Context, attempt *entity.Attempt, requested entity.AttemptStatus) (*entity.Result, bool, error) {
	for try := 0; try < finalizeRetries; try++ {
		if attempt.IsTerminal() {
			result, err := s.loadResult(ctx, attempt)
			return result, false, err
		}

		now := s.clock.Now()
		status := requested
		finishedAt := now
		if attempt.IsOverdue(now) {
			// После дедлайна отправка считается истечением, время фиксируется по дедлайну
			status = entity.AttemptStatusExpired
			finishedAt = attempt.Deadline
		}

		candidate := *attempt
		candidate.Status = status
		candidate.FinishedAt = &finishedAt

		result := examengine.Score(&candidate)
		result.TerminalStatus = status
		result.CompletedAt = finishedAt

		won, err := s.attempts.Finalize(ctx, &candidate, result)
		if err != nil {
			return nil, false, storageError(err)
		}
		if won {
			*attempt = candidate
			s.cacheResult(result)
			log.Printf("[AttemptService] Попытка %s завершена со статусом %s: %.4g из %.4g (%.2f%%)",
				attempt.ID, status, result.FinalScore, result.TotalMarks, result.Percentage)
			s.notifier.NotifyResult(attempt, result)
			// Снимаем таймер последним: он отменяет контекст отсчёта
			s.timer.Disarm(attempt.ID)
			return result, true, nil
		}

		reloaded, err := s.attempts.GetByID(ctx, attempt.ID)
		if err != nil {
			return nil, false, storageError(err)
		}
		*attempt = *reloaded
	}
	return nil, false, fmt.Errorf("%w: attempt %s kept changing during finalization", apperrors.ErrConflict, attempt.ID)
}

// loadResult читает результат завершённой попытки: кеш, затем база.
// Если результата нет, пересчитывает его по сохранённому состоянию.
func (s *AttemptService) loadResult(ctx context.Context, attempt *entity.Attempt) (*entity.Result, error) {
	key := resultCacheKey(attempt.ID)
	if s.cache != nil {
		var cached entity.Result
		if err := s.cache.GetJSON(key, &cached); err == nil {
			return &cached, nil
		}
	}

	result, err := s.results.GetByAttemptID(ctx, attempt.ID)
	if err == nil {
		s.cacheResult(result)
		return result, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, storageError(err)
	}

	log.Printf("[AttemptService] Результат попытки %s не найден, пересчитываем", attempt.ID)
	result = examengine.Score(attempt)
	result.TerminalStatus = attempt.Status
	result.CompletedAt = attempt.UpdatedAt
	if attempt.FinishedAt != nil {
		result.CompletedAt = *attempt.FinishedAt
	}
	if err := s.results.SaveIfAbsent(ctx, result); err != nil {
		return nil, storageError(err)
	}
	stored, err := s.results.GetByAttemptID(ctx, attempt.ID)
	if err != nil {
		return nil, storageError(err)
	}
	s.cacheResult(stored)
	return stored, nil
}

func (s *AttemptService) cacheResult(result *entity.Result) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(resultCacheKey(result.AttemptID), result, resultCacheTTL); err != nil {
		log.Printf("[AttemptService] Ошибка кеширования результата попытки %s: %v", result.AttemptID, err)
	}
}

func resultCacheKey(attemptID uuid.UUID) string {
	return "result:" + attemptID.String()
}

// loadOwned читает попытку и проверяет, что она принадлежит пользователю
func (s *AttemptService) loadOwned(ctx context.Context, userID uint, attemptID uuid.UUID) (*entity.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, storageError(err)
	}
	if attempt.UserID != userID {
		return nil, fmt.Errorf("%w: attempt %s belongs to another user", apperrors.ErrForbidden, attemptID)
	}
	return attempt, nil
}

func (s *AttemptService) arm(attempt *entity.Attempt) {
	if err := s.timer.Arm(attempt.ID, attempt.Deadline); err != nil {
		// Фоновая проверка завершит попытку и без таймера
		log.Printf("[AttemptService] Не удалось взвести таймер попытки %s: %v", attempt.ID, err)
	}
}

func (s *AttemptService) viewOf(attempt *entity.Attempt, now time.Time, result *entity.Result) *AttemptView {
	return &AttemptView{
		Attempt:    attempt,
		Remaining:  attempt.Remaining(now),
		ServerTime: now,
		Summary:    examengine.Summarize(attempt),
		Result:     result,
	}
}

// storageError помечает неожиданную ошибку хранилища как повторяемую
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrUnavailable) ||
		errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrValidation) ||
		errors.Is(err, apperrors.ErrForbidden) ||
		errors.Is(err, apperrors.ErrConflict) ||
		errors.Is(err, apperrors.ErrAttemptClosed) {
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
}
