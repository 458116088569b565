package examengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExpireFunc завершает попытку по истечении времени.
// Ненулевая ошибка означает, что истечение нужно повторить.
type ExpireFunc func(ctx context.Context, attemptID uuid.UUID) error

// TickEvent - событие таймера для подписчиков (WebSocket)
type TickEvent struct {
	AttemptID    uuid.UUID `json:"attempt_id"`
	RemainingSec int       `json:"remaining_sec"`
	Finished     bool      `json:"finished"`
}

// armedTimer - обратный отсчёт одной попытки
type armedTimer struct {
	deadline time.Time
	cancel   context.CancelFunc
}

// ExpiryTimer ведёт серверный обратный отсчёт для каждой активной попытки.
// Оставшееся время всегда считается от абсолютного дедлайна, поэтому
// переподключение клиента или перезапуск сервиса не сдвигает его.
type ExpiryTimer struct {
	config *Config
	clock  Clock

	onExpire ExpireFunc
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	timers sync.Map // map[uuid.UUID]*armedTimer

	subMu       sync.Mutex
	subscribers map[uuid.UUID]map[chan TickEvent]struct{}
}

// NewExpiryTimer создает таймер. Отсчёты начинаются после Start.
func NewExpiryTimer(config *Config, clock Clock) *ExpiryTimer {
	return &ExpiryTimer{
		config:      config,
		clock:       clock,
		subscribers: make(map[uuid.UUID]map[chan TickEvent]struct{}),
	}
}

// Start привязывает таймер к контексту приложения. Запрос клиента
// на этот контекст не влияет: закрытие клиента не отменяет отсчёт.
func (t *ExpiryTimer) Start(parent context.Context, onExpire ExpireFunc) {
	t.ctx, t.cancel = context.WithCancel(parent)
	t.onExpire = onExpire
	log.Printf("[ExpiryTimer] Запущен, шаг %v", t.config.TickInterval)
}

// Stop останавливает все отсчёты и ждёт завершения горутин
func (t *ExpiryTimer) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
	log.Printf("[ExpiryTimer] Остановлен")
}

// Arm запускает отсчёт до дедлайна. Повторный вызов для той же попытки ничего не делает.
func (t *ExpiryTimer) Arm(attemptID uuid.UUID, deadline time.Time) error {
	if t.ctx == nil {
		return fmt.Errorf("expiry timer is not started")
	}
	if t.ctx.Err() != nil {
		return t.ctx.Err()
	}

	ctx, cancel := context.WithCancel(t.ctx)
	entry := &armedTimer{deadline: deadline, cancel: cancel}
	if _, loaded := t.timers.LoadOrStore(attemptID, entry); loaded {
		cancel()
		return nil
	}

	t.wg.Add(1)
	go t.run(ctx, attemptID, entry)
	return nil
}

// Disarm останавливает отсчёт попытки и уведомляет подписчиков о завершении
func (t *ExpiryTimer) Disarm(attemptID uuid.UUID) {
	if value, ok := t.timers.LoadAndDelete(attemptID); ok {
		value.(*armedTimer).cancel()
	}
	t.finish(attemptID)
}

// IsArmed сообщает, идёт ли отсчёт для попытки
func (t *ExpiryTimer) IsArmed(attemptID uuid.UUID) bool {
	_, ok := t.timers.Load(attemptID)
	return ok
}

// ArmedCount возвращает число активных отсчётов
func (t *ExpiryTimer) ArmedCount() int {
	n := 0
	t.timers.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func (t *ExpiryTimer) run(ctx context.Context, attemptID uuid.UUID, entry *armedTimer) {
	defer t.wg.Done()
	defer t.timers.CompareAndDelete(attemptID, entry)

	ticker := time.NewTicker(t.config.TickInterval)
	defer ticker.Stop()

	for {
		remaining := entry.deadline.Sub(t.clock.Now())
		if remaining <= 0 {
			t.expire(ctx, attemptID)
			return
		}
		t.publish(TickEvent{AttemptID: attemptID, RemainingSec: ceilSeconds(remaining)})

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// expire вызывает onExpire, пока не получится или пока таймер не остановят.
// Пауза между попытками растёт экспоненциально до MaxRetryInterval.
func (t *ExpiryTimer) expire(ctx context.Context, attemptID uuid.UUID) {
	wait := t.config.RetryInterval
	for retry := 0; ; retry++ {
		err := t.onExpire(ctx, attemptID)
		if err == nil {
			if retry > 0 {
				log.Printf("[ExpiryTimer] Попытка %s завершена после %d повторов", attemptID, retry)
			}
			t.finish(attemptID)
			return
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}

		log.Printf("[ExpiryTimer] Ошибка завершения попытки %s (повтор через %v): %v", attemptID, wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			log.Printf("[ExpiryTimer] Завершение попытки %s прервано остановкой таймера", attemptID)
			return
		}

		wait *= 2
		if wait > t.config.MaxRetryInterval {
			wait = t.config.MaxRetryInterval
		}
	}
}

// Subscribe подписывает на события отсчёта попытки.
// Канал закрывается после события Finished или при вызове unsubscribe.
func (t *ExpiryTimer) Subscribe(attemptID uuid.UUID) (<-chan TickEvent, func()) {
	ch := make(chan TickEvent, 4)

	t.subMu.Lock()
	subs, ok := t.subscribers[attemptID]
	if !ok {
		subs = make(map[chan TickEvent]struct{})
		t.subscribers[attemptID] = subs
	}
	subs[ch] = struct{}{}
	t.subMu.Unlock()

	unsubscribe := func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if subs, ok := t.subscribers[attemptID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(t.subscribers, attemptID)
			}
		}
	}
	return ch, unsubscribe
}

// publish рассылает событие без блокировки: медленный подписчик пропускает тик
func (t *ExpiryTimer) publish(event TickEvent) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for ch := range t.subscribers[event.AttemptID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// finish отправляет финальное событие и закрывает каналы подписчиков
func (t *ExpiryTimer) finish(attemptID uuid.UUID) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	subs, ok := t.subscribers[attemptID]
	if !ok {
		return
	}
	final := TickEvent{AttemptID: attemptID, RemainingSec: 0, Finished: true}
	for ch := range subs {
		select {
		case ch <- final:
		default:
			// буфер полон: вытесняем самый старый тик, финальное событие важнее
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- final:
			default:
			}
		}
		close(ch)
	}
	delete(t.subscribers, attemptID)
}

func ceilSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
