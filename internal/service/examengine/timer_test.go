package examengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTimer(clock Clock) *ExpiryTimer {
	config := DefaultConfig()
	config.TickInterval = 5 * time.Millisecond
	config.RetryInterval = 5 * time.Millisecond
	config.MaxRetryInterval = 20 * time.Millisecond
	return NewExpiryTimer(config, clock)
}

func TestExpiryTimer_ArmBeforeStart(t *testing.T) {
	timer := newTestTimer(newFakeClock(testStart))

	err := timer.Arm(uuid.New(), testStart.Add(time.Minute))

	assert.Error(t, err)
}

func TestExpiryTimer_ExpiresOnceAtDeadline(t *testing.T) {
	// Arrange
	clock := newFakeClock(testStart)
	timer := newTestTimer(clock)
	var calls int32
	timer.Start(context.Background(), func(ctx context.Context, id uuid.UUID) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	defer timer.Stop()

	id := uuid.New()
	require.NoError(t, timer.Arm(id, testStart.Add(60*time.Second)))
	require.NoError(t, timer.Arm(id, testStart.Add(60*time.Second)), "Повторный Arm игнорируется")

	// Act: до дедлайна ничего не происходит
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.True(t, timer.IsArmed(id))

	clock.Advance(61 * time.Second)

	// Assert
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !timer.IsArmed(id) }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "Истечение вызывается ровно один раз")
}

func TestExpiryTimer_RetriesUntilSuccess(t *testing.T) {
	// Arrange
	clock := newFakeClock(testStart)
	timer := newTestTimer(clock)
	var calls int32
	timer.Start(context.Background(), func(ctx context.Context, id uuid.UUID) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("database unavailable")
		}
		return nil
	})
	defer timer.Stop()

	// Act: дедлайн уже наступил
	id := uuid.New()
	require.NoError(t, timer.Arm(id, testStart.Add(-time.Second)))

	// Assert
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return timer.ArmedCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestExpiryTimer_DisarmStopsCountdown(t *testing.T) {
	clock := newFakeClock(testStart)
	timer := newTestTimer(clock)
	var calls int32
	timer.Start(context.Background(), func(ctx context.Context, id uuid.UUID) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	defer timer.Stop()

	id := uuid.New()
	require.NoError(t, timer.Arm(id, testStart.Add(time.Minute)))
	timer.Disarm(id)
	clock.Advance(2 * time.Minute)

	time.Sleep(30 * time.Millisecond)
	assert.False(t, timer.IsArmed(id))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "Снятый таймер не завершает попытку")
}

func TestExpiryTimer_SubscribeReceivesTicksAndFinish(t *testing.T) {
	// Arrange
	clock := newFakeClock(testStart)
	timer := newTestTimer(clock)
	timer.Start(context.Background(), func(ctx context.Context, id uuid.UUID) error { return nil })
	defer timer.Stop()

	id := uuid.New()
	events, unsubscribe := timer.Subscribe(id)
	defer unsubscribe()

	// Act
	require.NoError(t, timer.Arm(id, testStart.Add(90*time.Second+500*time.Millisecond)))

	// Assert: оставшееся время округляется вверх
	select {
	case e := <-events:
		assert.Equal(t, 91, e.RemainingSec)
		assert.False(t, e.Finished)
	case <-time.After(time.Second):
		t.Fatal("Событие таймера не получено")
	}

	clock.Advance(2 * time.Minute)

	var last TickEvent
	for e := range events {
		last = e
	}
	assert.True(t, last.Finished, "Последнее событие сообщает о завершении")
}

func TestExpiryTimer_StopCancelsRetries(t *testing.T) {
	clock := newFakeClock(testStart)
	timer := newTestTimer(clock)
	var mu sync.Mutex
	started := false
	timer.Start(context.Background(), func(ctx context.Context, id uuid.UUID) error {
		mu.Lock()
		started = true
		mu.Unlock()
		return errors.New("still failing")
	})

	require.NoError(t, timer.Arm(uuid.New(), testStart))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return started
	}, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		timer.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop должен прерывать повторы")
	}
}

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, 0, ceilSeconds(0))
	assert.Equal(t, 1, ceilSeconds(time.Millisecond))
	assert.Equal(t, 1, ceilSeconds(time.Second))
	assert.Equal(t, 2, ceilSeconds(1001*time.Millisecond))
}
