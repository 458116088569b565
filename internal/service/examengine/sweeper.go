package examengine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/yourusername/mocktest-api/internal/domain/repository"
)

// sweepTimeout ограничивает один проход по расписанию
const sweepTimeout = 4 * time.Minute

// Sweeper по расписанию завершает попытки с наступившим дедлайном,
// которые не завершил таймер (например, после падения процесса).
type Sweeper struct {
	config   *Config
	attempts repository.AttemptRepository
	clock    Clock
	expire   ExpireFunc
	cron     *cron.Cron
}

// NewSweeper создает новый Sweeper
func NewSweeper(config *Config, attempts repository.AttemptRepository, clock Clock, expire ExpireFunc) *Sweeper {
	return &Sweeper{
		config:   config,
		attempts: attempts,
		clock:    clock,
		expire:   expire,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)), cron.WithLocation(time.UTC)),
	}
}

// Start регистрирует задачу и запускает планировщик
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.config.SweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		expired, err := s.RunOnce(ctx)
		if err != nil {
			log.Printf("[Sweeper] Проход завершён с ошибками (завершено %d): %v", expired, err)
			return
		}
		if expired > 0 {
			log.Printf("[Sweeper] Завершено просроченных попыток: %d", expired)
		}
	})
	if err != nil {
		return fmt.Errorf("add sweep job %q: %w", s.config.SweepSpec, err)
	}
	s.cron.Start()
	log.Printf("[Sweeper] Запущен, расписание %q, пакет %d", s.config.SweepSpec, s.config.SweepBatch)
	return nil
}

// Stop останавливает планировщик и ждёт текущий проход
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce завершает одну пачку просроченных попыток.
// Ошибки отдельных попыток собираются вместе и не прерывают проход.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	overdue, err := s.attempts.ListOverdue(ctx, s.clock.Now(), s.config.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list overdue attempts: %w", err)
	}

	var result *multierror.Error
	expired := 0
	for i := range overdue {
		if ctx.Err() != nil {
			result = multierror.Append(result, ctx.Err())
			break
		}
		if err := s.expire(ctx, overdue[i].ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("attempt %s: %w", overdue[i].ID, err))
			continue
		}
		expired++
	}
	return expired, result.ErrorOrNil()
}
