package agent

import (
	"context"
	"time"

	"golang.org/x/exp/slog"
)

// Scheduler гонит циклы синхронизации по таймеру и по ручным запросам.
// Все запросы сводятся в один канал; защита от наложения циклов живет
// в самом движке.
type Scheduler struct {
	engine   *Engine
	log      *slog.Logger
	interval time.Duration

	trigger chan struct{}
	done    chan struct{}
}

// NewScheduler создает планировщик с заданным интервалом.
func NewScheduler(engine *Engine, log *slog.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		log:      log.With("component", "sync_scheduler"),
		interval: interval,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Run крутит цикл до отмены контекста. Первый цикл выполняется сразу.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.engine.RunSyncCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.engine.RunSyncCycle(ctx)
		case <-s.trigger:
			s.engine.RunSyncCycle(ctx)
		}
	}
}

// Trigger запрашивает внеочередной цикл. Не блокируется: если запрос
// уже стоит, второй не нужен.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Wait блокируется до завершения Run.
func (s *Scheduler) Wait() {
	<-s.done
}
