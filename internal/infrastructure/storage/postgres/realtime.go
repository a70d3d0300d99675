package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"
)

// Channel — имя канала pg_notify, в который триггеры хранилища публикуют
// изменения строк (см. миграции).
const Channel = "safemesh_changes"

// Listener слушает realtime-уведомления хранилища через LISTEN/NOTIFY.
// Держит выделенное соединение из пула; при обрыве переподключается
// с экспоненциальной паузой. Пропущенные за время обрыва события не
// восстанавливаются — их догоняет очередной цикл pull.
type Listener struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewListener(pool *pgxpool.Pool, log *slog.Logger) *Listener {
	return &Listener{
		pool: pool,
		log:  log.With("component", "realtime_listener"),
	}
}

// Run слушает канал до отмены контекста, передавая полезную нагрузку
// каждого уведомления в handler.
func (l *Listener) Run(ctx context.Context, handler func(payload []byte)) {
	backoff := time.Second

	for {
		err := l.listen(ctx, handler)
		if ctx.Err() != nil {
			l.log.Info("realtime listener stopped")
			return
		}
		l.log.Warn("realtime connection lost, reconnecting",
			"error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (l *Listener) listen(ctx context.Context, handler func(payload []byte)) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	l.log.Info("listening for remote changes", "channel", Channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		handler([]byte(n.Payload))
	}
}
