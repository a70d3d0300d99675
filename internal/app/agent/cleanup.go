package agent

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/exp/slog"

	"safemesh/internal/domain/sos"
)

// RemoteCleaner удаляет истекшие SOS маркеры из общего хранилища.
// Удаление каскадом сносит отклики, а delete-уведомления доводят его
// до остальных устройств.
type RemoteCleaner interface {
	DeleteExpiredSOS(ctx context.Context, nowMs, staleMs int64) (int, error)
}

// CleanupRunner по расписанию удаляет истекшие SOS маркеры: завершенные
// с прошедшим grace-окном и брошенные активные старше stale-окна.
// Локальная чистка выполняется всегда; удаленная — best effort, без сети
// ее доделает любое другое устройство.
type CleanupRunner struct {
	cron   *cron.Cron
	sosSvc *sos.Service
	remote RemoteCleaner
	log    *slog.Logger
}

// NewCleanupRunner создает раннер. spec — cron-выражение, например
// "@every 10m"; stale — окно, после которого активный SOS считается
// брошенным.
func NewCleanupRunner(sosSvc *sos.Service, remote RemoteCleaner, log *slog.Logger, spec string, stale time.Duration) (*CleanupRunner, error) {
	r := &CleanupRunner{
		cron:   cron.New(),
		sosSvc: sosSvc,
		remote: remote,
		log:    log.With("component", "sos_cleanup"),
	}

	_, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := r.sosSvc.Cleanup(ctx); err != nil {
			r.log.Error("sos cleanup failed", "error", err)
		}

		n, err := r.remote.DeleteExpiredSOS(ctx, time.Now().UnixMilli(), stale.Milliseconds())
		if err != nil {
			r.log.Warn("remote sos cleanup failed, will retry on schedule", "error", err)
			return
		}
		if n > 0 {
			r.log.Info("expired sos markers removed remotely", "count", n)
		}
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Start запускает расписание.
func (r *CleanupRunner) Start() {
	r.cron.Start()
	r.log.Info("sos cleanup scheduled")
}

// Stop останавливает расписание и ждет завершения текущего запуска.
func (r *CleanupRunner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}
