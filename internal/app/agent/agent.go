package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"
	"time"

	"golang.org/x/exp/slog"

	"safemesh/internal/config"
	"safemesh/internal/domain/route"
	"safemesh/internal/domain/sos"
	"safemesh/internal/infrastructure/migration"
	"safemesh/internal/infrastructure/storage/postgres"
)

// App — агент устройства: локальное хранилище, координатор SOS, движок
// синхронизации, realtime-слушатель и локальный read-only API.
//
// Агент стартует и без связи с общим хранилищем: локальные операции
// работают всегда, а циклы синхронизации просто логируют ошибки,
// пока сеть не вернется.
type App struct {
	config *config.Config
	log    *slog.Logger

	storage   *SQLiteStorage
	remote    *postgres.Storage
	sosSvc    *sos.Service
	engine    *Engine
	scheduler *Scheduler
	listener  *postgres.Listener
	cleanup   *CleanupRunner
	server    *http.Server

	wg     gosync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	storage, err := NewSQLiteStorage(cfg.DataPath, cfg.RouteCacheTTL())
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации локального хранилища: %w", err)
	}

	remote, err := postgres.New(cfg)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("ошибка инициализации удаленного хранилища: %w", err)
	}

	sosSvc := sos.NewService(storage, log, &sos.ServiceConfig{
		Cooldown:          cfg.SOSCooldown(),
		MaxResponders:     cfg.SOSMaxResponders,
		Grace:             cfg.SOSGrace(),
		Stale:             cfg.SOSStale(),
		ProximityRadiusM:  cfg.ProximityRadiusM,
		ArrivalThresholdM: cfg.ArrivalThresholdM,
		WalkingSpeedKmh:   cfg.WalkingSpeedKmh,
	})

	remoteStore := postgres.NewRemote(remote.Pool(), log)
	engine := NewEngine(storage, remoteStore, sosSvc, log, EngineConfig{
		DedupRadiusM: cfg.DedupRadiusM,
	})

	cleanup, err := NewCleanupRunner(sosSvc, remoteStore, log, "@every 10m", cfg.SOSStale())
	if err != nil {
		storage.Close()
		remote.Close()
		return nil, fmt.Errorf("ошибка инициализации чистки SOS: %w", err)
	}

	app := &App{
		config:    cfg,
		log:       log,
		storage:   storage,
		remote:    remote,
		sosSvc:    sosSvc,
		engine:    engine,
		scheduler: NewScheduler(engine, log, cfg.SyncInterval()),
		listener:  postgres.NewListener(remote.Pool(), log),
		cleanup:   cleanup,
	}

	return app, nil
}

// SetAPIHandler подключает HTTP обработчик локального API. Вызывается
// до Run; без обработчика агент работает без локального API.
func (a *App) SetAPIHandler(h http.Handler) {
	a.server = &http.Server{
		Addr:    a.config.RunAddress,
		Handler: h,
	}
}

// Storage возвращает локальное хранилище агента.
func (a *App) Storage() Storage {
	return a.storage
}

// Remote возвращает подключение к общему хранилищу.
func (a *App) Remote() *postgres.Storage {
	return a.remote
}

// SOS возвращает координатор SOS.
func (a *App) SOS() *sos.Service {
	return a.sosSvc
}

// Engine возвращает движок синхронизации.
func (a *App) Engine() *Engine {
	return a.engine
}

// DeviceID возвращает идентификатор этой установки.
func (a *App) DeviceID() string {
	return a.storage.DeviceID()
}

// Router оборачивает внешний роутер кэшем маршрутов этого устройства.
// Сам движок маршрутизации агент не реализует — его подключает вызывающая
// сторона.
func (a *App) Router(inner route.Router) route.Router {
	return route.NewCachedRouter(inner, a.storage, a.config.RouteCacheMatchM, a.log)
}

// Migrate накатывает миграции общего хранилища. При работе без сети
// возвращает ошибку — агент от этого не зависит.
func (a *App) Migrate() error {
	mg := migration.NewMigration(a.config, migration.DefaultEngine)
	return mg.Up()
}

// Run запускает все фоновые контуры агента и блокируется до сигнала
// завершения.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.handleSignals()

	// Миграции — best effort: без сети агент все равно работает
	if err := a.Migrate(); err != nil {
		a.log.Warn("не удалось накатить миграции, продолжаем offline", "error", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.scheduler.Run(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.listener.Run(ctx, func(payload []byte) {
			ev, err := DecodeEvent(payload)
			if err != nil {
				a.log.Warn("ошибка разбора realtime события", "error", err)
				return
			}
			if err := a.engine.ApplyRemoteEvent(ctx, ev); err != nil {
				a.log.Warn("ошибка применения realtime события",
					"table", ev.Table, "kind", ev.Kind, "error", err)
			}
		})
	}()

	a.cleanup.Start()

	if a.server != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.log.Info("локальный API запущен", "address", a.config.RunAddress)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("ошибка локального API", "error", err)
			}
		}()
	}

	a.log.Info("агент запущен",
		"device_id", a.DeviceID(),
		"env", a.config.Env,
	)

	<-ctx.Done()
	a.shutdown()
	a.wg.Wait()
	return nil
}

// TriggerSync запрашивает внеочередной цикл синхронизации.
func (a *App) TriggerSync() {
	a.scheduler.Trigger()
}

// SyncOnce выполняет один цикл синхронизации и возвращает его итог.
func (a *App) SyncOnce(ctx context.Context) CycleResult {
	return a.engine.RunSyncCycle(ctx)
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigChan
	a.log.Info("получен сигнал завершения", "signal", sig.String())

	if a.cancel != nil {
		a.cancel()
	}
}

func (a *App) shutdown() {
	a.log.Info("завершение работы агента...")

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("ошибка остановки локального API", "error", err)
		}
	}

	a.cleanup.Stop()
}

// Close освобождает ресурсы агента. Для разовых CLI команд, когда
// фоновые контуры не запускались.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.remote.Close()
	return a.storage.Close()
}
