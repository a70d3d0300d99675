package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"safemesh/internal/domain/marker"
	"safemesh/internal/domain/sos"
	"safemesh/internal/geo"
)

// RemoteStore — контракт общего удаленного хранилища. Реализация поверх
// Postgres живет в infrastructure/storage/postgres; тесты движка подменяют
// его in-memory фейком.
type RemoteStore interface {
	// FindNearbyMarker ищет существующий маркер того же типа в пределах
	// radiusM от точки. Возвращает nil, если дубликата нет.
	FindNearbyMarker(ctx context.Context, p geo.Point, t marker.Type, radiusM float64) (*marker.Marker, error)

	// UpsertMarker записывает маркер (insert или перезапись по id).
	UpsertMarker(ctx context.Context, m *marker.Marker) error

	// ListMarkersSince возвращает маркеры с last_verified строго больше since.
	ListMarkersSince(ctx context.Context, since int64) ([]marker.Marker, error)

	// MarkerIDs возвращает все идентификаторы маркеров (для сверки сирот).
	MarkerIDs(ctx context.Context) (map[string]struct{}, error)

	// UpsertSOSMarker записывает SOS маркер.
	UpsertSOSMarker(ctx context.Context, m *sos.Marker) error

	// ListSOSMarkersSince возвращает SOS маркеры с created_at строго больше since.
	ListSOSMarkersSince(ctx context.Context, since int64) ([]sos.Marker, error)

	// UpsertSOSResponse записывает отклик. Отклик на исчезнувший SOS
	// возвращает sos.ErrMarkerGone.
	UpsertSOSResponse(ctx context.Context, r *sos.Response) error

	// ListSOSResponsesSince возвращает отклики с updated_at строго больше since.
	ListSOSResponsesSince(ctx context.Context, since int64) ([]sos.Response, error)
}

// CycleResult — итог одного цикла синхронизации.
type CycleResult struct {
	Skipped bool `json:"skipped"`

	PushedMarkers   int `json:"pushed_markers"`
	MergedMarkers   int `json:"merged_markers"`
	PushedSOS       int `json:"pushed_sos"`
	PushedResponses int `json:"pushed_responses"`

	PulledMarkers   int `json:"pulled_markers"`
	PulledSOS       int `json:"pulled_sos"`
	PulledResponses int `json:"pulled_responses"`

	RemovedOrphans int `json:"removed_orphans"`

	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

// EngineConfig — параметры движка синхронизации.
type EngineConfig struct {
	// DedupRadiusM — радиус, в котором два маркера одного типа считаются
	// одной реальной точкой.
	DedupRadiusM float64
}

// Engine — движок синхронизации: push dirty записей, pull по водяным
// знакам, слияние пространственных дубликатов и сверка сирот.
//
// Единовременно выполняется не больше одного цикла: запросы, пришедшие
// во время работающего цикла, завершаются как Skipped. Применение
// realtime-событий (ApplyRemoteEvent) этим замком не гейтится: SQLite
// сериализует записи, а все применяемые строки идемпотентны (last write
// wins на уровне строки).
type Engine struct {
	local  Storage
	remote RemoteStore
	sosSvc *sos.Service
	merge  marker.MergeStrategy
	log    *slog.Logger
	cfg    EngineConfig

	inFlight sync.Mutex

	mu        sync.Mutex
	listeners []func(CycleResult)
	lastCycle *CycleResult
}

// NewEngine создает движок синхронизации.
func NewEngine(local Storage, remote RemoteStore, sosSvc *sos.Service, log *slog.Logger, cfg EngineConfig) *Engine {
	if cfg.DedupRadiusM <= 0 {
		cfg.DedupRadiusM = 50
	}

	return &Engine{
		local:  local,
		remote: remote,
		sosSvc: sosSvc,
		merge:  marker.MaxMerge{},
		log:    log.With("component", "sync_engine"),
		cfg:    cfg,
	}
}

// OnCycle регистрирует слушателя итогов цикла (UI, метрики).
func (e *Engine) OnCycle(fn func(CycleResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// LastCycle возвращает итог последнего завершенного цикла, nil если
// цикл еще не выполнялся.
func (e *Engine) LastCycle() *CycleResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastCycle == nil {
		return nil
	}
	cp := *e.lastCycle
	return &cp
}

// RunSyncCycle выполняет один полный цикл синхронизации. Шаги идут по
// порядку; ошибка шага логируется и не прерывает остальные (offline
// просто оставляет записи dirty до следующего цикла).
func (e *Engine) RunSyncCycle(ctx context.Context) CycleResult {
	if !e.inFlight.TryLock() {
		e.log.Debug("sync cycle already in flight, skipping")
		return CycleResult{Skipped: true}
	}
	defer e.inFlight.Unlock()

	started := time.Now()
	var res CycleResult

	step := func(name string, fn func(context.Context, *CycleResult) error) {
		if err := fn(ctx, &res); err != nil {
			e.log.Warn("sync step failed", "step", name, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
		}
	}

	step("push_markers", e.pushMarkers)
	step("push_sos", e.pushSOSMarkers)
	step("push_responses", e.pushResponses)
	step("pull_markers", e.pullMarkers)
	step("pull_sos", e.pullSOSMarkers)
	step("pull_responses", e.pullResponses)
	step("reconcile_orphans", e.reconcileOrphans)

	res.Duration = time.Since(started)

	e.mu.Lock()
	cp := res
	e.lastCycle = &cp
	listeners := make([]func(CycleResult), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}

	e.log.Info("sync cycle finished",
		"pushed_markers", res.PushedMarkers,
		"merged_markers", res.MergedMarkers,
		"pulled_markers", res.PulledMarkers,
		"pushed_sos", res.PushedSOS,
		"pulled_sos", res.PulledSOS,
		"pushed_responses", res.PushedResponses,
		"pulled_responses", res.PulledResponses,
		"removed_orphans", res.RemovedOrphans,
		"errors", len(res.Errors),
		"duration", res.Duration,
	)

	return res
}

// pushMarkers отправляет dirty маркеры, сливая пространственные дубликаты:
// если удаленное хранилище уже содержит маркер того же типа в пределах
// радиуса дедупликации, локальный поглощается слитой удаленной строкой.
func (e *Engine) pushMarkers(ctx context.Context, res *CycleResult) error {
	dirty, err := e.local.ListDirtyMarkers(ctx)
	if err != nil {
		return fmt.Errorf("list dirty markers: %w", err)
	}

	for i := range dirty {
		m := dirty[i]

		existing, err := e.remote.FindNearbyMarker(ctx, m.Point(), m.Type, e.cfg.DedupRadiusM)
		if err != nil {
			return fmt.Errorf("find nearby marker: %w", err)
		}

		if existing != nil && existing.ID != m.ID {
			merged := e.merge.Merge(m, *existing)
			if err := e.remote.UpsertMarker(ctx, &merged); err != nil {
				return fmt.Errorf("upsert merged marker: %w", err)
			}
			if err := e.local.DeleteMarker(ctx, m.ID); err != nil {
				return fmt.Errorf("absorb local duplicate: %w", err)
			}
			if err := e.local.UpsertMarkerSynced(ctx, &merged); err != nil {
				return fmt.Errorf("store merged marker: %w", err)
			}

			res.MergedMarkers++
			e.log.Info("marker merged into remote duplicate",
				"local_id", m.ID, "remote_id", merged.ID)
			continue
		}

		if err := e.remote.UpsertMarker(ctx, &m); err != nil {
			return fmt.Errorf("upsert marker: %w", err)
		}
		if err := e.local.MarkMarkerSynced(ctx, m.ID); err != nil {
			return fmt.Errorf("mark marker synced: %w", err)
		}
		res.PushedMarkers++
	}

	return nil
}

func (e *Engine) pushSOSMarkers(ctx context.Context, res *CycleResult) error {
	dirty, err := e.local.ListDirtySOSMarkers(ctx)
	if err != nil {
		return fmt.Errorf("list dirty sos markers: %w", err)
	}

	for i := range dirty {
		m := dirty[i]
		if err := e.remote.UpsertSOSMarker(ctx, &m); err != nil {
			return fmt.Errorf("upsert sos marker: %w", err)
		}
		if err := e.local.MarkSOSMarkerSynced(ctx, m.ID); err != nil {
			return fmt.Errorf("mark sos marker synced: %w", err)
		}
		res.PushedSOS++
	}

	return nil
}

// pushResponses отправляет dirty отклики. Отклик на SOS, который уже
// исчез удаленно, отменяется локально без повторных попыток.
func (e *Engine) pushResponses(ctx context.Context, res *CycleResult) error {
	dirty, err := e.local.ListDirtySOSResponses(ctx)
	if err != nil {
		return fmt.Errorf("list dirty responses: %w", err)
	}

	for i := range dirty {
		r := dirty[i]

		err := e.remote.UpsertSOSResponse(ctx, &r)
		if errors.Is(err, sos.ErrMarkerGone) {
			e.log.Info("response target gone remotely, cancelling locally",
				"response_id", r.ID, "sos_id", r.SOSMarkerID)
			if err := e.local.CancelResponseLocal(ctx, r.ID); err != nil {
				return fmt.Errorf("cancel orphaned response: %w", err)
			}
			e.sosSvc.MarkerGone(r.SOSMarkerID)
			continue
		}
		if err != nil {
			return fmt.Errorf("upsert response: %w", err)
		}

		if err := e.local.MarkSOSResponseSynced(ctx, r.ID); err != nil {
			return fmt.Errorf("mark response synced: %w", err)
		}
		res.PushedResponses++
	}

	return nil
}

// pullMarkers применяет удаленные маркеры новее локального водяного знака.
// Локально dirty копия не затирается: ее изменения уйдут следующим push.
func (e *Engine) pullMarkers(ctx context.Context, res *CycleResult) error {
	since, err := e.local.MaxMarkerLastVerified(ctx)
	if err != nil {
		return fmt.Errorf("marker watermark: %w", err)
	}

	remote, err := e.remote.ListMarkersSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list remote markers: %w", err)
	}

	for i := range remote {
		m := remote[i]

		local, err := e.local.GetMarker(ctx, m.ID)
		if err != nil && !errors.Is(err, marker.ErrNotFound) {
			return fmt.Errorf("get local marker: %w", err)
		}
		if local != nil && local.SyncState == marker.SyncStateDirty {
			continue
		}

		if err := e.local.UpsertMarkerSynced(ctx, &m); err != nil {
			return fmt.Errorf("apply remote marker: %w", err)
		}
		res.PulledMarkers++
	}

	return nil
}

func (e *Engine) pullSOSMarkers(ctx context.Context, res *CycleResult) error {
	since, err := e.local.MaxSOSMarkerCreatedAt(ctx)
	if err != nil {
		return fmt.Errorf("sos watermark: %w", err)
	}

	remote, err := e.remote.ListSOSMarkersSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list remote sos markers: %w", err)
	}

	for i := range remote {
		if err := e.applyRemoteSOSMarker(ctx, &remote[i]); err != nil {
			return err
		}
		res.PulledSOS++
	}

	return nil
}

// applyRemoteSOSMarker сохраняет удаленный SOS маркер; завершение на
// удаленной стороне каскадно отменяет локальные активные отклики и чистит
// proximity-состояние координатора.
func (e *Engine) applyRemoteSOSMarker(ctx context.Context, m *sos.Marker) error {
	local, err := e.local.GetSOSMarker(ctx, m.ID)
	if err != nil && !errors.Is(err, sos.ErrNotFound) {
		return fmt.Errorf("get local sos marker: %w", err)
	}
	if local != nil && local.SyncState == sos.SyncStateDirty {
		return nil
	}

	if err := e.local.UpsertSOSMarkerSynced(ctx, m); err != nil {
		return fmt.Errorf("apply remote sos marker: %w", err)
	}

	if m.Status == sos.StatusCompleted {
		if err := e.local.CancelActiveResponsesFor(ctx, m.ID); err != nil {
			return fmt.Errorf("cancel responses for completed sos: %w", err)
		}
		e.sosSvc.MarkerGone(m.ID)
	}

	return nil
}

func (e *Engine) pullResponses(ctx context.Context, res *CycleResult) error {
	since, err := e.local.MaxSOSResponseUpdatedAt(ctx)
	if err != nil {
		return fmt.Errorf("response watermark: %w", err)
	}

	remote, err := e.remote.ListSOSResponsesSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list remote responses: %w", err)
	}

	for i := range remote {
		r := remote[i]

		local, err := e.local.GetSOSResponse(ctx, r.SOSMarkerID, r.ResponderDevice)
		if err != nil && !errors.Is(err, sos.ErrResponseNotFound) {
			return fmt.Errorf("get local response: %w", err)
		}
		if local != nil && local.SyncState == sos.SyncStateDirty {
			continue
		}

		if err := e.local.UpsertSOSResponseSynced(ctx, &r); err != nil {
			return fmt.Errorf("apply remote response: %w", err)
		}
		res.PulledResponses++
	}

	return nil
}

// reconcileOrphans удаляет локальные synced маркеры, которых больше нет
// удаленно (удалены другим устройством или модерацией). Dirty маркеры
// не трогаются: они еще не были отправлены.
func (e *Engine) reconcileOrphans(ctx context.Context, res *CycleResult) error {
	localIDs, err := e.local.ListSyncedMarkerIDs(ctx)
	if err != nil {
		return fmt.Errorf("list synced markers: %w", err)
	}
	if len(localIDs) == 0 {
		return nil
	}

	remoteIDs, err := e.remote.MarkerIDs(ctx)
	if err != nil {
		return fmt.Errorf("list remote marker ids: %w", err)
	}

	for _, id := range localIDs {
		if _, ok := remoteIDs[id]; ok {
			continue
		}
		if err := e.local.DeleteMarker(ctx, id); err != nil {
			return fmt.Errorf("delete orphaned marker: %w", err)
		}
		res.RemovedOrphans++
		e.log.Info("orphaned marker removed", "marker_id", id)
	}

	return nil
}

// ApplyRemoteEvent применяет одно realtime-уведомление к локальному
// хранилищу. Не гейтится замком цикла; строки идемпотентны, поэтому
// гонка с параллельным pull разрешается как last write wins.
func (e *Engine) ApplyRemoteEvent(ctx context.Context, ev *RemoteEvent) error {
	switch ev.Table {
	case TableMarkers:
		if ev.Kind == EventDelete {
			m, err := ev.DecodeMarker()
			if err != nil {
				return err
			}
			local, err := e.local.GetMarker(ctx, m.ID)
			if errors.Is(err, marker.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("get local marker: %w", err)
			}
			if local.SyncState == marker.SyncStateDirty {
				return nil
			}
			return e.local.DeleteMarker(ctx, m.ID)
		}

		m, err := ev.DecodeMarker()
		if err != nil {
			return err
		}
		local, err := e.local.GetMarker(ctx, m.ID)
		if err != nil && !errors.Is(err, marker.ErrNotFound) {
			return fmt.Errorf("get local marker: %w", err)
		}
		if local != nil && local.SyncState == marker.SyncStateDirty {
			return nil
		}
		return e.local.UpsertMarkerSynced(ctx, m)

	case TableSOSMarkers:
		m, err := ev.DecodeSOSMarker()
		if err != nil {
			return err
		}
		// Завершенный SOS короткоживущий: событие со status=completed
		// равносильно удалению, строка не ждет плановой чистки. Удаление
		// сносит и локальные отклики вместе с их записями очереди.
		if ev.Kind == EventDelete || m.Status == sos.StatusCompleted {
			e.sosSvc.MarkerGone(m.ID)
			return e.local.DeleteSOSMarker(ctx, m.ID)
		}
		return e.applyRemoteSOSMarker(ctx, m)

	case TableSOSResponses:
		r, err := ev.DecodeSOSResponse()
		if err != nil {
			return err
		}
		if ev.Kind == EventDelete {
			return e.local.DeleteSOSResponse(ctx, r.ID)
		}
		local, err := e.local.GetSOSResponse(ctx, r.SOSMarkerID, r.ResponderDevice)
		if err != nil && !errors.Is(err, sos.ErrResponseNotFound) {
			return fmt.Errorf("get local response: %w", err)
		}
		if local != nil && local.SyncState == sos.SyncStateDirty {
			return nil
		}
		return e.local.UpsertSOSResponseSynced(ctx, r)

	default:
		e.log.Debug("ignoring event for unknown table", "table", ev.Table)
		return nil
	}
}
