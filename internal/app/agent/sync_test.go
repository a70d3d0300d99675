package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"safemesh/internal/domain/marker"
	"safemesh/internal/domain/sos"
	"safemesh/internal/geo"
)

// fakeRemote — in-memory удаленное хранилище для тестов движка.
type fakeRemote struct {
	markers    map[string]marker.Marker
	sosMarkers map[string]sos.Marker
	responses  map[string]sos.Response

	failUpserts bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		markers:    make(map[string]marker.Marker),
		sosMarkers: make(map[string]sos.Marker),
		responses:  make(map[string]sos.Response),
	}
}

func (f *fakeRemote) FindNearbyMarker(_ context.Context, p geo.Point, t marker.Type, radiusM float64) (*marker.Marker, error) {
	for _, m := range f.markers {
		if m.Type != t {
			continue
		}
		if geo.DistanceM(p, m.Point()) <= radiusM {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRemote) UpsertMarker(_ context.Context, m *marker.Marker) error {
	if f.failUpserts {
		return assert.AnError
	}
	f.markers[m.ID] = *m
	return nil
}

func (f *fakeRemote) ListMarkersSince(_ context.Context, since int64) ([]marker.Marker, error) {
	var out []marker.Marker
	for _, m := range f.markers {
		if m.LastVerified > since {
			m.SyncState = marker.SyncStateSynced
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRemote) MarkerIDs(_ context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(f.markers))
	for id := range f.markers {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (f *fakeRemote) UpsertSOSMarker(_ context.Context, m *sos.Marker) error {
	if f.failUpserts {
		return assert.AnError
	}
	f.sosMarkers[m.ID] = *m
	return nil
}

func (f *fakeRemote) ListSOSMarkersSince(_ context.Context, since int64) ([]sos.Marker, error) {
	var out []sos.Marker
	for _, m := range f.sosMarkers {
		if m.CreatedAt > since {
			m.SyncState = sos.SyncStateSynced
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRemote) UpsertSOSResponse(_ context.Context, r *sos.Response) error {
	if f.failUpserts {
		return assert.AnError
	}
	if _, ok := f.sosMarkers[r.SOSMarkerID]; !ok {
		return sos.ErrMarkerGone
	}
	f.responses[r.ID] = *r
	return nil
}

func (f *fakeRemote) ListSOSResponsesSince(_ context.Context, since int64) ([]sos.Response, error) {
	var out []sos.Response
	for _, r := range f.responses {
		if r.UpdatedAt > since {
			r.SyncState = sos.SyncStateSynced
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestEngine(t *testing.T) (*Engine, *SQLiteStorage, *fakeRemote) {
	t.Helper()

	st, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "agent.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	remote := newFakeRemote()
	sosSvc := sos.NewService(st, log, nil)
	engine := NewEngine(st, remote, sosSvc, log, EngineConfig{DedupRadiusM: 50})

	return engine, st, remote
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestSyncCyclePushMarkers(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	m := marker.New(marker.TypeShelter, 50.45, 30.52, "подвал", "", nil, st.DeviceID())
	require.NoError(t, st.InsertMarker(ctx, &m))

	res := engine.RunSyncCycle(ctx)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.PushedMarkers)
	assert.Empty(t, res.Errors)

	_, ok := remote.markers[m.ID]
	assert.True(t, ok)

	got, err := st.GetMarker(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, marker.SyncStateSynced, got.SyncState)

	depth, err := st.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestSyncCycleMergesSpatialDuplicate(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	// Удаленно уже есть маркер того же типа в ~11 м от локального
	existing := marker.New(marker.TypeShelter, 50.4500, 30.5200, "подвал дом 5", "глубокий подвал", nil, "other-device")
	existing.Agrees = 3
	existing.Disagrees = 1
	existing.ConfidenceScore = marker.Confidence(3, 1)
	remote.markers[existing.ID] = existing

	local := marker.New(marker.TypeShelter, 50.4501, 30.5200, "подвал", "", nil, st.DeviceID())
	require.NoError(t, st.InsertMarker(ctx, &local))

	res := engine.RunSyncCycle(ctx)
	assert.Equal(t, 1, res.MergedMarkers)
	assert.Zero(t, res.PushedMarkers)

	// Локальная строка поглощена: идентичность осталась за удаленной
	_, err := st.GetMarker(ctx, local.ID)
	assert.ErrorIs(t, err, marker.ErrNotFound)

	merged, err := st.GetMarker(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, merged.Agrees)
	assert.Equal(t, 1, merged.Disagrees)
	assert.Equal(t, "глубокий подвал", merged.Description)
	assert.Equal(t, marker.SyncStateSynced, merged.SyncState)

	assert.Equal(t, 3, remote.markers[existing.ID].Agrees)
}

func TestSyncCyclePullSkipsLocalDirty(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	m := marker.New(marker.TypeDanger, 50.45, 30.52, "обстрел", "", nil, "other-device")
	require.NoError(t, st.UpsertMarkerSynced(ctx, &m))
	require.NoError(t, st.CastVote(ctx, m.ID, st.DeviceID(), marker.VoteAgree))

	// Удаленная копия ушла вперед, но локальная dirty не затирается
	remoteCopy := m
	remoteCopy.Agrees = 10
	remoteCopy.LastVerified = time.Now().Add(time.Hour).UnixMilli()
	remote.markers[m.ID] = remoteCopy

	// Ломаем push, чтобы dirty строка дожила до шага pull
	remote.failUpserts = true
	res := engine.RunSyncCycle(ctx)
	assert.NotEmpty(t, res.Errors)

	got, err := st.GetMarker(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, marker.SyncStateDirty, got.SyncState)
	assert.Equal(t, 2, got.Agrees)
}

func TestSyncCycleReconcileOrphans(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	// Synced маркер, которого нет удаленно — сирота, удаляется
	orphan := marker.New(marker.TypeSafe, 50.45, 30.52, "укрытие", "", nil, "other-device")
	require.NoError(t, st.UpsertMarkerSynced(ctx, &orphan))

	// Dirty маркер не трогается: он еще не отправлялся
	local := marker.New(marker.TypeFood, 50.46, 30.53, "вода", "", nil, st.DeviceID())
	require.NoError(t, st.InsertMarker(ctx, &local))
	remote.failUpserts = true

	res := engine.RunSyncCycle(ctx)
	assert.Equal(t, 1, res.RemovedOrphans)

	_, err := st.GetMarker(ctx, orphan.ID)
	assert.ErrorIs(t, err, marker.ErrNotFound)
	_, err = st.GetMarker(ctx, local.ID)
	assert.NoError(t, err)
}

func TestSyncCycleResponseTargetGone(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	// SOS существует только локально как synced, удаленно его уже нет
	m := sos.NewMarker("creator", geo.Point{Lat: 50.45, Lon: 30.52})
	require.NoError(t, st.UpsertSOSMarkerSynced(ctx, &m))

	r := sos.Response{
		ID: "resp-1", SOSMarkerID: m.ID, ResponderDevice: st.DeviceID(),
		CreatedAt: m.CreatedAt, UpdatedAt: time.Now().UnixMilli(),
		Status: sos.ResponseActive,
	}
	require.NoError(t, st.InsertSOSResponse(ctx, &r))

	res := engine.RunSyncCycle(ctx)
	assert.Zero(t, res.PushedResponses)

	got, err := st.GetSOSResponse(ctx, m.ID, st.DeviceID())
	require.NoError(t, err)
	assert.Equal(t, sos.ResponseCancelled, got.Status)

	_, ok := remote.responses[r.ID]
	assert.False(t, ok)
}

func TestSyncCyclePullCompletedSOSCancelsResponses(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	m := sos.NewMarker("creator", geo.Point{Lat: 50.45, Lon: 30.52})
	require.NoError(t, st.UpsertSOSMarkerSynced(ctx, &m))

	r := sos.Response{
		ID: "resp-1", SOSMarkerID: m.ID, ResponderDevice: st.DeviceID(),
		Status: sos.ResponseActive,
	}
	require.NoError(t, st.InsertSOSResponse(ctx, &r))
	require.NoError(t, st.MarkSOSResponseSynced(ctx, r.ID))

	// Создатель завершил SOS на другом устройстве
	completed := m
	completed.Status = sos.StatusCompleted
	now := time.Now().UnixMilli()
	completed.CompletedAt = &now
	completed.CreatedAt = now // заново попадает в окно pull
	remote.sosMarkers[m.ID] = completed

	engine.RunSyncCycle(ctx)

	gotMarker, err := st.GetSOSMarker(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, sos.StatusCompleted, gotMarker.Status)

	gotResp, err := st.GetSOSResponse(ctx, m.ID, st.DeviceID())
	require.NoError(t, err)
	assert.Equal(t, sos.ResponseCancelled, gotResp.Status)
}

func TestApplyRemoteEventMarker(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	m := marker.New(marker.TypeCheckpoint, 50.45, 30.52, "блокпост", "", nil, "other-device")
	row, err := json.Marshal(m)
	require.NoError(t, err)

	payload, err := json.Marshal(RemoteEvent{Kind: EventInsert, Table: TableMarkers, Row: row})
	require.NoError(t, err)

	ev, err := DecodeEvent(payload)
	require.NoError(t, err)
	require.NoError(t, engine.ApplyRemoteEvent(ctx, ev))

	got, err := st.GetMarker(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, marker.SyncStateSynced, got.SyncState)
	assert.Equal(t, marker.TypeCheckpoint, got.Type)
}

func TestApplyRemoteEventSkipsDirty(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	local := marker.New(marker.TypeDanger, 50.45, 30.52, "обстрел", "важные детали", nil, st.DeviceID())
	require.NoError(t, st.InsertMarker(ctx, &local))

	// Удаленное событие по той же строке не затирает локальные правки
	remoteCopy := local
	remoteCopy.Description = ""
	row, _ := json.Marshal(remoteCopy)
	ev := &RemoteEvent{Kind: EventUpdate, Table: TableMarkers, Row: row}
	require.NoError(t, engine.ApplyRemoteEvent(ctx, ev))

	got, err := st.GetMarker(ctx, local.ID)
	require.NoError(t, err)
	assert.Equal(t, "важные детали", got.Description)
	assert.Equal(t, marker.SyncStateDirty, got.SyncState)
}

func TestApplyRemoteEventSOSDelete(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	m := sos.NewMarker("creator", geo.Point{Lat: 50.45, Lon: 30.52})
	require.NoError(t, st.UpsertSOSMarkerSynced(ctx, &m))

	row, _ := json.Marshal(m)
	ev := &RemoteEvent{Kind: EventDelete, Table: TableSOSMarkers, Row: row}
	require.NoError(t, engine.ApplyRemoteEvent(ctx, ev))

	_, err := st.GetSOSMarker(ctx, m.ID)
	assert.ErrorIs(t, err, sos.ErrNotFound)
}

func TestApplyRemoteEventCompletedSOSDeletesLocally(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	m := sos.NewMarker("creator", geo.Point{Lat: 50.45, Lon: 30.52})
	require.NoError(t, st.UpsertSOSMarkerSynced(ctx, &m))

	r := sos.Response{
		ID: "resp-1", SOSMarkerID: m.ID, ResponderDevice: st.DeviceID(),
		Status: sos.ResponseActive,
	}
	require.NoError(t, st.InsertSOSResponse(ctx, &r))

	// Создатель завершил SOS, событие пришло по realtime-каналу
	completed := m
	completed.Status = sos.StatusCompleted
	now := time.Now().UnixMilli()
	completed.CompletedAt = &now

	row, _ := json.Marshal(completed)
	ev := &RemoteEvent{Kind: EventUpdate, Table: TableSOSMarkers, Row: row}
	require.NoError(t, engine.ApplyRemoteEvent(ctx, ev))

	// Маркер удален сразу, не дожидаясь плановой чистки
	_, err := st.GetSOSMarker(ctx, m.ID)
	assert.ErrorIs(t, err, sos.ErrNotFound)

	// Отвечающий освобожден, его отклик снят с очереди
	active, err := st.ActiveResponseByDevice(ctx, st.DeviceID())
	require.NoError(t, err)
	assert.Nil(t, active)

	depth, err := st.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDecodeEventInvalid(t *testing.T) {
	_, err := DecodeEvent([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"kind":"","table":""}`))
	assert.Error(t, err)
}

func TestSyncCycleInFlightGuard(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	engine.inFlight.Lock()
	res := engine.RunSyncCycle(context.Background())
	engine.inFlight.Unlock()

	assert.True(t, res.Skipped)
}

func TestOnCycleListener(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	var got []CycleResult
	engine.OnCycle(func(r CycleResult) { got = append(got, r) })

	engine.RunSyncCycle(context.Background())

	require.Len(t, got, 1)
	assert.False(t, got[0].Skipped)

	last := engine.LastCycle()
	require.NotNil(t, last)
	assert.Equal(t, got[0].PushedMarkers, last.PushedMarkers)
}
