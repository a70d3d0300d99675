package sos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/exp/slog"

	"safemesh/internal/geo"
)

// MockRepository is a mock implementation of the Repository interface for testing
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetSOSMarker(ctx context.Context, id string) (*Marker, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Marker), args.Error(1)
}

func (m *MockRepository) ActiveSOSByCreator(ctx context.Context, deviceID string) (*Marker, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Marker), args.Error(1)
}

func (m *MockRepository) LastSOSCreatedAt(ctx context.Context, deviceID string) (int64, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) InsertSOSMarker(ctx context.Context, mk *Marker) error {
	args := m.Called(ctx, mk)
	return args.Error(0)
}

func (m *MockRepository) CompleteSOSMarker(ctx context.Context, id string, completedAt, expiresAt int64) error {
	args := m.Called(ctx, id, completedAt, expiresAt)
	return args.Error(0)
}

func (m *MockRepository) ListActiveSOS(ctx context.Context) ([]Marker, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Marker), args.Error(1)
}

func (m *MockRepository) InsertSOSResponse(ctx context.Context, r *Response) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRepository) GetSOSResponse(ctx context.Context, sosID, deviceID string) (*Response, error) {
	args := m.Called(ctx, sosID, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

func (m *MockRepository) ActiveResponseByDevice(ctx context.Context, deviceID string) (*Response, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

func (m *MockRepository) CountActiveResponses(ctx context.Context, sosID string) (int, error) {
	args := m.Called(ctx, sosID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) UpdateSOSResponse(ctx context.Context, r *Response) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRepository) DeleteExpiredSOS(ctx context.Context, nowMs, staleMs int64) (int, error) {
	args := m.Called(ctx, nowMs, staleMs)
	return args.Int(0), args.Error(1)
}

func testService(repo Repository) *Service {
	return NewService(repo, slog.Default(), &ServiceConfig{
		Cooldown:          10 * time.Minute,
		MaxResponders:     5,
		Grace:             5 * time.Minute,
		Stale:             24 * time.Hour,
		ProximityRadiusM:  500,
		ArrivalThresholdM: 30,
		WalkingSpeedKmh:   5,
	})
}

func TestCreateRequest(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()
	loc := geo.Point{Lat: 50.45, Lon: 30.52}

	repo.On("LastSOSCreatedAt", ctx, "device-a").Return(int64(0), nil)
	repo.On("ActiveSOSByCreator", ctx, "device-a").Return(nil, nil)
	repo.On("InsertSOSMarker", ctx, mock.AnythingOfType("*sos.Marker")).Return(nil)

	m, err := svc.CreateRequest(ctx, "device-a", loc)

	assert.NoError(t, err)
	assert.Equal(t, StatusActive, m.Status)
	assert.Equal(t, "device-a", m.CreatedBy)
	assert.Equal(t, SyncStateDirty, m.SyncState)
	repo.AssertExpectations(t)
}

func TestCreateRequestCooldown(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	// Второй запрос через минуту после первого — кулдаун еще действует
	last := time.Now().Add(-1 * time.Minute).UnixMilli()
	repo.On("LastSOSCreatedAt", ctx, "device-a").Return(last, nil)

	m, err := svc.CreateRequest(ctx, "device-a", geo.Point{})

	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.Nil(t, m)
	repo.AssertNotCalled(t, "InsertSOSMarker", mock.Anything, mock.Anything)
}

func TestCreateRequestActiveExists(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	repo.On("LastSOSCreatedAt", ctx, "device-a").
		Return(time.Now().Add(-time.Hour).UnixMilli(), nil)
	repo.On("ActiveSOSByCreator", ctx, "device-a").
		Return(&Marker{ID: "sos-1", Status: StatusActive}, nil)

	_, err := svc.CreateRequest(ctx, "device-a", geo.Point{})

	assert.ErrorIs(t, err, ErrActiveRequestExists)
	repo.AssertNotCalled(t, "InsertSOSMarker", mock.Anything, mock.Anything)
}

func TestCompleteRequest(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	repo.On("GetSOSMarker", ctx, "sos-1").
		Return(&Marker{ID: "sos-1", CreatedBy: "device-a", Status: StatusActive}, nil)
	repo.On("CompleteSOSMarker", ctx, "sos-1",
		mock.AnythingOfType("int64"), mock.AnythingOfType("int64")).Return(nil)

	err := svc.CompleteRequest(ctx, "sos-1", "device-a")

	assert.NoError(t, err)
	repo.AssertExpectations(t)

	// expires_at = completed_at + grace
	call := repo.Calls[len(repo.Calls)-1]
	completedAt := call.Arguments.Get(2).(int64)
	expiresAt := call.Arguments.Get(3).(int64)
	assert.InDelta(t, 5*time.Minute.Milliseconds(), expiresAt-completedAt, 1000)
}

func TestCompleteRequestOnlyCreator(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	repo.On("GetSOSMarker", ctx, "sos-1").
		Return(&Marker{ID: "sos-1", CreatedBy: "device-a", Status: StatusActive}, nil)

	err := svc.CompleteRequest(ctx, "sos-1", "device-b")

	assert.ErrorIs(t, err, ErrNotCreator)
	repo.AssertNotCalled(t, "CompleteSOSMarker", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRespondTo(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	target := &Marker{ID: "sos-1", Latitude: 50.4501, Longitude: 30.5234, Status: StatusActive}
	repo.On("GetSOSMarker", ctx, "sos-1").Return(target, nil)
	repo.On("ActiveResponseByDevice", ctx, "device-b").Return(nil, nil)
	repo.On("CountActiveResponses", ctx, "sos-1").Return(2, nil)
	repo.On("InsertSOSResponse", ctx, mock.AnythingOfType("*sos.Response")).Return(nil)

	// ~1 км севернее
	r, err := svc.RespondTo(ctx, "sos-1", "device-b", geo.Point{Lat: 50.4590, Lon: 30.5234})

	assert.NoError(t, err)
	assert.Equal(t, ResponseActive, r.Status)
	assert.InDelta(t, 1000, r.DistanceMeters, 30)
	assert.Equal(t, 12, r.ETAMinutes) // 1 км при 5 км/ч
	repo.AssertExpectations(t)
}

func TestRespondToInactiveTarget(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	repo.On("GetSOSMarker", ctx, "sos-1").
		Return(&Marker{ID: "sos-1", Status: StatusCompleted}, nil)

	_, err := svc.RespondTo(ctx, "sos-1", "device-b", geo.Point{})

	assert.ErrorIs(t, err, ErrNotActive)
}

func TestRespondToResponderBusy(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	repo.On("GetSOSMarker", ctx, "sos-1").
		Return(&Marker{ID: "sos-1", Status: StatusActive}, nil)
	repo.On("ActiveResponseByDevice", ctx, "device-b").
		Return(&Response{ID: "resp-1", SOSMarkerID: "sos-other", Status: ResponseActive}, nil)

	_, err := svc.RespondTo(ctx, "sos-1", "device-b", geo.Point{})

	assert.ErrorIs(t, err, ErrResponderBusy)
}

func TestRespondToAlreadyResponded(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	repo.On("GetSOSMarker", ctx, "sos-1").
		Return(&Marker{ID: "sos-1", Status: StatusActive}, nil)
	repo.On("ActiveResponseByDevice", ctx, "device-b").
		Return(&Response{ID: "resp-1", SOSMarkerID: "sos-1", Status: ResponseActive}, nil)

	_, err := svc.RespondTo(ctx, "sos-1", "device-b", geo.Point{})

	assert.ErrorIs(t, err, ErrAlreadyResponded)
}

func TestRespondToCapacityReached(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	repo.On("GetSOSMarker", ctx, "sos-1").
		Return(&Marker{ID: "sos-1", Status: StatusActive}, nil)
	repo.On("ActiveResponseByDevice", ctx, "device-b").Return(nil, nil)
	repo.On("CountActiveResponses", ctx, "sos-1").Return(5, nil)

	_, err := svc.RespondTo(ctx, "sos-1", "device-b", geo.Point{})

	assert.ErrorIs(t, err, ErrCapacityReached)
	repo.AssertNotCalled(t, "InsertSOSResponse", mock.Anything, mock.Anything)
}

func TestUpdateResponderLocationArrival(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	target := &Marker{ID: "sos-1", Latitude: 50.45010, Longitude: 30.52340, Status: StatusActive}
	resp := &Response{
		ID: "resp-1", SOSMarkerID: "sos-1", ResponderDevice: "device-b",
		Status: ResponseActive, DistanceMeters: 900,
	}
	repo.On("GetSOSResponse", ctx, "sos-1", "device-b").Return(resp, nil)
	repo.On("GetSOSMarker", ctx, "sos-1").Return(target, nil)
	repo.On("UpdateSOSResponse", ctx, mock.AnythingOfType("*sos.Response")).Return(nil)

	// ~22 м от цели — порог прибытия 30 м пересечен
	r, err := svc.UpdateResponderLocation(ctx, "sos-1", "device-b",
		geo.Point{Lat: 50.45030, Lon: 30.52340})

	assert.NoError(t, err)
	assert.Equal(t, ResponseArrived, r.Status)
	assert.Less(t, r.DistanceMeters, 30.0)
	repo.AssertExpectations(t)
}

func TestUpdateResponderLocationRecompute(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	target := &Marker{ID: "sos-1", Latitude: 50.4501, Longitude: 30.5234, Status: StatusActive}
	resp := &Response{
		ID: "resp-1", SOSMarkerID: "sos-1", ResponderDevice: "device-b",
		Status: ResponseActive, DistanceMeters: 2000, ETAMinutes: 24,
	}
	repo.On("GetSOSResponse", ctx, "sos-1", "device-b").Return(resp, nil)
	repo.On("GetSOSMarker", ctx, "sos-1").Return(target, nil)
	repo.On("UpdateSOSResponse", ctx, mock.AnythingOfType("*sos.Response")).Return(nil)

	r, err := svc.UpdateResponderLocation(ctx, "sos-1", "device-b",
		geo.Point{Lat: 50.4590, Lon: 30.5234})

	assert.NoError(t, err)
	assert.Equal(t, ResponseActive, r.Status)
	assert.InDelta(t, 1000, r.DistanceMeters, 30)
	assert.Equal(t, 12, r.ETAMinutes)
}

func TestCancelResponse(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	resp := &Response{ID: "resp-1", SOSMarkerID: "sos-1", ResponderDevice: "device-b", Status: ResponseActive}
	repo.On("GetSOSResponse", ctx, "sos-1", "device-b").Return(resp, nil)
	repo.On("UpdateSOSResponse", ctx, mock.MatchedBy(func(r *Response) bool {
		return r.Status == ResponseCancelled
	})).Return(nil)

	err := svc.CancelResponse(ctx, "sos-1", "device-b")

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestNearby(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()
	loc := geo.Point{Lat: 50.4501, Lon: 30.5234}

	markers := []Marker{
		{ID: "own", CreatedBy: "device-a", Latitude: 50.4501, Longitude: 30.5234, Status: StatusActive},
		{ID: "near", CreatedBy: "device-b", Latitude: 50.4510, Longitude: 30.5234, Status: StatusActive},
		{ID: "far", CreatedBy: "device-c", Latitude: 50.5501, Longitude: 30.5234, Status: StatusActive},
	}
	repo.On("ListActiveSOS", ctx).Return(markers, nil)
	repo.On("GetSOSResponse", ctx, "near", "device-a").Return(nil, ErrResponseNotFound)

	nearby, err := svc.Nearby(ctx, "device-a", loc)

	assert.NoError(t, err)
	// Собственный маркер и дальний не попадают
	assert.Len(t, nearby, 1)
	assert.Equal(t, "near", nearby[0].ID)
	assert.True(t, svc.WasNotified("device-a", "near"))
	assert.False(t, svc.WasNotified("device-a", "own"))
}

func TestNearbySkipsRespondedAndDismissed(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()
	loc := geo.Point{Lat: 50.4501, Lon: 30.5234}

	markers := []Marker{
		{ID: "responding", CreatedBy: "device-b", Latitude: 50.4505, Longitude: 30.5234, Status: StatusActive},
		{ID: "dismissed", CreatedBy: "device-c", Latitude: 50.4505, Longitude: 30.5234, Status: StatusActive},
	}
	repo.On("ListActiveSOS", ctx).Return(markers, nil)
	repo.On("GetSOSResponse", ctx, "responding", "device-a").
		Return(&Response{Status: ResponseActive}, nil)

	svc.Dismiss("device-a", "dismissed")

	nearby, err := svc.Nearby(ctx, "device-a", loc)

	assert.NoError(t, err)
	assert.Empty(t, nearby)
}

func TestNotifiedStateClearedOnCompletion(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	svc.notified.SetDefault(stateKey("device-a", "sos-1"), struct{}{})
	svc.dismissed.SetDefault(stateKey("device-b", "sos-1"), struct{}{})
	svc.notified.SetDefault(stateKey("device-a", "sos-2"), struct{}{})

	repo.On("GetSOSMarker", ctx, "sos-1").
		Return(&Marker{ID: "sos-1", CreatedBy: "device-x", Status: StatusActive}, nil)
	repo.On("CompleteSOSMarker", ctx, "sos-1",
		mock.AnythingOfType("int64"), mock.AnythingOfType("int64")).Return(nil)

	assert.NoError(t, svc.CompleteRequest(ctx, "sos-1", "device-x"))

	assert.False(t, svc.WasNotified("device-a", "sos-1"))
	_, dismissed := svc.dismissed.Get(stateKey("device-b", "sos-1"))
	assert.False(t, dismissed)
	assert.True(t, svc.WasNotified("device-a", "sos-2"))
}

func TestCleanup(t *testing.T) {
	repo := new(MockRepository)
	svc := testService(repo)
	ctx := context.Background()

	repo.On("DeleteExpiredSOS", ctx,
		mock.AnythingOfType("int64"), (24 * time.Hour).Milliseconds()).Return(3, nil)

	assert.NoError(t, svc.Cleanup(ctx))
	repo.AssertExpectations(t)
}
