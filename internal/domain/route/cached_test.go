package route

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/slog"

	"safemesh/internal/geo"
)

type fakeRouter struct {
	calls int
	route *Route
	err   error
}

func (f *fakeRouter) Route(_ context.Context, _, _ geo.Point, _ Options) (*Route, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.route
	return &cp, nil
}

type memCache struct {
	stored   *Route
	storeErr error
}

func (m *memCache) Lookup(_ context.Context, _, _ geo.Point, _ float64) (*Route, error) {
	if m.stored == nil {
		return nil, ErrCacheMiss
	}
	cp := *m.stored
	return &cp, nil
}

func (m *memCache) Store(_ context.Context, _, _ geo.Point, r *Route) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	cp := *r
	m.stored = &cp
	return nil
}

func TestCachedRouterMissThenHit(t *testing.T) {
	inner := &fakeRouter{route: &Route{DistanceMeters: 1200, Provenance: ProvenanceOnline}}
	cache := &memCache{}
	router := NewCachedRouter(inner, cache, 50, slog.Default())
	ctx := context.Background()

	from := geo.Point{Lat: 50.4501, Lon: 30.5234}
	to := geo.Point{Lat: 50.4601, Lon: 30.5334}

	first, err := router.Route(ctx, from, to, Options{Online: true})
	assert.NoError(t, err)
	assert.Equal(t, ProvenanceOnline, first.Provenance)
	assert.Equal(t, 1, inner.calls)

	second, err := router.Route(ctx, from, to, Options{Online: true})
	assert.NoError(t, err)
	assert.Equal(t, ProvenanceCached, second.Provenance)
	assert.Equal(t, 1, inner.calls) // второй раз роутер не вызывается
}

func TestCachedRouterStoreFailureIsSwallowed(t *testing.T) {
	inner := &fakeRouter{route: &Route{DistanceMeters: 500}}
	cache := &memCache{storeErr: errors.New("disk full")}
	router := NewCachedRouter(inner, cache, 50, slog.Default())

	r, err := router.Route(context.Background(), geo.Point{}, geo.Point{}, Options{})

	assert.NoError(t, err)
	assert.Equal(t, 500.0, r.DistanceMeters)
}

func TestCachedRouterPropagatesRouterError(t *testing.T) {
	inner := &fakeRouter{err: errors.New("no connectivity")}
	router := NewCachedRouter(inner, &memCache{}, 50, slog.Default())

	_, err := router.Route(context.Background(), geo.Point{}, geo.Point{}, Options{})

	assert.Error(t, err)
}
