package route

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/slog"

	"safemesh/internal/geo"
)

// CachedRouter оборачивает внешний Router кэшем маршрутов. Промах кэша
// делегируется внутреннему роутеру; ошибка записи в кэш не фатальна.
type CachedRouter struct {
	inner  Router
	cache  Cache
	matchM float64
	log    *slog.Logger
}

// NewCachedRouter создает кэширующий декоратор над роутером.
func NewCachedRouter(inner Router, cache Cache, matchRadiusM float64, log *slog.Logger) *CachedRouter {
	return &CachedRouter{
		inner:  inner,
		cache:  cache,
		matchM: matchRadiusM,
		log:    log.With("component", "route_cache"),
	}
}

// Route возвращает кэшированный маршрут, если концы совпадают в пределах
// окна близости, иначе спрашивает внутренний роутер и кэширует ответ.
func (c *CachedRouter) Route(ctx context.Context, from, to geo.Point, opts Options) (*Route, error) {
	cached, err := c.cache.Lookup(ctx, from, to, c.matchM)
	if err == nil {
		cached.Provenance = ProvenanceCached
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.log.Warn("route cache lookup failed", "error", err)
	}

	r, err := c.inner.Route(ctx, from, to, opts)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}

	if storeErr := c.cache.Store(ctx, from, to, r); storeErr != nil {
		// Кэш — чистая оптимизация, сбой записи глотаем
		c.log.Warn("route cache store failed", "error", storeErr)
	}

	return r, nil
}
