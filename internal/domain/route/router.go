package route

import (
	"context"
	"errors"

	"safemesh/internal/geo"
)

// Provenance — источник построенного маршрута.
type Provenance string

const (
	ProvenanceOnline  Provenance = "online"
	ProvenanceCached  Provenance = "cached"
	ProvenanceOffline Provenance = "offline"
)

// Zone — круговая зона исключения (например, активный danger-маркер).
type Zone struct {
	Center  geo.Point `json:"center"`
	RadiusM float64   `json:"radius_m"`
}

// Options — параметры запроса маршрута.
type Options struct {
	Online         bool   `json:"online"`
	ExclusionZones []Zone `json:"exclusion_zones,omitempty"`
}

// Route — результат прокладки маршрута.
type Route struct {
	Waypoints       []geo.Point `json:"waypoints"`
	DistanceMeters  float64     `json:"distance_meters"`
	DurationSeconds float64     `json:"duration_seconds"`
	Provenance      Provenance  `json:"provenance"`
}

// Router — внешний прокладчик маршрутов. Реализация не входит в этот
// модуль; агент видит его как черный ящик, выдающий путевые точки.
type Router interface {
	Route(ctx context.Context, from, to geo.Point, opts Options) (*Route, error)
}

// ErrCacheMiss возвращается кэшем, когда подходящей записи нет.
var ErrCacheMiss = errors.New("route cache miss")

// Cache — хранилище маршрутов: точное совпадение округленного ключа либо
// запись, концы которой лежат в пределах matchRadiusM от запрошенных.
type Cache interface {
	Lookup(ctx context.Context, from, to geo.Point, matchRadiusM float64) (*Route, error)
	Store(ctx context.Context, from, to geo.Point, r *Route) error
}
