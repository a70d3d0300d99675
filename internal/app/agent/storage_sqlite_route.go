package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"safemesh/internal/domain/route"
	"safemesh/internal/geo"
)

// Lookup ищет кэшированный маршрут: сперва точное совпадение округленного
// ключа, затем скан на запись, оба конца которой лежат в пределах
// matchRadiusM от запрошенных. Истекшие записи удаляются по пути.
func (s *SQLiteStorage) Lookup(ctx context.Context, from, to geo.Point, matchRadiusM float64) (*route.Route, error) {
	cutoff := time.Now().Add(-s.routeTTL).UnixMilli()
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM route_cache WHERE created_at < ?", cutoff); err != nil {
		return nil, fmt.Errorf("ошибка чистки кэша маршрутов: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT waypoints, distance_m, duration_s, provenance
		FROM route_cache WHERE key = ?
	`, geo.CacheKey(from, to))

	r, err := scanRoute(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ошибка поиска маршрута: %w", err)
	}

	// Точного совпадения нет: ищем запись с близкими концами.
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_lat, from_lon, to_lat, to_lon, waypoints, distance_m, duration_s, provenance
		FROM route_cache
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка скана кэша маршрутов: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fromLat, fromLon, toLat, toLon float64
		var waypoints string
		var r route.Route
		if err := rows.Scan(&fromLat, &fromLon, &toLat, &toLon,
			&waypoints, &r.DistanceMeters, &r.DurationSeconds, &r.Provenance); err != nil {
			return nil, err
		}

		cachedFrom := geo.Point{Lat: fromLat, Lon: fromLon}
		cachedTo := geo.Point{Lat: toLat, Lon: toLon}
		if geo.DistanceM(from, cachedFrom) > matchRadiusM || geo.DistanceM(to, cachedTo) > matchRadiusM {
			continue
		}

		if err := json.Unmarshal([]byte(waypoints), &r.Waypoints); err != nil {
			return nil, fmt.Errorf("ошибка разбора путевых точек: %w", err)
		}
		return &r, nil
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return nil, route.ErrCacheMiss
}

// Store сохраняет маршрут под округленным ключом концов.
func (s *SQLiteStorage) Store(ctx context.Context, from, to geo.Point, r *route.Route) error {
	waypoints, err := json.Marshal(r.Waypoints)
	if err != nil {
		return fmt.Errorf("ошибка сериализации путевых точек: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO route_cache
			(key, from_lat, from_lon, to_lat, to_lon, waypoints, distance_m, duration_s, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, geo.CacheKey(from, to), from.Lat, from.Lon, to.Lat, to.Lon,
		string(waypoints), r.DistanceMeters, r.DurationSeconds, r.Provenance,
		time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("ошибка сохранения маршрута: %w", err)
	}
	return nil
}

func scanRoute(row *sql.Row) (*route.Route, error) {
	var r route.Route
	var waypoints string
	if err := row.Scan(&waypoints, &r.DistanceMeters, &r.DurationSeconds, &r.Provenance); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(waypoints), &r.Waypoints); err != nil {
		return nil, fmt.Errorf("ошибка разбора путевых точек: %w", err)
	}
	return &r, nil
}
