package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"safemesh/internal/domain/marker"
	"safemesh/internal/geo"
)

type MarkerRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewMarkerRepository(pool *pgxpool.Pool, log *slog.Logger) *MarkerRepository {
	return &MarkerRepository{
		pool: pool,
		log:  log.With("component", "marker_repository"),
	}
}

const markerColumns = `id, type, latitude, longitude, title, description, radius_m,
	created_by, created_at, last_verified, agrees, disagrees, confidence_score`

// FindNearbyMarker ищет маркер того же типа в пределах radiusM от точки.
// Грубая выборка идет по ограничивающему прямоугольнику в SQL, точная
// дистанция считается по хаверсину на стороне агента.
func (r *MarkerRepository) FindNearbyMarker(ctx context.Context, p geo.Point, t marker.Type, radiusM float64) (*marker.Marker, error) {
	// 1 градус широты ~ 111.32 км; долгота сжимается к полюсам, берем
	// широтную дельту как консервативную оценку для обеих осей.
	delta := radiusM/111320.0*2 + 0.0001

	const query = `
		SELECT ` + markerColumns + `
		FROM markers
		WHERE type = $1
		  AND latitude BETWEEN $2 AND $3
		  AND longitude BETWEEN $4 AND $5`

	rows, err := r.pool.Query(ctx, query, t,
		p.Lat-delta, p.Lat+delta, p.Lon-delta, p.Lon+delta)
	if err != nil {
		r.log.Error("failed to query nearby markers", "error", err)
		return nil, fmt.Errorf("find nearby marker: %w", err)
	}
	defer rows.Close()

	var best *marker.Marker
	bestDist := radiusM

	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		d := geo.DistanceM(p, m.Point())
		if d <= bestDist {
			best = m
			bestDist = d
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find nearby marker: %w", err)
	}

	return best, nil
}

// UpsertMarker записывает маркер, перезаписывая строку по id.
func (r *MarkerRepository) UpsertMarker(ctx context.Context, m *marker.Marker) error {
	const query = `
		INSERT INTO markers (` + markerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			radius_m = EXCLUDED.radius_m,
			last_verified = EXCLUDED.last_verified,
			agrees = EXCLUDED.agrees,
			disagrees = EXCLUDED.disagrees,
			confidence_score = EXCLUDED.confidence_score`

	_, err := r.pool.Exec(ctx, query,
		m.ID, m.Type, m.Latitude, m.Longitude, m.Title, m.Description, m.RadiusM,
		m.CreatedBy, m.CreatedAt, m.LastVerified, m.Agrees, m.Disagrees, m.ConfidenceScore)
	if err != nil {
		r.log.Error("failed to upsert marker", "marker_id", m.ID, "error", err)
		return fmt.Errorf("upsert marker: %w", err)
	}

	return nil
}

// ListMarkersSince возвращает маркеры с last_verified строго больше since.
func (r *MarkerRepository) ListMarkersSince(ctx context.Context, since int64) ([]marker.Marker, error) {
	const query = `
		SELECT ` + markerColumns + `
		FROM markers
		WHERE last_verified > $1
		ORDER BY last_verified ASC`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		r.log.Error("failed to list markers", "since", since, "error", err)
		return nil, fmt.Errorf("list markers since: %w", err)
	}
	defer rows.Close()

	return scanMarkers(rows)
}

// MarkerIDs возвращает идентификаторы всех маркеров хранилища.
func (r *MarkerRepository) MarkerIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, "SELECT id FROM markers")
	if err != nil {
		r.log.Error("failed to list marker ids", "error", err)
		return nil, fmt.Errorf("list marker ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan marker id: %w", err)
		}
		ids[id] = struct{}{}
	}

	return ids, rows.Err()
}

// Вспомогательные методы
func scanMarkers(rows pgx.Rows) ([]marker.Marker, error) {
	var markers []marker.Marker
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		markers = append(markers, *m)
	}
	return markers, rows.Err()
}

func scanMarker(row interface {
	Scan(dest ...interface{}) error
}) (*marker.Marker, error) {
	var m marker.Marker
	err := row.Scan(
		&m.ID, &m.Type, &m.Latitude, &m.Longitude, &m.Title, &m.Description,
		&m.RadiusM, &m.CreatedBy, &m.CreatedAt, &m.LastVerified,
		&m.Agrees, &m.Disagrees, &m.ConfidenceScore,
	)
	if err != nil {
		return nil, err
	}
	m.SyncState = marker.SyncStateSynced
	return &m, nil
}
