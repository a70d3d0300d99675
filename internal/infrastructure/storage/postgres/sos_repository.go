package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"safemesh/internal/domain/sos"
)

type SOSRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewSOSRepository(pool *pgxpool.Pool, log *slog.Logger) *SOSRepository {
	return &SOSRepository{
		pool: pool,
		log:  log.With("component", "sos_repository"),
	}
}

const sosColumns = `id, latitude, longitude, created_by, created_at, status, completed_at, expires_at`

// UpsertSOSMarker записывает SOS маркер, перезаписывая строку по id.
// Завершение на любой стороне необратимо: completed строка не может
// вернуться в active через upsert отставшего устройства.
func (r *SOSRepository) UpsertSOSMarker(ctx context.Context, m *sos.Marker) error {
	const query = `
		INSERT INTO sos_markers (` + sosColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			expires_at = EXCLUDED.expires_at
		WHERE sos_markers.status <> 'completed'`

	_, err := r.pool.Exec(ctx, query,
		m.ID, m.Latitude, m.Longitude, m.CreatedBy, m.CreatedAt,
		m.Status, m.CompletedAt, m.ExpiresAt)
	if err != nil {
		r.log.Error("failed to upsert sos marker", "sos_id", m.ID, "error", err)
		return fmt.Errorf("upsert sos marker: %w", err)
	}

	return nil
}

// DeleteExpiredSOS удаляет завершенные маркеры с истекшим expires_at и
// активные старше stale-окна. Отклики уходят каскадом по внешнему ключу,
// а delete-уведомления триггеров доводят удаление до остальных устройств.
func (r *SOSRepository) DeleteExpiredSOS(ctx context.Context, nowMs, staleMs int64) (int, error) {
	const query = `
		DELETE FROM sos_markers
		WHERE (status = 'completed' AND expires_at IS NOT NULL AND expires_at <= $1)
		   OR (status = 'active' AND created_at <= $2)`

	tag, err := r.pool.Exec(ctx, query, nowMs, nowMs-staleMs)
	if err != nil {
		r.log.Error("failed to delete expired sos markers", "error", err)
		return 0, fmt.Errorf("delete expired sos markers: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// ListSOSMarkersSince возвращает SOS маркеры с created_at строго больше since.
func (r *SOSRepository) ListSOSMarkersSince(ctx context.Context, since int64) ([]sos.Marker, error) {
	const query = `
		SELECT ` + sosColumns + `
		FROM sos_markers
		WHERE created_at > $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		r.log.Error("failed to list sos markers", "since", since, "error", err)
		return nil, fmt.Errorf("list sos markers since: %w", err)
	}
	defer rows.Close()

	var markers []sos.Marker
	for rows.Next() {
		var m sos.Marker
		err := rows.Scan(&m.ID, &m.Latitude, &m.Longitude, &m.CreatedBy,
			&m.CreatedAt, &m.Status, &m.CompletedAt, &m.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("scan sos marker: %w", err)
		}
		m.SyncState = sos.SyncStateSynced
		markers = append(markers, m)
	}

	return markers, rows.Err()
}
