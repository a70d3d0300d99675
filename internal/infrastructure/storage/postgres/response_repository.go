package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"safemesh/internal/domain/sos"
)

type ResponseRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewResponseRepository(pool *pgxpool.Pool, log *slog.Logger) *ResponseRepository {
	return &ResponseRepository{
		pool: pool,
		log:  log.With("component", "response_repository"),
	}
}

const responseColumns = `id, sos_marker_id, responder_device_id, created_at, updated_at,
	current_latitude, current_longitude, distance_meters, eta_minutes, status`

const fkViolation = "23503"

// UpsertSOSResponse записывает отклик, перезаписывая строку по id.
// Нарушение внешнего ключа означает, что целевой SOS уже удален —
// это транслируется в sos.ErrMarkerGone, чтобы агент отменил отклик
// локально вместо бесконечных повторов.
func (r *ResponseRepository) UpsertSOSResponse(ctx context.Context, resp *sos.Response) error {
	const query = `
		INSERT INTO sos_responses (` + responseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			current_latitude = EXCLUDED.current_latitude,
			current_longitude = EXCLUDED.current_longitude,
			distance_meters = EXCLUDED.distance_meters,
			eta_minutes = EXCLUDED.eta_minutes,
			status = EXCLUDED.status`

	_, err := r.pool.Exec(ctx, query,
		resp.ID, resp.SOSMarkerID, resp.ResponderDevice, resp.CreatedAt, resp.UpdatedAt,
		resp.CurrentLatitude, resp.CurrentLongitude, resp.DistanceMeters,
		resp.ETAMinutes, resp.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == fkViolation {
			return sos.ErrMarkerGone
		}
		r.log.Error("failed to upsert sos response", "response_id", resp.ID, "error", err)
		return fmt.Errorf("upsert sos response: %w", err)
	}

	return nil
}

// ListSOSResponsesSince возвращает отклики с updated_at строго больше since.
func (r *ResponseRepository) ListSOSResponsesSince(ctx context.Context, since int64) ([]sos.Response, error) {
	const query = `
		SELECT ` + responseColumns + `
		FROM sos_responses
		WHERE updated_at > $1
		ORDER BY updated_at ASC`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		r.log.Error("failed to list sos responses", "since", since, "error", err)
		return nil, fmt.Errorf("list sos responses since: %w", err)
	}
	defer rows.Close()

	var responses []sos.Response
	for rows.Next() {
		var resp sos.Response
		err := rows.Scan(&resp.ID, &resp.SOSMarkerID, &resp.ResponderDevice,
			&resp.CreatedAt, &resp.UpdatedAt, &resp.CurrentLatitude, &resp.CurrentLongitude,
			&resp.DistanceMeters, &resp.ETAMinutes, &resp.Status)
		if err != nil {
			return nil, fmt.Errorf("scan sos response: %w", err)
		}
		resp.SyncState = sos.SyncStateSynced
		responses = append(responses, resp)
	}

	return responses, rows.Err()
}
