package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"safemesh/internal/domain/sos"
)

const sosColumns = `id, latitude, longitude, created_by, created_at,
	status, completed_at, expires_at, sync_state`

const responseColumns = `id, sos_marker_id, responder_device_id, created_at, updated_at,
	current_latitude, current_longitude, distance_meters, eta_minutes, status, sync_state`

// GetSOSMarker возвращает SOS маркер или sos.ErrNotFound.
func (s *SQLiteStorage) GetSOSMarker(ctx context.Context, id string) (*sos.Marker, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sosColumns+" FROM sos_markers WHERE id = ?", id)

	m, err := scanSOSMarker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sos.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sos маркера: %w", err)
	}
	return m, nil
}

// ActiveSOSByCreator возвращает активный маркер устройства, nil если нет.
func (s *SQLiteStorage) ActiveSOSByCreator(ctx context.Context, deviceID string) (*sos.Marker, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sosColumns+" FROM sos_markers WHERE created_by = ? AND status = ? LIMIT 1",
		deviceID, sos.StatusActive)

	m, err := scanSOSMarker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска активного sos: %w", err)
	}
	return m, nil
}

// LastSOSCreatedAt возвращает время последнего создания SOS устройством.
func (s *SQLiteStorage) LastSOSCreatedAt(ctx context.Context, deviceID string) (int64, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(created_at) FROM sos_markers WHERE created_by = ?", deviceID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения времени последнего sos: %w", err)
	}
	return last.Int64, nil
}

// InsertSOSMarker сохраняет новый SOS маркер как dirty и ставит его в очередь.
func (s *SQLiteStorage) InsertSOSMarker(ctx context.Context, m *sos.Marker) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sos_markers (`+sosColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Latitude, m.Longitude, m.CreatedBy, m.CreatedAt,
		m.Status, m.CompletedAt, m.ExpiresAt, sos.SyncStateDirty)
	if err != nil {
		return fmt.Errorf("ошибка сохранения sos маркера: %w", err)
	}

	if err := enqueueTx(tx, m.ID, ActionUpsertSOS); err != nil {
		return fmt.Errorf("ошибка постановки в очередь: %w", err)
	}

	m.SyncState = sos.SyncStateDirty
	return tx.Commit()
}

// CompleteSOSMarker переводит маркер в completed и каскадно отменяет все
// его активные отклики одной транзакцией. Маркер и отмененные отклики
// помечаются dirty и встают в очередь.
func (s *SQLiteStorage) CompleteSOSMarker(ctx context.Context, id string, completedAt, expiresAt int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE sos_markers
		SET status = ?, completed_at = ?, expires_at = ?, sync_state = ?
		WHERE id = ?
	`, sos.StatusCompleted, completedAt, expiresAt, sos.SyncStateDirty, id)
	if err != nil {
		return fmt.Errorf("ошибка завершения sos маркера: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sos.ErrNotFound
	}

	if err := enqueueTx(tx, id, ActionUpsertSOS); err != nil {
		return fmt.Errorf("ошибка постановки в очередь: %w", err)
	}

	if err := cancelResponsesTx(tx, id, completedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// cancelResponsesTx отменяет активные отклики маркера внутри транзакции
// и ставит каждый в очередь синхронизации.
func cancelResponsesTx(tx *sql.Tx, sosID string, nowMs int64) error {
	rows, err := tx.Query(
		"SELECT id FROM sos_responses WHERE sos_marker_id = ? AND status = ?",
		sosID, sos.ResponseActive)
	if err != nil {
		return fmt.Errorf("ошибка выборки активных откликов: %w", err)
	}

	var ids []string
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, rid)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, rid := range ids {
		_, err := tx.Exec(`
			UPDATE sos_responses
			SET status = ?, updated_at = ?, sync_state = ?
			WHERE id = ?
		`, sos.ResponseCancelled, nowMs, sos.SyncStateDirty, rid)
		if err != nil {
			return fmt.Errorf("ошибка отмены отклика: %w", err)
		}
		if err := enqueueTx(tx, rid, ActionUpsertResponse); err != nil {
			return fmt.Errorf("ошибка постановки в очередь: %w", err)
		}
	}

	return nil
}

// ListActiveSOS возвращает все активные SOS маркеры.
func (s *SQLiteStorage) ListActiveSOS(ctx context.Context) ([]sos.Marker, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sosColumns+" FROM sos_markers WHERE status = ? ORDER BY created_at DESC",
		sos.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки активных sos: %w", err)
	}
	defer rows.Close()

	return scanSOSMarkers(rows)
}

// ListDirtySOSMarkers возвращает SOS маркеры, ожидающие отправки.
func (s *SQLiteStorage) ListDirtySOSMarkers(ctx context.Context) ([]sos.Marker, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sosColumns+" FROM sos_markers WHERE sync_state = ? ORDER BY created_at ASC",
		sos.SyncStateDirty)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки dirty sos: %w", err)
	}
	defer rows.Close()

	return scanSOSMarkers(rows)
}

// MaxSOSMarkerCreatedAt возвращает водяной знак pull по SOS маркерам.
func (s *SQLiteStorage) MaxSOSMarkerCreatedAt(ctx context.Context) (int64, error) {
	var watermark sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(created_at) FROM sos_markers").Scan(&watermark)
	if err != nil {
		return 0, fmt.Errorf("ошибка вычисления водяного знака sos: %w", err)
	}
	return watermark.Int64, nil
}

// UpsertSOSMarkerSynced применяет SOS маркер, пришедший с удаленного
// хранилища: сохраняет как synced, в очередь не ставит.
func (s *SQLiteStorage) UpsertSOSMarkerSynced(ctx context.Context, m *sos.Marker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sos_markers (`+sosColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Latitude, m.Longitude, m.CreatedBy, m.CreatedAt,
		m.Status, m.CompletedAt, m.ExpiresAt, sos.SyncStateSynced)
	if err != nil {
		return fmt.Errorf("ошибка применения удаленного sos маркера: %w", err)
	}
	return nil
}

// MarkSOSMarkerSynced помечает маркер отправленным и снимает его с очереди.
func (s *SQLiteStorage) MarkSOSMarkerSynced(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE sos_markers SET sync_state = ? WHERE id = ?", sos.SyncStateSynced, id); err != nil {
		return fmt.Errorf("ошибка обновления статуса синхронизации: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM sync_queue WHERE entity_id = ? AND action = ?", id, ActionUpsertSOS); err != nil {
		return fmt.Errorf("ошибка снятия с очереди: %w", err)
	}

	return tx.Commit()
}

// DeleteSOSMarker удаляет маркер вместе с его откликами и записями очереди.
func (s *SQLiteStorage) DeleteSOSMarker(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if err := deleteSOSMarkerTx(tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteSOSMarkerTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`
		DELETE FROM sync_queue WHERE entity_id IN (
			SELECT id FROM sos_responses WHERE sos_marker_id = ?
		)`, id); err != nil {
		return fmt.Errorf("ошибка чистки очереди откликов: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sos_responses WHERE sos_marker_id = ?", id); err != nil {
		return fmt.Errorf("ошибка удаления откликов: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sos_markers WHERE id = ?", id); err != nil {
		return fmt.Errorf("ошибка удаления sos маркера: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM sync_queue WHERE entity_id = ?", id); err != nil {
		return fmt.Errorf("ошибка снятия с очереди: %w", err)
	}
	return nil
}

// DeleteExpiredSOS удаляет завершенные маркеры с истекшим expires_at и
// активные старше stale-окна вместе с откликами. Возвращает число
// удаленных маркеров.
func (s *SQLiteStorage) DeleteExpiredSOS(ctx context.Context, nowMs int64, staleMs int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id FROM sos_markers
		WHERE (status = ? AND expires_at IS NOT NULL AND expires_at <= ?)
		   OR (status = ? AND created_at <= ?)
	`, sos.StatusCompleted, nowMs, sos.StatusActive, nowMs-staleMs)
	if err != nil {
		return 0, fmt.Errorf("ошибка выборки истекших sos: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range ids {
		if err := deleteSOSMarkerTx(tx, id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// CancelActiveResponsesFor отменяет активные отклики маркера вне завершения
// (используется движком синхронизации при удаленном завершении SOS).
func (s *SQLiteStorage) CancelActiveResponsesFor(ctx context.Context, sosID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if err := cancelResponsesTx(tx, sosID, time.Now().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Отклики

// InsertSOSResponse сохраняет новый отклик как dirty; дубликат пары
// (sos, responder) возвращает sos.ErrAlreadyResponded.
func (s *SQLiteStorage) InsertSOSResponse(ctx context.Context, r *sos.Response) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sos_responses (`+responseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SOSMarkerID, r.ResponderDevice, r.CreatedAt, r.UpdatedAt,
		r.CurrentLatitude, r.CurrentLongitude, r.DistanceMeters, r.ETAMinutes,
		r.Status, sos.SyncStateDirty)
	if isUniqueViolation(err) {
		return sos.ErrAlreadyResponded
	}
	if err != nil {
		return fmt.Errorf("ошибка сохранения отклика: %w", err)
	}

	if err := enqueueTx(tx, r.ID, ActionUpsertResponse); err != nil {
		return fmt.Errorf("ошибка постановки в очередь: %w", err)
	}

	r.SyncState = sos.SyncStateDirty
	return tx.Commit()
}

// GetSOSResponse возвращает отклик пары (sos, responder) или
// sos.ErrResponseNotFound.
func (s *SQLiteStorage) GetSOSResponse(ctx context.Context, sosID, deviceID string) (*sos.Response, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+responseColumns+" FROM sos_responses WHERE sos_marker_id = ? AND responder_device_id = ?",
		sosID, deviceID)

	r, err := scanResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sos.ErrResponseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отклика: %w", err)
	}
	return r, nil
}

// ActiveResponseByDevice возвращает активный отклик устройства, nil если нет.
func (s *SQLiteStorage) ActiveResponseByDevice(ctx context.Context, deviceID string) (*sos.Response, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+responseColumns+" FROM sos_responses WHERE responder_device_id = ? AND status = ? LIMIT 1",
		deviceID, sos.ResponseActive)

	r, err := scanResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска активного отклика: %w", err)
	}
	return r, nil
}

// CountActiveResponses возвращает число активных откликов на маркер.
func (s *SQLiteStorage) CountActiveResponses(ctx context.Context, sosID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sos_responses WHERE sos_marker_id = ? AND status = ?",
		sosID, sos.ResponseActive).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета откликов: %w", err)
	}
	return count, nil
}

// UpdateSOSResponse перезаписывает изменяемые поля отклика, помечает его
// dirty и ставит в очередь.
func (s *SQLiteStorage) UpdateSOSResponse(ctx context.Context, r *sos.Response) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE sos_responses
		SET updated_at = ?, current_latitude = ?, current_longitude = ?,
		    distance_meters = ?, eta_minutes = ?, status = ?, sync_state = ?
		WHERE id = ?
	`, r.UpdatedAt, r.CurrentLatitude, r.CurrentLongitude,
		r.DistanceMeters, r.ETAMinutes, r.Status, sos.SyncStateDirty, r.ID)
	if err != nil {
		return fmt.Errorf("ошибка обновления отклика: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sos.ErrResponseNotFound
	}

	if err := enqueueTx(tx, r.ID, ActionUpsertResponse); err != nil {
		return fmt.Errorf("ошибка постановки в очередь: %w", err)
	}

	r.SyncState = sos.SyncStateDirty
	return tx.Commit()
}

// ListDirtySOSResponses возвращает отклики, ожидающие отправки.
func (s *SQLiteStorage) ListDirtySOSResponses(ctx context.Context) ([]sos.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+responseColumns+" FROM sos_responses WHERE sync_state = ? ORDER BY updated_at ASC",
		sos.SyncStateDirty)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки dirty откликов: %w", err)
	}
	defer rows.Close()

	var responses []sos.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		responses = append(responses, *r)
	}
	return responses, rows.Err()
}

// MaxSOSResponseUpdatedAt возвращает водяной знак pull по откликам.
func (s *SQLiteStorage) MaxSOSResponseUpdatedAt(ctx context.Context) (int64, error) {
	var watermark sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(updated_at) FROM sos_responses").Scan(&watermark)
	if err != nil {
		return 0, fmt.Errorf("ошибка вычисления водяного знака откликов: %w", err)
	}
	return watermark.Int64, nil
}

// UpsertSOSResponseSynced применяет отклик, пришедший с удаленного
// хранилища: сохраняет как synced, в очередь не ставит.
func (s *SQLiteStorage) UpsertSOSResponseSynced(ctx context.Context, r *sos.Response) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sos_responses (`+responseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SOSMarkerID, r.ResponderDevice, r.CreatedAt, r.UpdatedAt,
		r.CurrentLatitude, r.CurrentLongitude, r.DistanceMeters, r.ETAMinutes,
		r.Status, sos.SyncStateSynced)
	if err != nil {
		return fmt.Errorf("ошибка применения удаленного отклика: %w", err)
	}
	return nil
}

// MarkSOSResponseSynced помечает отклик отправленным и снимает его с очереди.
func (s *SQLiteStorage) MarkSOSResponseSynced(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE sos_responses SET sync_state = ? WHERE id = ?", sos.SyncStateSynced, id); err != nil {
		return fmt.Errorf("ошибка обновления статуса синхронизации: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM sync_queue WHERE entity_id = ? AND action = ?", id, ActionUpsertResponse); err != nil {
		return fmt.Errorf("ошибка снятия с очереди: %w", err)
	}

	return tx.Commit()
}

// DeleteSOSResponse удаляет отклик и его запись очереди.
func (s *SQLiteStorage) DeleteSOSResponse(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sos_responses WHERE id = ?", id); err != nil {
		return fmt.Errorf("ошибка удаления отклика: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM sync_queue WHERE entity_id = ? AND action = ?", id, ActionUpsertResponse); err != nil {
		return fmt.Errorf("ошибка снятия с очереди: %w", err)
	}

	return tx.Commit()
}

// CancelResponseLocal отменяет отклик локально без постановки в очередь:
// используется, когда удаленное хранилище отвергло отклик на уже
// исчезнувший SOS.
func (s *SQLiteStorage) CancelResponseLocal(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sos_responses
		SET status = ?, updated_at = ?, sync_state = ?
		WHERE id = ?
	`, sos.ResponseCancelled, time.Now().UnixMilli(), sos.SyncStateSynced, id)
	if err != nil {
		return fmt.Errorf("ошибка локальной отмены отклика: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"DELETE FROM sync_queue WHERE entity_id = ? AND action = ?", id, ActionUpsertResponse)
	if err != nil {
		return fmt.Errorf("ошибка снятия с очереди: %w", err)
	}
	return nil
}

// Вспомогательные методы

func scanSOSMarkers(rows *sql.Rows) ([]sos.Marker, error) {
	var markers []sos.Marker
	for rows.Next() {
		m, err := scanSOSMarker(rows)
		if err != nil {
			return nil, err
		}
		markers = append(markers, *m)
	}
	return markers, rows.Err()
}

func scanSOSMarker(row interface {
	Scan(dest ...interface{}) error
}) (*sos.Marker, error) {
	var m sos.Marker
	var completedAt, expiresAt sql.NullInt64

	err := row.Scan(
		&m.ID, &m.Latitude, &m.Longitude, &m.CreatedBy, &m.CreatedAt,
		&m.Status, &completedAt, &expiresAt, &m.SyncState,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		m.CompletedAt = &completedAt.Int64
	}
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Int64
	}
	return &m, nil
}

func scanResponse(row interface {
	Scan(dest ...interface{}) error
}) (*sos.Response, error) {
	var r sos.Response
	err := row.Scan(
		&r.ID, &r.SOSMarkerID, &r.ResponderDevice, &r.CreatedAt, &r.UpdatedAt,
		&r.CurrentLatitude, &r.CurrentLongitude, &r.DistanceMeters, &r.ETAMinutes,
		&r.Status, &r.SyncState,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
