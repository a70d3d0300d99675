package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"safemesh/internal/domain/marker"
)

// SQLiteStorage — локальное хранилище устройства поверх SQLite.
// Открывается в WAL режиме; сбой инициализации фатален для агента.
type SQLiteStorage struct {
	db       *sql.DB
	deviceID string

	routeTTL time.Duration
}

// NewSQLiteStorage открывает (или создает) локальную базу и гарантирует
// наличие идентификатора устройства.
func NewSQLiteStorage(path string, routeTTL time.Duration) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}

	storage := &SQLiteStorage{db: db, routeTTL: routeTTL}

	if err := storage.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка инициализации таблиц: %w", err)
	}

	if err := storage.initDeviceID(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка инициализации идентификатора устройства: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS device (
			id TEXT PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS markers (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			radius_m REAL,
			created_by TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_verified INTEGER NOT NULL,
			agrees INTEGER NOT NULL DEFAULT 0,
			disagrees INTEGER NOT NULL DEFAULT 0,
			confidence_score INTEGER NOT NULL DEFAULT 0,
			sync_state TEXT NOT NULL DEFAULT 'dirty'
		);

		CREATE INDEX IF NOT EXISTS idx_markers_type ON markers(type);
		CREATE INDEX IF NOT EXISTS idx_markers_sync ON markers(sync_state);
		CREATE INDEX IF NOT EXISTS idx_markers_verified ON markers(last_verified);

		CREATE TABLE IF NOT EXISTS votes (
			marker_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			vote_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (marker_id, device_id)
		);

		CREATE TABLE IF NOT EXISTS sos_markers (
			id TEXT PRIMARY KEY,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			created_by TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			completed_at INTEGER,
			expires_at INTEGER,
			sync_state TEXT NOT NULL DEFAULT 'dirty'
		);

		CREATE INDEX IF NOT EXISTS idx_sos_status ON sos_markers(status);
		CREATE INDEX IF NOT EXISTS idx_sos_creator ON sos_markers(created_by);

		CREATE TABLE IF NOT EXISTS sos_responses (
			id TEXT PRIMARY KEY,
			sos_marker_id TEXT NOT NULL,
			responder_device_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			current_latitude REAL NOT NULL,
			current_longitude REAL NOT NULL,
			distance_meters REAL NOT NULL,
			eta_minutes INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			sync_state TEXT NOT NULL DEFAULT 'dirty',
			UNIQUE (sos_marker_id, responder_device_id)
		);

		CREATE INDEX IF NOT EXISTS idx_responses_sos ON sos_responses(sos_marker_id);
		CREATE INDEX IF NOT EXISTS idx_responses_device ON sos_responses(responder_device_id);

		CREATE TABLE IF NOT EXISTS sync_queue (
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			PRIMARY KEY (entity_id, action)
		);

		CREATE TABLE IF NOT EXISTS route_cache (
			key TEXT PRIMARY KEY,
			from_lat REAL NOT NULL,
			from_lon REAL NOT NULL,
			to_lat REAL NOT NULL,
			to_lon REAL NOT NULL,
			waypoints TEXT NOT NULL,
			distance_m REAL NOT NULL,
			duration_s REAL NOT NULL,
			provenance TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)

	return err
}

// initDeviceID читает идентификатор установки, создавая его при первом
// запуске. Идентификатор стабилен на все время жизни базы.
func (s *SQLiteStorage) initDeviceID() error {
	err := s.db.QueryRow("SELECT id FROM device LIMIT 1").Scan(&s.deviceID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	s.deviceID = uuid.NewString()
	_, err = s.db.Exec("INSERT INTO device (id) VALUES (?)", s.deviceID)
	return err
}

// DeviceID возвращает стабильный идентификатор этой установки.
func (s *SQLiteStorage) DeviceID() string {
	return s.deviceID
}

// Ping проверяет доступность локальной базы.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает базу.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// isUniqueViolation распознает нарушение уникального ограничения SQLite.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// enqueueTx ставит отложенную отправку в очередь внутри транзакции.
func enqueueTx(tx *sql.Tx, entityID, action string) error {
	_, err := tx.Exec(`
		INSERT OR REPLACE INTO sync_queue (entity_id, action, timestamp)
		VALUES (?, ?, ?)
	`, entityID, action, time.Now().UnixMilli())
	return err
}

// QueueDepth возвращает число отложенных отправок.
func (s *SQLiteStorage) QueueDepth(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета очереди: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Маркеры

const markerColumns = `id, type, latitude, longitude, title, description, radius_m,
	created_by, created_at, last_verified, agrees, disagrees, confidence_score, sync_state`

// InsertMarker сохраняет новый локальный маркер как dirty и ставит его
// в очередь синхронизации одной транзакцией.
func (s *SQLiteStorage) InsertMarker(ctx context.Context, m *marker.Marker) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO markers (`+markerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Type, m.Latitude, m.Longitude, m.Title, m.Description, m.RadiusM,
		m.CreatedBy, m.CreatedAt, m.LastVerified, m.Agrees, m.Disagrees,
		m.ConfidenceScore, marker.SyncStateDirty)
	if err != nil {
		return fmt.Errorf("ошибка сохранения маркера: %w", err)
	}

	if err := enqueueTx(tx, m.ID, ActionUpsertMarker); err != nil {
		return fmt.Errorf("ошибка постановки в очередь: %w", err)
	}

	m.SyncState = marker.SyncStateDirty
	return tx.Commit()
}

// GetMarker возвращает маркер или marker.ErrNotFound.
func (s *SQLiteStorage) GetMarker(ctx context.Context, id string) (*marker.Marker, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+markerColumns+" FROM markers WHERE id = ?", id)

	m, err := scanMarker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, marker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения маркера: %w", err)
	}
	return m, nil
}

// ListMarkers возвращает маркеры, опционально отфильтрованные по типу.
func (s *SQLiteStorage) ListMarkers(ctx context.Context, typeFilter marker.Type) ([]marker.Marker, error) {
	query := "SELECT " + markerColumns + " FROM markers"
	args := []interface{}{}
	if typeFilter != "" {
		query += " WHERE type = ?"
		args = append(args, typeFilter)
	}
	query += " ORDER BY last_verified DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки маркеров: %w", err)
	}
	defer rows.Close()

	return scanMarkers(rows)
}

// ListDirtyMarkers возвращает маркеры, ожидающие отправки.
func (s *SQLiteStorage) ListDirtyMarkers(ctx context.Context) ([]marker.Marker, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+markerColumns+" FROM markers WHERE sync_state = ? ORDER BY last_verified ASC",
		marker.SyncStateDirty)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки dirty маркеров: %w", err)
	}
	defer rows.Close()

	return scanMarkers(rows)
}

// ListSyncedMarkerIDs возвращает идентификаторы локально синхронизированных
// маркеров (кандидаты на сверку с удаленным хранилищем).
func (s *SQLiteStorage) ListSyncedMarkerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM markers WHERE sync_state = ?", marker.SyncStateSynced)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки synced маркеров: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MaxMarkerLastVerified возвращает водяной знак для pull, 0 если маркеров нет.
func (s *SQLiteStorage) MaxMarkerLastVerified(ctx context.Context) (int64, error) {
	var watermark sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(last_verified) FROM markers").Scan(&watermark)
	if err != nil {
		return 0, fmt.Errorf("ошибка вычисления водяного знака: %w", err)
	}
	return watermark.Int64, nil
}

// UpsertMarkerSynced применяет строку, пришедшую с удаленного хранилища:
// сохраняет как synced и в очередь не ставит.
func (s *SQLiteStorage) UpsertMarkerSynced(ctx context.Context, m *marker.Marker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO markers (`+markerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Type, m.Latitude, m.Longitude, m.Title, m.Description, m.RadiusM,
		m.CreatedBy, m.CreatedAt, m.LastVerified, m.Agrees, m.Disagrees,
		m.ConfidenceScore, marker.SyncStateSynced)
	if err != nil {
		return fmt.Errorf("ошибка применения удаленного маркера: %w", err)
	}
	return nil
}

// MarkMarkerSynced помечает маркер отправленным и снимает его с очереди.
func (s *SQLiteStorage) MarkMarkerSynced(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE markers SET sync_state = ? WHERE id = ?", marker.SyncStateSynced, id); err != nil {
		return fmt.Errorf("ошибка обновления статуса синхронизации: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM sync_queue WHERE entity_id = ? AND action = ?", id, ActionUpsertMarker); err != nil {
		return fmt.Errorf("ошибка снятия с очереди: %w", err)
	}

	return tx.Commit()
}

// DeleteMarker удаляет маркер вместе с его голосами и записью очереди.
func (s *SQLiteStorage) DeleteMarker(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM markers WHERE id = ?", id); err != nil {
		return fmt.Errorf("ошибка удаления маркера: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM votes WHERE marker_id = ?", id); err != nil {
		return fmt.Errorf("ошибка удаления голосов: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM sync_queue WHERE entity_id = ? AND action = ?", id, ActionUpsertMarker); err != nil {
		return fmt.Errorf("ошибка снятия с очереди: %w", err)
	}

	return tx.Commit()
}

// CastVote записывает голос устройства и пересчитывает счетчики и
// уверенность маркера атомарно с пометкой dirty.
func (s *SQLiteStorage) CastVote(ctx context.Context, markerID, deviceID string, vt marker.VoteType) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	var createdBy string
	var agrees, disagrees int
	err = tx.QueryRow(
		"SELECT created_by, agrees, disagrees FROM markers WHERE id = ?", markerID).
		Scan(&createdBy, &agrees, &disagrees)
	if errors.Is(err, sql.ErrNoRows) {
		return marker.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ошибка получения маркера: %w", err)
	}

	if createdBy == deviceID {
		return marker.ErrOwnMarker
	}

	_, err = tx.Exec(`
		INSERT INTO votes (marker_id, device_id, vote_type, timestamp)
		VALUES (?, ?, ?, ?)
	`, markerID, deviceID, vt, time.Now().UnixMilli())
	if isUniqueViolation(err) {
		return marker.ErrAlreadyVoted
	}
	if err != nil {
		return fmt.Errorf("ошибка сохранения голоса: %w", err)
	}

	if vt == marker.VoteAgree {
		agrees++
	} else {
		disagrees++
	}

	_, err = tx.Exec(`
		UPDATE markers
		SET agrees = ?, disagrees = ?, confidence_score = ?, last_verified = ?, sync_state = ?
		WHERE id = ?
	`, agrees, disagrees, marker.Confidence(agrees, disagrees),
		time.Now().UnixMilli(), marker.SyncStateDirty, markerID)
	if err != nil {
		return fmt.Errorf("ошибка обновления счетчиков: %w", err)
	}

	if err := enqueueTx(tx, markerID, ActionUpsertMarker); err != nil {
		return fmt.Errorf("ошибка постановки в очередь: %w", err)
	}

	return tx.Commit()
}

// Вспомогательные методы

func scanMarkers(rows *sql.Rows) ([]marker.Marker, error) {
	var markers []marker.Marker
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, err
		}
		markers = append(markers, *m)
	}
	return markers, rows.Err()
}

func scanMarker(row interface {
	Scan(dest ...interface{}) error
}) (*marker.Marker, error) {
	var m marker.Marker
	var radius sql.NullFloat64

	err := row.Scan(
		&m.ID, &m.Type, &m.Latitude, &m.Longitude, &m.Title, &m.Description,
		&radius, &m.CreatedBy, &m.CreatedAt, &m.LastVerified,
		&m.Agrees, &m.Disagrees, &m.ConfidenceScore, &m.SyncState,
	)
	if err != nil {
		return nil, err
	}

	if radius.Valid {
		m.RadiusM = &radius.Float64
	}
	return &m, nil
}
