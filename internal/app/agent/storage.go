package agent

import (
	"context"

	"safemesh/internal/domain/marker"
	"safemesh/internal/domain/route"
	"safemesh/internal/domain/sos"
)

// QueueEntry — отложенная отправка: пара (entity, action) уникальна,
// запись снимается после успешного push.
type QueueEntry struct {
	EntityID  string `json:"entity_id"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}

// Действия очереди синхронизации.
const (
	ActionUpsertMarker   = "upsert_marker"
	ActionUpsertSOS      = "upsert_sos"
	ActionUpsertResponse = "upsert_response"
)

// Storage — локальное хранилище устройства. Единственный общий изменяемый
// ресурс: каждый вызов обязан быть безопасным при чередовании цикла
// синхронизации и realtime-событий (см. движок синхронизации).
//
// Контракт dirty/queue: мутации, меняющие видимые пользователю поля,
// выставляют sync_state='dirty' и кладут запись в очередь в той же
// транзакции; записи, пришедшие с удаленного хранилища, сохраняются
// как synced и в очередь не попадают.
type Storage interface {
	sos.Repository
	route.Cache

	// DeviceID возвращает стабильный идентификатор этой установки.
	DeviceID() string

	// Маркеры
	InsertMarker(ctx context.Context, m *marker.Marker) error
	GetMarker(ctx context.Context, id string) (*marker.Marker, error)
	ListMarkers(ctx context.Context, typeFilter marker.Type) ([]marker.Marker, error)
	ListDirtyMarkers(ctx context.Context) ([]marker.Marker, error)
	ListSyncedMarkerIDs(ctx context.Context) ([]string, error)
	MaxMarkerLastVerified(ctx context.Context) (int64, error)
	UpsertMarkerSynced(ctx context.Context, m *marker.Marker) error
	MarkMarkerSynced(ctx context.Context, id string) error
	DeleteMarker(ctx context.Context, id string) error

	// Голоса
	CastVote(ctx context.Context, markerID, deviceID string, vt marker.VoteType) error

	// SOS маркеры (поверх sos.Repository)
	ListDirtySOSMarkers(ctx context.Context) ([]sos.Marker, error)
	MaxSOSMarkerCreatedAt(ctx context.Context) (int64, error)
	UpsertSOSMarkerSynced(ctx context.Context, m *sos.Marker) error
	MarkSOSMarkerSynced(ctx context.Context, id string) error
	DeleteSOSMarker(ctx context.Context, id string) error
	CancelActiveResponsesFor(ctx context.Context, sosID string) error

	// SOS отклики
	ListDirtySOSResponses(ctx context.Context) ([]sos.Response, error)
	MaxSOSResponseUpdatedAt(ctx context.Context) (int64, error)
	UpsertSOSResponseSynced(ctx context.Context, r *sos.Response) error
	MarkSOSResponseSynced(ctx context.Context, id string) error
	DeleteSOSResponse(ctx context.Context, id string) error
	CancelResponseLocal(ctx context.Context, id string) error

	// Очередь
	QueueDepth(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
