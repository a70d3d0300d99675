package sos

import "context"

// Repository — контракт локального хранилища для SOS координатора.
// Все мутации обязаны помечать строку dirty и ставить ее в очередь
// синхронизации в той же транзакции (см. локальное хранилище агента).
type Repository interface {
	// GetSOSMarker возвращает SOS маркер или ErrNotFound.
	GetSOSMarker(ctx context.Context, id string) (*Marker, error)

	// ActiveSOSByCreator возвращает активный маркер устройства, nil если нет.
	ActiveSOSByCreator(ctx context.Context, deviceID string) (*Marker, error)

	// LastSOSCreatedAt возвращает время (epoch-мс) последнего создания
	// SOS этим устройством, 0 если устройство еще не создавало запросов.
	LastSOSCreatedAt(ctx context.Context, deviceID string) (int64, error)

	// InsertSOSMarker сохраняет новый маркер как dirty.
	InsertSOSMarker(ctx context.Context, m *Marker) error

	// CompleteSOSMarker переводит маркер в completed и каскадно отменяет
	// все его активные отклики в одной локальной транзакции.
	CompleteSOSMarker(ctx context.Context, id string, completedAt, expiresAt int64) error

	// ListActiveSOS возвращает все активные SOS маркеры.
	ListActiveSOS(ctx context.Context) ([]Marker, error)

	// InsertSOSResponse сохраняет новый отклик; дубликат пары
	// (sos, responder) возвращает ErrAlreadyResponded.
	InsertSOSResponse(ctx context.Context, r *Response) error

	// GetSOSResponse возвращает отклик пары (sos, responder)
	// или ErrResponseNotFound.
	GetSOSResponse(ctx context.Context, sosID, deviceID string) (*Response, error)

	// ActiveResponseByDevice возвращает активный отклик устройства
	// на любой SOS, nil если нет.
	ActiveResponseByDevice(ctx context.Context, deviceID string) (*Response, error)

	// CountActiveResponses возвращает число активных откликов на маркер.
	CountActiveResponses(ctx context.Context, sosID string) (int, error)

	// UpdateSOSResponse перезаписывает позицию/дистанцию/статус отклика.
	UpdateSOSResponse(ctx context.Context, r *Response) error

	// DeleteExpiredSOS удаляет завершенные маркеры с истекшим expires_at
	// и активные старше stale-окна вместе с их откликами. Возвращает число
	// удаленных маркеров.
	DeleteExpiredSOS(ctx context.Context, nowMs int64, staleMs int64) (int, error)
}
