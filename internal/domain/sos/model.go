package sos

import (
	"time"

	"github.com/google/uuid"

	"safemesh/internal/geo"
)

// Status — состояние SOS маркера.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// ResponseStatus — состояние отклика на SOS.
type ResponseStatus string

const (
	ResponseActive    ResponseStatus = "active"
	ResponseCancelled ResponseStatus = "cancelled"
	ResponseArrived   ResponseStatus = "arrived"
)

// SyncState — состояние записи относительно удаленного хранилища.
type SyncState string

const (
	SyncStateDirty  SyncState = "dirty"
	SyncStateSynced SyncState = "synced"
)

// Marker — запрос о помощи. У одного устройства может быть не больше
// одного активного запроса; завершенный запрос живет еще grace-окно
// и затем удаляется.
type Marker struct {
	ID          string    `json:"id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   int64     `json:"created_at"`
	Status      Status    `json:"status"`
	CompletedAt *int64    `json:"completed_at,omitempty"`
	ExpiresAt   *int64    `json:"expires_at,omitempty"`
	SyncState   SyncState `json:"sync_state"`
}

// Response — отклик устройства на чужой SOS. Пара (sos, responder)
// уникальна; на один SOS допускается не больше пяти активных откликов.
type Response struct {
	ID               string         `json:"id"`
	SOSMarkerID      string         `json:"sos_marker_id"`
	ResponderDevice  string         `json:"responder_device_id"`
	CreatedAt        int64          `json:"created_at"`
	UpdatedAt        int64          `json:"updated_at"`
	CurrentLatitude  float64        `json:"current_latitude"`
	CurrentLongitude float64        `json:"current_longitude"`
	DistanceMeters   float64        `json:"distance_meters"`
	ETAMinutes       int            `json:"eta_minutes"`
	Status           ResponseStatus `json:"status"`
	SyncState        SyncState      `json:"sync_state"`
}

// NewMarker создает активный SOS маркер от имени устройства.
func NewMarker(deviceID string, loc geo.Point) Marker {
	return Marker{
		ID:        uuid.NewString(),
		Latitude:  loc.Lat,
		Longitude: loc.Lon,
		CreatedBy: deviceID,
		CreatedAt: time.Now().UnixMilli(),
		Status:    StatusActive,
		SyncState: SyncStateDirty,
	}
}

// Point возвращает координату маркера.
func (m *Marker) Point() geo.Point {
	return geo.Point{Lat: m.Latitude, Lon: m.Longitude}
}

// Point возвращает текущую координату отвечающего.
func (r *Response) Point() geo.Point {
	return geo.Point{Lat: r.CurrentLatitude, Lon: r.CurrentLongitude}
}
