package marker

import (
	"math"
	"time"

	"github.com/google/uuid"

	"safemesh/internal/geo"
)

// Type — тип маркера безопасности.
type Type string

const (
	TypeSafe       Type = "safe"
	TypeDanger     Type = "danger"
	TypeUncertain  Type = "uncertain"
	TypeMedical    Type = "medical"
	TypeFood       Type = "food"
	TypeShelter    Type = "shelter"
	TypeCheckpoint Type = "checkpoint"
	TypeCombat     Type = "combat"
)

// SyncState — состояние записи относительно удаленного хранилища.
type SyncState string

const (
	SyncStateDirty  SyncState = "dirty"
	SyncStateSynced SyncState = "synced"
)

// Marker — точка интереса, созданная одним устройством и подтверждаемая
// голосами остальных. После создания меняются только счетчики голосов
// и служебные поля синхронизации.
type Marker struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	RadiusM         *float64  `json:"radius_m,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       int64     `json:"created_at"`
	LastVerified    int64     `json:"last_verified"`
	Agrees          int       `json:"agrees"`
	Disagrees       int       `json:"disagrees"`
	ConfidenceScore int       `json:"confidence_score"`
	SyncState       SyncState `json:"sync_state"`
}

// VoteType — значение голоса.
type VoteType string

const (
	VoteAgree    VoteType = "agree"
	VoteDisagree VoteType = "disagree"
)

// Vote — голос устройства за маркер; пара (marker, device) уникальна.
type Vote struct {
	MarkerID  string   `json:"marker_id"`
	DeviceID  string   `json:"device_id"`
	VoteType  VoteType `json:"vote_type"`
	Timestamp int64    `json:"timestamp"`
}

// New создает маркер от имени устройства. Создатель неявно голосует "за",
// поэтому новый маркер начинает с agrees=1 и уверенностью 100.
func New(typ Type, lat, lon float64, title, description string, radiusM *float64, deviceID string) Marker {
	now := time.Now().UnixMilli()
	return Marker{
		ID:              uuid.NewString(),
		Type:            typ,
		Latitude:        lat,
		Longitude:       lon,
		Title:           title,
		Description:     description,
		RadiusM:         radiusM,
		CreatedBy:       deviceID,
		CreatedAt:       now,
		LastVerified:    now,
		Agrees:          1,
		Disagrees:       0,
		ConfidenceScore: Confidence(1, 0),
		SyncState:       SyncStateDirty,
	}
}

// Confidence вычисляет round(agrees / (agrees+disagrees) * 100).
// При отсутствии голосов возвращает 0.
func Confidence(agrees, disagrees int) int {
	total := agrees + disagrees
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(agrees) / float64(total) * 100))
}

// ValidType проверяет, что строка является известным типом маркера.
func ValidType(t Type) bool {
	switch t {
	case TypeSafe, TypeDanger, TypeUncertain, TypeMedical,
		TypeFood, TypeShelter, TypeCheckpoint, TypeCombat:
		return true
	}
	return false
}

// Point возвращает координату маркера.
func (m *Marker) Point() geo.Point {
	return geo.Point{Lat: m.Latitude, Lon: m.Longitude}
}

// ApplyVote увеличивает счетчик и пересчитывает уверенность. Вызывающая
// сторона обязана записать оба поля одним оператором хранилища.
func (m *Marker) ApplyVote(vt VoteType) {
	if vt == VoteAgree {
		m.Agrees++
	} else {
		m.Disagrees++
	}
	m.ConfidenceScore = Confidence(m.Agrees, m.Disagrees)
	m.LastVerified = time.Now().UnixMilli()
}
