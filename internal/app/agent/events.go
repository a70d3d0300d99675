package agent

import (
	"encoding/json"
	"fmt"

	"safemesh/internal/domain/marker"
	"safemesh/internal/domain/sos"
)

// EventKind — вид изменения в удаленном хранилище.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Имена таблиц удаленного хранилища, приходящие в уведомлениях.
const (
	TableMarkers      = "markers"
	TableSOSMarkers   = "sos_markers"
	TableSOSResponses = "sos_responses"
)

// RemoteEvent — разобранное realtime-уведомление: вид изменения, таблица
// и сырая строка. Типизированный доступ — через DecodeMarker и компанию.
type RemoteEvent struct {
	Kind  EventKind       `json:"kind"`
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}

// DecodeEvent разбирает полезную нагрузку уведомления pg_notify.
func DecodeEvent(payload []byte) (*RemoteEvent, error) {
	var ev RemoteEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode remote event: %w", err)
	}
	if ev.Table == "" || ev.Kind == "" {
		return nil, fmt.Errorf("decode remote event: empty kind or table")
	}
	return &ev, nil
}

// DecodeMarker разбирает строку события как маркер.
func (ev *RemoteEvent) DecodeMarker() (*marker.Marker, error) {
	var m marker.Marker
	if err := json.Unmarshal(ev.Row, &m); err != nil {
		return nil, fmt.Errorf("decode marker row: %w", err)
	}
	return &m, nil
}

// DecodeSOSMarker разбирает строку события как SOS маркер.
func (ev *RemoteEvent) DecodeSOSMarker() (*sos.Marker, error) {
	var m sos.Marker
	if err := json.Unmarshal(ev.Row, &m); err != nil {
		return nil, fmt.Errorf("decode sos marker row: %w", err)
	}
	return &m, nil
}

// DecodeSOSResponse разбирает строку события как отклик.
func (ev *RemoteEvent) DecodeSOSResponse() (*sos.Response, error) {
	var r sos.Response
	if err := json.Unmarshal(ev.Row, &r); err != nil {
		return nil, fmt.Errorf("decode sos response row: %w", err)
	}
	return &r, nil
}
