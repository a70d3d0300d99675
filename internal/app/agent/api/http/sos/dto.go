package sos

import "safemesh/internal/domain/sos"

// ListInput — запрос списка активных SOS
type ListInput struct{}

// ListOutput — ответ со списком активных SOS
type ListOutput struct {
	Body ListResponse
}

// ListResponse — список активных SOS маркеров
type ListResponse struct {
	Markers []sos.Marker `json:"markers"`
	Total   int          `json:"total"`
}

// NearbyInput — запрос SOS рядом с точкой
type NearbyInput struct {
	Lat float64 `query:"lat" required:"true" doc:"Latitude of the device" example:"50.4501"`
	Lon float64 `query:"lon" required:"true" doc:"Longitude of the device" example:"30.5234"`
}

// NearbyOutput — ответ со списком SOS в радиусе близости
type NearbyOutput struct {
	Body ListResponse
}
