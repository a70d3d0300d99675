package marker

import "safemesh/internal/domain/marker"

// ListInput — запрос списка маркеров
type ListInput struct {
	Type string `query:"type" doc:"Optional marker type filter" example:"shelter"`
}

// ListOutput — ответ со списком маркеров
type ListOutput struct {
	Body ListResponse
}

// ListResponse — список маркеров
type ListResponse struct {
	Markers []marker.Marker `json:"markers"`
	Total   int             `json:"total"`
}

// GetInput — запрос одного маркера
type GetInput struct {
	ID string `path:"id" doc:"Marker identifier"`
}

// GetOutput — ответ с одним маркером
type GetOutput struct {
	Body marker.Marker
}
