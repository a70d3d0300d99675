package marker

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) listMarkersOp() huma.Operation {
	return huma.Operation{
		OperationID: "list-markers",
		Method:      http.MethodGet,
		Path:        "/api/v1/markers",
		Summary:     "List markers",
		Description: "Returns locally known markers, optionally filtered by type",
		Tags:        []string{"markers"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) getMarkerOp() huma.Operation {
	return huma.Operation{
		OperationID: "get-marker",
		Method:      http.MethodGet,
		Path:        "/api/v1/markers/{id}",
		Summary:     "Get marker",
		Description: "Returns a single marker by id",
		Tags:        []string{"markers"},
		Middlewares: h.middleware,
	}
}
