package status

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) getStatusOp() huma.Operation {
	return huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Agent status",
		Description: "Returns the device identity, sync queue depth and last sync cycle result",
		Tags:        []string{"status"},
		Middlewares: h.middleware,
	}
}
