package sos

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) listActiveOp() huma.Operation {
	return huma.Operation{
		OperationID: "list-active-sos",
		Method:      http.MethodGet,
		Path:        "/api/v1/sos",
		Summary:     "List active SOS requests",
		Description: "Returns all locally known active SOS markers",
		Tags:        []string{"sos"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) nearbyOp() huma.Operation {
	return huma.Operation{
		OperationID: "nearby-sos",
		Method:      http.MethodGet,
		Path:        "/api/v1/sos/nearby",
		Summary:     "Nearby SOS requests",
		Description: "Returns active SOS markers within the proximity radius of the given point, excluding own and dismissed ones",
		Tags:        []string{"sos"},
		Middlewares: h.middleware,
	}
}
