package marker

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"safemesh/internal/app/agent"
	markerDomain "safemesh/internal/domain/marker"
)

type Handler struct {
	storage    agent.Storage
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(storage agent.Storage, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		storage:    storage,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.listMarkersOp(), h.listMarkers)
	huma.Register(api, h.getMarkerOp(), h.getMarker)
}

func (h *Handler) listMarkers(ctx context.Context, in *ListInput) (*ListOutput, error) {
	typeFilter := markerDomain.Type(in.Type)
	if in.Type != "" && !markerDomain.ValidType(typeFilter) {
		return nil, huma.Error422UnprocessableEntity("unknown marker type")
	}

	markers, err := h.storage.ListMarkers(ctx, typeFilter)
	if err != nil {
		h.log.Error("failed to list markers", "error", err)
		return nil, huma.Error500InternalServerError("list markers")
	}

	return &ListOutput{
		Body: ListResponse{
			Markers: markers,
			Total:   len(markers),
		},
	}, nil
}

func (h *Handler) getMarker(ctx context.Context, in *GetInput) (*GetOutput, error) {
	m, err := h.storage.GetMarker(ctx, in.ID)
	if errors.Is(err, markerDomain.ErrNotFound) {
		return nil, huma.Error404NotFound("marker not found")
	}
	if err != nil {
		h.log.Error("failed to get marker", "marker_id", in.ID, "error", err)
		return nil, huma.Error500InternalServerError("get marker")
	}

	return &GetOutput{Body: *m}, nil
}
