package sos

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"safemesh/internal/app/agent"
	sosDomain "safemesh/internal/domain/sos"
	"safemesh/internal/geo"
)

type Handler struct {
	storage    agent.Storage
	service    *sosDomain.Service
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(storage agent.Storage, service *sosDomain.Service, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		storage:    storage,
		service:    service,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.listActiveOp(), h.listActive)
	huma.Register(api, h.nearbyOp(), h.nearby)
}

func (h *Handler) listActive(ctx context.Context, _ *ListInput) (*ListOutput, error) {
	markers, err := h.storage.ListActiveSOS(ctx)
	if err != nil {
		h.log.Error("failed to list active sos", "error", err)
		return nil, huma.Error500InternalServerError("list active sos")
	}

	return &ListOutput{
		Body: ListResponse{
			Markers: markers,
			Total:   len(markers),
		},
	}, nil
}

func (h *Handler) nearby(ctx context.Context, in *NearbyInput) (*NearbyOutput, error) {
	loc := geo.Point{Lat: in.Lat, Lon: in.Lon}

	markers, err := h.service.Nearby(ctx, h.storage.DeviceID(), loc)
	if err != nil {
		h.log.Error("failed to list nearby sos", "error", err)
		return nil, huma.Error500InternalServerError("nearby sos")
	}

	return &NearbyOutput{
		Body: ListResponse{
			Markers: markers,
			Total:   len(markers),
		},
	}, nil
}
