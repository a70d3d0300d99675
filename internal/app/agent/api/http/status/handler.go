package status

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"safemesh/internal/app/agent"
)

type Handler struct {
	storage    agent.Storage
	engine     *agent.Engine
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(storage agent.Storage, engine *agent.Engine, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		storage:    storage,
		engine:     engine,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.getStatusOp(), h.getStatus)
}

func (h *Handler) getStatus(ctx context.Context, _ *Input) (*Output, error) {
	depth, err := h.storage.QueueDepth(ctx)
	if err != nil {
		h.log.Error("failed to get queue depth", "error", err)
		return nil, huma.Error500InternalServerError(fmt.Sprintf("queue depth: %v", err))
	}

	return &Output{
		Body: Response{
			DeviceID:   h.storage.DeviceID(),
			QueueDepth: depth,
			LastCycle:  h.engine.LastCycle(),
		},
	}, nil
}
