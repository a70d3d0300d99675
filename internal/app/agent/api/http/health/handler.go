package health

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Pinger — проверка доступности хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	local      Pinger
	remote     Pinger
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(local, remote Pinger, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		local:      local,
		remote:     remote,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	resp := Response{Status: "OK", LocalStore: "ok", RemoteStore: "ok"}

	if err := h.local.Ping(ctx); err != nil {
		h.log.Error("local store unreachable", "error", err)
		resp.Status = "DEGRADED"
		resp.LocalStore = "unreachable"
	}

	// Общее хранилище опрашивается с коротким таймаутом: без сети
	// ответ должен вернуться быстро, агент при этом здоров.
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.remote.Ping(pingCtx); err != nil {
		resp.RemoteStore = "unreachable"
	}

	return &Output{Body: resp}, nil
}
