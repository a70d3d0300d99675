//Локальный read-only API агента для UI на устройстве:
//состояние синхронизации, маркеры и активные SOS.

//GET /api/v1/health        # Проверка живости
//GET /api/v1/status        # Статус синхронизации и очереди
//GET /api/v1/markers       # Список маркеров (фильтр по типу)
//GET /api/v1/markers/{id}  # Один маркер
//GET /api/v1/sos           # Активные SOS
//GET /api/v1/sos/nearby    # Активные SOS рядом с точкой

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"safemesh/internal/app/agent"
	healthAPI "safemesh/internal/app/agent/api/http/health"
	markerAPI "safemesh/internal/app/agent/api/http/marker"
	"safemesh/internal/app/agent/api/http/middleware/logger"
	sosAPI "safemesh/internal/app/agent/api/http/sos"
	statusAPI "safemesh/internal/app/agent/api/http/status"
	"safemesh/internal/domain/sos"
)

type Handlers struct {
	Health *healthAPI.Handler
	Status *statusAPI.Handler
	Marker *markerAPI.Handler
	SOS    *sosAPI.Handler
}

// New создает *chi.Mux со всеми операциями через huma.Register
func New(storage agent.Storage, remote healthAPI.Pinger, engine *agent.Engine, sosSvc *sos.Service, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	config := huma.DefaultConfig("SafeMesh Agent API", "1.0.0")
	API := humachi.New(mux, config)

	h := handlers(storage, remote, engine, sosSvc, log)
	h.Health.SetupRoutes(API)
	h.Status.SetupRoutes(API)
	h.Marker.SetupRoutes(API)
	h.SOS.SetupRoutes(API)

	return mux
}

func handlers(storage agent.Storage, remote healthAPI.Pinger, engine *agent.Engine, sosSvc *sos.Service, log *slog.Logger) *Handlers {
	loggerMW := logger.New(log)
	mw := huma.Middlewares{loggerMW.Middleware()}

	return &Handlers{
		Health: healthAPI.NewHandler(storage, remote, log, mw),
		Status: statusAPI.NewHandler(storage, engine, log, mw),
		Marker: markerAPI.NewHandler(storage, log, mw),
		SOS:    sosAPI.NewHandler(storage, sosSvc, log, mw),
	}
}
