package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/internal/directory"
	"github.com/fourducktion/party-lobby/internal/hub"
	"github.com/fourducktion/party-lobby/internal/platform/logger"
	"github.com/fourducktion/party-lobby/internal/platform/metrics"
	"github.com/fourducktion/party-lobby/internal/ws"
)

type Deps struct {
	Hub       *hub.Hub
	Directory directory.Client
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	WS        ws.Options
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(d.Log))
	if d.Metrics != nil {
		r.Use(metrics.RequestMiddleware(d.Metrics))
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	// Public routes
	r.Post("/lobbies", CreateLobby(d.Hub, d.Log))
	r.Get("/lobbies", ListLobbies(d.Directory, d.Log))
	r.Get("/lobbies/quick", QuickMatch(d.Directory, d.Log))
	r.Get("/healthz", Healthz(d.Hub))
	r.Get("/ws", ws.Handler(d.Hub, d.Log, d.WS))
	return r
}
