package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	sessionHandler "github.com/nexlink/pairbroker/internal/handler/session"
	middlewarePkg "github.com/nexlink/pairbroker/internal/middleware"
	"github.com/nexlink/pairbroker/internal/service/pairing"
	"github.com/nexlink/pairbroker/pkg/utils"
)

// NewRouter wires HTTP routes to the session manager.
func NewRouter(manager *pairing.Manager) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	started := time.Now()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"service": "pairbroker",
			"status":  "ok",
		})
	})

	r.Route("/api", func(api chi.Router) {
		sessionHandler.New(manager).RegisterRoutes(api)

		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)

			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":         "ok",
				"uptime":         time.Since(started).Round(time.Second).String(),
				"activeSessions": manager.Count(),
				"memory": map[string]uint64{
					"allocBytes": mem.Alloc,
					"sysBytes":   mem.Sys,
					"numGC":      uint64(mem.NumGC),
				},
			})
		})
	})

	return r
}
