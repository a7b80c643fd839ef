package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atlascall/sales-copilot/backend/internal/handler/live"
	sessionHandler "github.com/atlascall/sales-copilot/backend/internal/handler/session"
	"github.com/atlascall/sales-copilot/backend/internal/handler/stream"
	"github.com/atlascall/sales-copilot/backend/internal/ingest"
	middlewarePkg "github.com/atlascall/sales-copilot/backend/internal/middleware"
	"github.com/atlascall/sales-copilot/backend/internal/publisher"
	"github.com/atlascall/sales-copilot/backend/internal/service/archive"
	"github.com/atlascall/sales-copilot/backend/internal/service/coach"
	sessionService "github.com/atlascall/sales-copilot/backend/internal/service/session"
	"github.com/atlascall/sales-copilot/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(store *sessionService.Store, dispatcher *coach.Dispatcher, adapter *ingest.Adapter, archiver *archive.Archiver, pub *publisher.Publisher) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessions := sessionHandler.New(store, dispatcher, adapter, archiver, pub)
	liveHandler := live.New(store, adapter, pub)
	streamHandler := stream.New(store, pub)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"activeSessions": store.Count(),
			"time":           time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Route("/api", func(api chi.Router) {
		sessions.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	liveHandler.RegisterRoutes(r)

	return r
}
