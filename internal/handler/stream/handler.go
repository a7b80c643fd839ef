package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlascall/sales-copilot/backend/internal/publisher"
	sessionService "github.com/atlascall/sales-copilot/backend/internal/service/session"
	"github.com/atlascall/sales-copilot/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler serves suggestion events over Server-Sent Events for clients
// that cannot hold a websocket open.
type Handler struct {
	store *sessionService.Store
	pub   *publisher.Publisher
}

// New creates the SSE stream handler.
func New(store *sessionService.Store, pub *publisher.Publisher) *Handler {
	return &Handler{store: store, pub: pub}
}

// RegisterRoutes mounts the stream endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

// handleStream subscribes the client to the session's suggestion channel.
// The publisher replays the backlog on attach, so a client reconnecting
// after a drop still sees the suggestions it missed.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if _, err := h.store.Get(sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	sub := h.pub.Subscribe(sessionID, publisher.ChannelSuggestions)
	defer sub.Cancel()

	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	log.Printf("[stream] opening suggestion stream session=%s", sessionID)

	utils.SendSSEEvent(w, flusher, "status", map[string]any{
		"sessionId": sessionID,
		"message":   "stream established",
	})

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[stream] closing suggestion stream session=%s", sessionID)
			return
		case ev, open := <-sub.C:
			if !open {
				utils.SendSSEEvent(w, flusher, "end", map[string]any{"sessionId": sessionID})
				return
			}
			utils.SendSSEEvent(w, flusher, ev.Type, ev.Data)
		case t := <-ticker.C:
			utils.SendSSEEvent(w, flusher, "heartbeat", map[string]any{
				"time": t.UTC().Format(time.RFC3339),
			})
		}
	}
}
