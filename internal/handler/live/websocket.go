package live

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/atlascall/sales-copilot/backend/internal/ingest"
	"github.com/atlascall/sales-copilot/backend/internal/publisher"
	sessionService "github.com/atlascall/sales-copilot/backend/internal/service/session"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Handler owns the live websocket surfaces: the audio ingest stream and
// the suggestion delivery stream.
type Handler struct {
	store    *sessionService.Store
	adapter  *ingest.Adapter
	pub      *publisher.Publisher
	upgrader websocket.Upgrader
}

// New creates the live websocket handler.
func New(store *sessionService.Store, adapter *ingest.Adapter, pub *publisher.Publisher) *Handler {
	return &Handler{
		store:   store,
		adapter: adapter,
		pub:     pub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/audio/{sessionID}", h.handleAudio)
	r.Get("/ws/suggestions/{sessionID}", h.handleSuggestions)
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn serializes writes. The transcript fanout goroutine and the read
// loop's error replies share one connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// handleAudio accepts recognizer fragments and echoes back everything the
// session publishes on the transcript channel: turns, stage changes, and
// interrupt notices.
func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.store.Get(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[live] audio upgrade failed session=%s: %v", sessionID, err)
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	log.Printf("[live] audio stream connected session=%s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.pub.Subscribe(sessionID, publisher.ChannelTranscript)
	defer sub.Cancel()

	raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)
	go h.forwardEvents(ctx, conn, sub)

	h.sendInfo(conn, sessionID, map[string]any{"type": "connected", "channel": "transcript"})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var frag ingest.Fragment
			if err := raw.ReadJSON(&frag); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[live] audio read error session=%s: %v", sessionID, err)
				}
				return
			}
			raw.SetReadDeadline(time.Now().Add(readTimeout))

			if _, _, err := h.adapter.OnFragment(ctx, sessionID, frag); err != nil {
				if errors.Is(err, sessionService.ErrSessionEnded) {
					h.sendError(conn, sessionID, "session has ended")
					return
				}
				h.sendError(conn, sessionID, err.Error())
			}
		}
	}
}

// handleSuggestions is write-mostly: the client connects and receives
// suggestion events, starting with whatever backlog accumulated while
// nobody was listening.
func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.store.Get(sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[live] suggestion upgrade failed session=%s: %v", sessionID, err)
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	log.Printf("[live] suggestion stream connected session=%s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.pub.Subscribe(sessionID, publisher.ChannelSuggestions)
	defer sub.Cancel()

	raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	// Drain the read side so close frames and pongs are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := raw.ReadMessage(); err != nil {
				return
			}
			raw.SetReadDeadline(time.Now().Add(readTimeout))
		}
	}()

	h.sendInfo(conn, sessionID, map[string]any{"type": "connected", "channel": "suggestions"})

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func (h *Handler) forwardEvents(ctx context.Context, conn *wsConn, sub *publisher.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := h.writeEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeEvent(conn *wsConn, ev publisher.Event) error {
	return conn.writeJSON(outgoingMessage{
		Type:      ev.Type,
		SessionID: ev.SessionID,
		Data:      ev.Data,
		Timestamp: ev.At.Unix(),
	})
}

func (h *Handler) sendInfo(conn *wsConn, sessionID string, data map[string]any) {
	msg := outgoingMessage{
		Type:      publisher.EventStatus,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		log.Printf("[live] write info failed: %v", err)
	}
}

func (h *Handler) sendError(conn *wsConn, sessionID string, message string) {
	msg := outgoingMessage{
		Type:      "error",
		SessionID: sessionID,
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(msg); err != nil {
		log.Printf("[live] write error failed: %v", err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
