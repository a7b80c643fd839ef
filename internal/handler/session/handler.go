package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlascall/sales-copilot/backend/internal/ingest"
	"github.com/atlascall/sales-copilot/backend/internal/model/call"
	"github.com/atlascall/sales-copilot/backend/internal/publisher"
	"github.com/atlascall/sales-copilot/backend/internal/service/archive"
	"github.com/atlascall/sales-copilot/backend/internal/service/coach"
	sessionService "github.com/atlascall/sales-copilot/backend/internal/service/session"
	"github.com/atlascall/sales-copilot/backend/internal/stage"
	"github.com/atlascall/sales-copilot/backend/pkg/utils"
)

// Handler exposes the session lifecycle and coaching endpoints.
type Handler struct {
	store    *sessionService.Store
	coach    *coach.Dispatcher
	adapter  *ingest.Adapter
	archiver *archive.Archiver
	pub      *publisher.Publisher
}

// New creates the session handler.
func New(store *sessionService.Store, dispatcher *coach.Dispatcher, adapter *ingest.Adapter, archiver *archive.Archiver, pub *publisher.Publisher) *Handler {
	return &Handler{store: store, coach: dispatcher, adapter: adapter, archiver: archiver, pub: pub}
}

// RegisterRoutes mounts the session endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/start-session", h.handleStartSession)
	r.Post("/end-session/{sessionID}", h.handleEndSession)
	r.Get("/session-status/{sessionID}", h.handleSessionStatus)
	r.Get("/current-stage/{sessionID}", h.handleCurrentStage)
	r.Post("/advance-stage/{sessionID}", h.handleAdvanceStage)
	r.Get("/next-suggestion/{sessionID}", h.handleNextSuggestion)
	r.Post("/handle-interrupt/{sessionID}", h.handleInterrupt)
	r.Post("/resume/{sessionID}", h.handleResume)
	r.Get("/conversation-state/{sessionID}", h.handleConversationState)
	r.Get("/conversation-summary/{sessionID}", h.handleConversationSummary)
	r.Get("/performance-metrics/{sessionID}", h.handlePerformanceMetrics)
	r.Post("/turns/{sessionID}", h.handleAppendTurn)
	r.Post("/feedback/suggestion/{sessionID}", h.handleSuggestionFeedback)
	r.Post("/feedback/customer-reaction/{sessionID}", h.handleCustomerReaction)
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var meta call.Metadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	info, err := h.store.Create(meta)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	log.Printf("[session] started session=%s rep=%s", info.ID, meta.RepID)
	utils.RespondJSON(w, http.StatusCreated, info)
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	already, err := h.store.End(sessionID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	summary, err := h.store.Summary(sessionID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	if !already {
		h.archiveCall(r.Context(), sessionID, summary)
		h.pub.Close(sessionID)
		log.Printf("[session] ended session=%s turns=%d outcome=%s", sessionID, summary.TurnCount, summary.Outcome)
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  call.StatusEnded,
		"summary": summary,
	})
}

// archiveCall snapshots the finished session into the archive. Archive
// failures are logged, never surfaced: ending the call must not depend
// on Redis being up.
func (h *Handler) archiveCall(ctx context.Context, sessionID string, summary call.Summary) {
	state, err := h.store.State(sessionID)
	if err != nil {
		log.Printf("[session] archive snapshot failed session=%s: %v", sessionID, err)
		return
	}
	metrics, err := h.store.Metrics(sessionID)
	if err != nil {
		log.Printf("[session] archive metrics failed session=%s: %v", sessionID, err)
		return
	}
	info, err := h.store.Get(sessionID)
	if err != nil {
		log.Printf("[session] archive lookup failed session=%s: %v", sessionID, err)
		return
	}

	rec := archive.Record{
		State:   state,
		Meta:    info.Metadata,
		Summary: summary,
		Metrics: metrics,
		EndedAt: time.Now().UTC(),
	}
	if err := h.archiver.StoreCall(ctx, rec); err != nil {
		log.Printf("[session] archive write failed session=%s: %v", sessionID, err)
	}
}

func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.store.Status(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleCurrentStage(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"sessionId": info.ID,
		"stage":     string(info.Stage),
	})
}

func (h *Handler) handleAdvanceStage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Target string `json:"target"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, ok := stage.Parse(payload.Target)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", payload.Target))
		return
	}

	from, to, err := h.store.AdvanceTo(sessionID, target)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	log.Printf("[session] manual stage advance session=%s %s -> %s reason=%q", sessionID, from, to, payload.Reason)
	h.pub.PublishTranscript(sessionID, publisher.Event{
		Type:      publisher.EventStage,
		SessionID: sessionID,
		Data:      map[string]any{"from": string(from), "to": string(to), "cause": "manual"},
		At:        time.Now(),
	})
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"sessionId": sessionID,
		"from":      string(from),
		"to":        string(to),
	})
}

// handleNextSuggestion returns the most recent suggestion, or generates a
// fresh one when there is none yet or ?fresh=true was passed.
func (h *Handler) handleNextSuggestion(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if r.URL.Query().Get("fresh") != "true" {
		last, err := h.store.LastSuggestion(sessionID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if last != nil {
			utils.RespondJSON(w, http.StatusOK, last)
			return
		}
	}

	sug, err := h.coach.GenerateNow(r.Context(), sessionID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sug)
}

func (h *Handler) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.coach.OnInterrupt(r.Context(), sessionID, payload.Reason); err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{
		"sessionId": sessionID,
		"status":    "interrupt_handled",
	})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	restored, err := h.coach.Resume(sessionID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"sessionId": sessionID,
		"stage":     string(restored),
	})
}

func (h *Handler) handleConversationState(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.State(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}

func (h *Handler) handleConversationSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	summary, err := h.store.Summary(sessionID)
	if err == nil {
		utils.RespondJSON(w, http.StatusOK, summary)
		return
	}
	if !errors.Is(err, sessionService.ErrNotFound) {
		respondStoreError(w, err)
		return
	}

	// The session may have been evicted from memory; try the archive.
	rec, archErr := h.archiver.LoadCall(r.Context(), sessionID)
	if archErr != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, rec.Summary)
}

func (h *Handler) handlePerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	metrics, err := h.store.Metrics(sessionID)
	if err == nil {
		utils.RespondJSON(w, http.StatusOK, metrics)
		return
	}
	if !errors.Is(err, sessionService.ErrNotFound) {
		respondStoreError(w, err)
		return
	}

	rec, archErr := h.archiver.LoadCall(r.Context(), sessionID)
	if archErr != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, rec.Metrics)
}

// handleAppendTurn ingests one finalized turn over REST. It goes through
// the same adapter as the websocket path, so signal detection and
// suggestion generation behave identically.
func (h *Handler) handleAppendTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var frag ingest.Fragment
	if err := json.NewDecoder(r.Body).Decode(&frag); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	frag.Final = true

	turn, ok, err := h.adapter.OnFragment(r.Context(), sessionID, frag)
	if err != nil {
		if errors.Is(err, call.ErrUnknownSpeaker) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondStoreError(w, err)
		return
	}
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "turn text is empty")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, turn)
}

// handleSuggestionFeedback records whether a delivered suggestion was
// used. Works on ended sessions too; reps review calls after the fact.
func (h *Handler) handleSuggestionFeedback(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		SuggestionID string `json:"suggestionId"`
		Used         bool   `json:"used"`
		Outcome      string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fb := call.SuggestionFeedback{
		SuggestionID: payload.SuggestionID,
		Used:         payload.Used,
		Outcome:      payload.Outcome,
		At:           time.Now().UTC(),
	}
	if err := h.store.RecordSuggestionFeedback(sessionID, fb); err != nil {
		if errors.Is(err, sessionService.ErrUnknownSuggestion) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, fb)
}

func (h *Handler) handleCustomerReaction(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Reaction string `json:"reaction"`
		Note     string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.store.RecordReaction(sessionID, payload.Reaction, payload.Note)
	if err != nil {
		if errors.Is(err, sessionService.ErrInvalidReaction) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, rec)
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessionService.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sessionService.ErrSessionEnded):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sessionService.ErrCapacityExceeded):
		utils.RespondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, stage.ErrIllegalTransition):
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
