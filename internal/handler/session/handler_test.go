package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlascall/sales-copilot/backend/internal/ingest"
	"github.com/atlascall/sales-copilot/backend/internal/model/call"
	"github.com/atlascall/sales-copilot/backend/internal/publisher"
	"github.com/atlascall/sales-copilot/backend/internal/service/ai"
	"github.com/atlascall/sales-copilot/backend/internal/service/coach"
	sessionService "github.com/atlascall/sales-copilot/backend/internal/service/session"
	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

type staticGenerator struct{}

func (staticGenerator) Generate(ctx context.Context, req ai.Request) (string, error) {
	return "ask about their current workflow", nil
}

func newTestHandler(t *testing.T, capacity int) (http.Handler, *sessionService.Store) {
	t.Helper()
	store := sessionService.NewStore(capacity)
	pub := publisher.New()
	dispatcher := coach.NewDispatcher(store, staticGenerator{}, pub, coach.Options{Timeout: time.Second})
	adapter := ingest.NewAdapter(store, pub, dispatcher)
	handler := New(store, dispatcher, adapter, nil, pub)

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		handler.RegisterRoutes(api)
	})
	return r, store
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func startSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/start-session", `{"repId":"rep-1","customerName":"Dana"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start-session status %d: %s", rec.Code, rec.Body.String())
	}
	var info call.Info
	decodeBody(t, rec, &info)
	if info.ID == "" || info.Stage != stage.Opening {
		t.Fatalf("unexpected session info: %+v", info)
	}
	return info.ID
}

func TestStartAndStatus(t *testing.T) {
	h, _ := newTestHandler(t, 5)
	id := startSession(t, h)

	rec := doRequest(t, h, http.MethodGet, "/api/session-status/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var status call.Status
	decodeBody(t, rec, &status)
	if status.Status != call.StatusActive || status.TurnCount != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	h, _ := newTestHandler(t, 5)
	for _, path := range []string{
		"/api/session-status/nope",
		"/api/current-stage/nope",
		"/api/conversation-state/nope",
		"/api/conversation-summary/nope",
		"/api/performance-metrics/nope",
	} {
		if rec := doRequest(t, h, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Fatalf("%s status %d, want 404", path, rec.Code)
		}
	}
}

func TestCapacityExceededIs429(t *testing.T) {
	h, _ := newTestHandler(t, 1)
	startSession(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/start-session", `{"repId":"rep-2"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", rec.Code)
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	h, _ := newTestHandler(t, 5)
	id := startSession(t, h)

	for i := 0; i < 2; i++ {
		rec := doRequest(t, h, http.MethodPost, "/api/end-session/"+id, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("end attempt %d status %d: %s", i, rec.Code, rec.Body.String())
		}
		var payload struct {
			Status  string       `json:"status"`
			Summary call.Summary `json:"summary"`
		}
		decodeBody(t, rec, &payload)
		if payload.Status != call.StatusEnded || payload.Summary.SessionID != id {
			t.Fatalf("unexpected end payload: %+v", payload)
		}
	}
}

func TestTurnIngestAfterEndIs409(t *testing.T) {
	h, _ := newTestHandler(t, 5)
	id := startSession(t, h)
	doRequest(t, h, http.MethodPost, "/api/end-session/"+id, "")

	rec := doRequest(t, h, http.MethodPost, "/api/turns/"+id,
		`{"speaker":"customer","text":"one last thing"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", rec.Code)
	}
}

func TestAdvanceStage(t *testing.T) {
	h, _ := newTestHandler(t, 5)
	id := startSession(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/advance-stage/"+id,
		`{"target":"discovery","reason":"rep override"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var moved struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	decodeBody(t, rec, &moved)
	if moved.From != string(stage.Opening) || moved.To != string(stage.Discovery) {
		t.Fatalf("unexpected move: %+v", moved)
	}

	if rec := doRequest(t, h, http.MethodPost, "/api/advance-stage/"+id,
		`{"target":"ended"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("illegal move status %d, want 422", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPost, "/api/advance-stage/"+id,
		`{"target":"negotiation"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown stage status %d, want 400", rec.Code)
	}
}

func TestNextSuggestionGeneratesWhenEmpty(t *testing.T) {
	h, _ := newTestHandler(t, 5)
	id := startSession(t, h)

	rec := doRequest(t, h, http.MethodGet, "/api/next-suggestion/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var sug call.Suggestion
	decodeBody(t, rec, &sug)
	if sug.Text == "" || sug.Degraded {
		t.Fatalf("unexpected suggestion: %+v", sug)
	}

	// Second read returns the cached suggestion rather than regenerating.
	rec = doRequest(t, h, http.MethodGet, "/api/next-suggestion/"+id, "")
	var again call.Suggestion
	decodeBody(t, rec, &again)
	if again.ID != sug.ID {
		t.Fatalf("expected cached suggestion %q, got %q", sug.ID, again.ID)
	}
}

func TestInterruptAndResume(t *testing.T) {
	h, store := newTestHandler(t, 5)
	id := startSession(t, h)
	if _, _, err := store.AdvanceTo(id, stage.Discovery); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}
	if _, _, err := store.AdvanceTo(id, stage.Pitch); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}

	rec := doRequest(t, h, http.MethodPost, "/api/handle-interrupt/"+id,
		`{"reason":"customer went off topic"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("interrupt status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/api/resume/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status %d: %s", rec.Code, rec.Body.String())
	}
	var resumed struct {
		Stage string `json:"stage"`
	}
	decodeBody(t, rec, &resumed)
	if resumed.Stage != string(stage.Pitch) {
		t.Fatalf("resumed to %q, want pitch", resumed.Stage)
	}
}

func TestTurnIngestOverRest(t *testing.T) {
	h, store := newTestHandler(t, 5)
	id := startSession(t, h)

	rec := doRequest(t, h, http.MethodPost, "/api/turns/"+id,
		`{"speaker":"customer","text":"our reporting is painfully slow","confidence":0.93}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var turn call.Turn
	decodeBody(t, rec, &turn)
	if turn.Seq != 1 || turn.Speaker != call.SpeakerCustomer {
		t.Fatalf("unexpected turn: %+v", turn)
	}

	if rec := doRequest(t, h, http.MethodPost, "/api/turns/"+id,
		`{"speaker":"narrator","text":"meanwhile"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown speaker status %d, want 400", rec.Code)
	}

	st, err := store.State(id)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(st.Turns) != 1 {
		t.Fatalf("stored %d turns, want 1", len(st.Turns))
	}
}

func TestSuggestionFeedbackAndReactions(t *testing.T) {
	h, _ := newTestHandler(t, 5)
	id := startSession(t, h)

	rec := doRequest(t, h, http.MethodGet, "/api/next-suggestion/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("next-suggestion status %d: %s", rec.Code, rec.Body.String())
	}
	var sug call.Suggestion
	decodeBody(t, rec, &sug)

	rec = doRequest(t, h, http.MethodPost, "/api/feedback/suggestion/"+id,
		`{"suggestionId":"`+sug.ID+`","used":true,"outcome":"customer engaged"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("feedback status %d: %s", rec.Code, rec.Body.String())
	}

	if rec := doRequest(t, h, http.MethodPost, "/api/feedback/suggestion/"+id,
		`{"suggestionId":"bogus","used":true}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown suggestion status %d, want 404", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/feedback/customer-reaction/"+id,
		`{"reaction":"positive","note":"asked for pricing"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("reaction status %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doRequest(t, h, http.MethodPost, "/api/feedback/customer-reaction/"+id,
		`{"reaction":"ecstatic"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid reaction status %d, want 400", rec.Code)
	}

	doRequest(t, h, http.MethodPost, "/api/end-session/"+id, "")

	rec = doRequest(t, h, http.MethodGet, "/api/conversation-summary/"+id, "")
	var summary call.Summary
	decodeBody(t, rec, &summary)
	if summary.SuggestionsUsed != 1 {
		t.Fatalf("suggestions used = %d, want 1", summary.SuggestionsUsed)
	}
	if summary.ReactionCounts["positive"] != 1 {
		t.Fatalf("reaction counts = %v", summary.ReactionCounts)
	}
}

func TestConversationStateAndSummary(t *testing.T) {
	h, _ := newTestHandler(t, 5)
	id := startSession(t, h)

	doRequest(t, h, http.MethodPost, "/api/turns/"+id,
		`{"speaker":"customer","text":"we are struggling with churn and our budget is around 50k"}`)

	rec := doRequest(t, h, http.MethodGet, "/api/conversation-state/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("state status %d: %s", rec.Code, rec.Body.String())
	}
	var state call.State
	decodeBody(t, rec, &state)
	if state.ID != id || len(state.Turns) != 1 {
		t.Fatalf("unexpected state: %+v", state)
	}

	doRequest(t, h, http.MethodPost, "/api/end-session/"+id, "")

	rec = doRequest(t, h, http.MethodGet, "/api/conversation-summary/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status %d: %s", rec.Code, rec.Body.String())
	}
	var summary call.Summary
	decodeBody(t, rec, &summary)
	if summary.TurnCount != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/performance-metrics/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d: %s", rec.Code, rec.Body.String())
	}
}
