package live

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/atlascall/sales-copilot/backend/internal/ingest"
	"github.com/atlascall/sales-copilot/backend/internal/model/call"
	"github.com/atlascall/sales-copilot/backend/internal/publisher"
	"github.com/atlascall/sales-copilot/backend/internal/service/ai"
	"github.com/atlascall/sales-copilot/backend/internal/service/coach"
	sessionService "github.com/atlascall/sales-copilot/backend/internal/service/session"
)

type cannedGenerator struct{}

func (cannedGenerator) Generate(ctx context.Context, req ai.Request) (string, error) {
	return "probe for the underlying pain", nil
}

type testEnv struct {
	srv   *httptest.Server
	store *sessionService.Store
	pub   *publisher.Publisher
	id    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := sessionService.NewStore(5)
	pub := publisher.New()
	dispatcher := coach.NewDispatcher(store, cannedGenerator{}, pub, coach.Options{Timeout: time.Second})
	adapter := ingest.NewAdapter(store, pub, dispatcher)

	info, err := store.Create(call.Metadata{RepID: "rep-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := chi.NewRouter()
	New(store, adapter, pub).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, pub: pub, id: info.ID}
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wsMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestAudioStreamIngestsFragments(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/audio/"+env.id)

	if msg := readMessage(t, conn); msg.Type != publisher.EventStatus {
		t.Fatalf("first message type %q, want status", msg.Type)
	}

	frag := ingest.Fragment{Speaker: "customer", Text: "we keep missing renewals", Final: true, Confidence: 0.9}
	if err := conn.WriteJSON(frag); err != nil {
		t.Fatalf("write fragment: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != publisher.EventTurn {
		t.Fatalf("message type %q, want turn", msg.Type)
	}
	var turn call.Turn
	if err := json.Unmarshal(msg.Data, &turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if turn.Seq != 1 || turn.Text != "we keep missing renewals" {
		t.Fatalf("unexpected turn: %+v", turn)
	}

	st, err := env.store.State(env.id)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(st.Turns) != 1 {
		t.Fatalf("stored %d turns, want 1", len(st.Turns))
	}
}

func TestAudioStreamIgnoresPartials(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/audio/"+env.id)
	readMessage(t, conn)

	partial := ingest.Fragment{Speaker: "customer", Text: "we keep miss", Final: false}
	if err := conn.WriteJSON(partial); err != nil {
		t.Fatalf("write fragment: %v", err)
	}
	final := ingest.Fragment{Speaker: "customer", Text: "we keep missing renewals", Final: true}
	if err := conn.WriteJSON(final); err != nil {
		t.Fatalf("write fragment: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != publisher.EventTurn {
		t.Fatalf("message type %q, want turn", msg.Type)
	}
	st, err := env.store.State(env.id)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(st.Turns) != 1 {
		t.Fatalf("stored %d turns, want 1 (partial must be skipped)", len(st.Turns))
	}
}

func TestSuggestionStreamDelivers(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/suggestions/"+env.id)

	if msg := readMessage(t, conn); msg.Type != publisher.EventStatus {
		t.Fatalf("first message type %q, want status", msg.Type)
	}

	sug := call.Suggestion{ID: "s-1", SessionID: env.id, Text: "ask about timeline", CreatedAt: time.Now()}
	env.pub.PublishSuggestion(env.id, publisher.Event{
		Type:      publisher.EventSuggestion,
		SessionID: env.id,
		Data:      sug,
		At:        sug.CreatedAt,
	})

	msg := readMessage(t, conn)
	if msg.Type != publisher.EventSuggestion {
		t.Fatalf("message type %q, want suggestion", msg.Type)
	}
	var got call.Suggestion
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode suggestion: %v", err)
	}
	if got.ID != "s-1" {
		t.Fatalf("suggestion id %q, want s-1", got.ID)
	}
}

func TestSuggestionStreamReplaysBacklog(t *testing.T) {
	env := newTestEnv(t)

	// Publish before anyone listens; the last three must replay on attach.
	for _, id := range []string{"s-1", "s-2", "s-3", "s-4"} {
		env.pub.PublishSuggestion(env.id, publisher.Event{
			Type:      publisher.EventSuggestion,
			SessionID: env.id,
			Data:      call.Suggestion{ID: id, SessionID: env.id},
			At:        time.Now(),
		})
	}

	conn := env.dial(t, "/ws/suggestions/"+env.id)
	readMessage(t, conn)

	var ids []string
	for i := 0; i < 3; i++ {
		msg := readMessage(t, conn)
		var sug call.Suggestion
		if err := json.Unmarshal(msg.Data, &sug); err != nil {
			t.Fatalf("decode suggestion: %v", err)
		}
		ids = append(ids, sug.ID)
	}
	want := []string{"s-2", "s-3", "s-4"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("backlog replay %v, want %v", ids, want)
		}
	}
}

func TestWebsocketUnknownSessionIs404(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/audio/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("response %+v, want 404", resp)
	}
}
