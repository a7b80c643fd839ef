package coach

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atlascall/sales-copilot/backend/internal/model/call"
	"github.com/atlascall/sales-copilot/backend/internal/publisher"
	"github.com/atlascall/sales-copilot/backend/internal/service/ai"
	"github.com/atlascall/sales-copilot/backend/internal/service/session"
	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	respond func(req ai.Request) (string, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, req ai.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	fn := f.respond
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return "suggested line for " + string(req.Unit), nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type rig struct {
	store *session.Store
	pub   *publisher.Publisher
	gen   *fakeGenerator
	disp  *Dispatcher
	id    string
	sugs  *publisher.Subscription
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	store := session.NewStore(10)
	pub := publisher.New()
	gen := &fakeGenerator{}
	info, err := store.Create(call.Metadata{RepID: "rep-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sugs := pub.Subscribe(info.ID, publisher.ChannelSuggestions)
	return &rig{
		store: store,
		pub:   pub,
		gen:   gen,
		disp:  NewDispatcher(store, gen, pub, opts),
		id:    info.ID,
		sugs:  sugs,
	}
}

func (r *rig) customerTurn(t *testing.T, text string) call.Turn {
	t.Helper()
	turn, err := r.store.AppendTurn(r.id, call.SpeakerCustomer, text, 0.95)
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	return turn
}

func waitSuggestion(t *testing.T, sub *publisher.Subscription) call.Suggestion {
	t.Helper()
	select {
	case ev := <-sub.C:
		sug, ok := ev.Data.(call.Suggestion)
		if !ok {
			t.Fatalf("event data is %T, want call.Suggestion", ev.Data)
		}
		return sug
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for suggestion event")
		return call.Suggestion{}
	}
}

func TestDispatcherCustomerTurnProducesSuggestion(t *testing.T) {
	r := newRig(t, Options{Timeout: time.Second})

	turn := r.customerTurn(t, "we keep losing track of follow ups")
	if err := r.disp.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}

	sug := waitSuggestion(t, r.sugs)
	if sug.Degraded {
		t.Fatal("suggestion should not be degraded")
	}
	if sug.Text == "" {
		t.Fatal("suggestion text is empty")
	}
	last, err := r.store.LastSuggestion(r.id)
	if err != nil {
		t.Fatalf("LastSuggestion: %v", err)
	}
	if last == nil || last.ID != sug.ID {
		t.Fatalf("store last suggestion %+v, published %q", last, sug.ID)
	}
}

func TestDispatcherRepTurnIsHistoryOnly(t *testing.T) {
	r := newRig(t, Options{Timeout: time.Second})

	turn, err := r.store.AppendTurn(r.id, call.SpeakerRep, "thanks for taking the time", 0.99)
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := r.disp.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := r.gen.callCount(); n != 0 {
		t.Fatalf("rep turn triggered %d generations, want 0", n)
	}
}

func TestDispatcherDebounceCoalescesBurst(t *testing.T) {
	r := newRig(t, Options{Debounce: 60 * time.Millisecond, Timeout: time.Second})

	for _, text := range []string{"well", "so the thing is", "our onboarding is a mess"} {
		turn := r.customerTurn(t, text)
		if err := r.disp.OnTurn(context.Background(), turn); err != nil {
			t.Fatalf("OnTurn: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	sug := waitSuggestion(t, r.sugs)
	if sug.Degraded {
		t.Fatal("suggestion should not be degraded")
	}
	if n := r.gen.callCount(); n != 1 {
		t.Fatalf("burst of 3 turns triggered %d generations, want 1", n)
	}
	select {
	case ev := <-r.sugs.C:
		t.Fatalf("unexpected second suggestion event: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDispatcherInterruptPreemptsInFlightGeneration(t *testing.T) {
	r := newRig(t, Options{Timeout: 2 * time.Second})

	release := make(chan struct{})
	r.gen.respond = func(req ai.Request) (string, error) {
		if req.Unit == ai.UnitInterrupt {
			return "let's circle back to where we were", nil
		}
		<-release
		return "stale answer", nil
	}

	turn := r.customerTurn(t, "hold on, what was that noise")
	if err := r.disp.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if err := r.disp.OnInterrupt(context.Background(), r.id, "customer distracted"); err != nil {
		t.Fatalf("OnInterrupt: %v", err)
	}

	sug := waitSuggestion(t, r.sugs)
	if sug.Unit != string(ai.UnitInterrupt) {
		t.Fatalf("delivered unit %q, want interrupt", sug.Unit)
	}

	// Let the preempted generation finish; its result must be discarded.
	close(release)
	select {
	case ev := <-r.sugs.C:
		t.Fatalf("stale generation leaked through: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
	last, err := r.store.LastSuggestion(r.id)
	if err != nil {
		t.Fatalf("LastSuggestion: %v", err)
	}
	if last == nil || last.Unit != string(ai.UnitInterrupt) {
		t.Fatalf("store kept %+v as last suggestion, want interrupt", last)
	}
}

func TestDispatcherDegradesAfterRetry(t *testing.T) {
	r := newRig(t, Options{Timeout: time.Second, RetryBackoff: 5 * time.Millisecond})
	r.gen.respond = func(req ai.Request) (string, error) {
		return "", errors.New("backend down")
	}

	turn := r.customerTurn(t, "sounds expensive honestly")
	if err := r.disp.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}

	sug := waitSuggestion(t, r.sugs)
	if !sug.Degraded {
		t.Fatal("suggestion should be flagged degraded")
	}
	if sug.Text != call.FallbackText {
		t.Fatalf("degraded text %q, want fallback", sug.Text)
	}
	if n := r.gen.callCount(); n != 2 {
		t.Fatalf("backend called %d times, want 2 (one retry)", n)
	}
}

func TestDispatcherGenerateNow(t *testing.T) {
	r := newRig(t, Options{Timeout: time.Second})

	sug, err := r.disp.GenerateNow(context.Background(), r.id)
	if err != nil {
		t.Fatalf("GenerateNow: %v", err)
	}
	if sug.Text == "" || sug.Degraded {
		t.Fatalf("unexpected suggestion: %+v", sug)
	}
	if sug.Stage != stage.Opening {
		t.Fatalf("stage %q, want opening", sug.Stage)
	}
	published := waitSuggestion(t, r.sugs)
	if published.ID != sug.ID {
		t.Fatalf("published %q, returned %q", published.ID, sug.ID)
	}
}

func TestDispatcherStageSignalAdvances(t *testing.T) {
	r := newRig(t, Options{Timeout: time.Second})

	transcript := r.pub.Subscribe(r.id, publisher.ChannelTranscript)

	turn := r.customerTurn(t, "nice to meet you, thanks for taking the time")
	if err := r.disp.OnTurn(context.Background(), turn); err != nil {
		t.Fatalf("OnTurn: %v", err)
	}

	select {
	case ev := <-transcript.C:
		if ev.Type != publisher.EventStage {
			t.Fatalf("event type %q, want stage", ev.Type)
		}
		data := ev.Data.(map[string]any)
		if data["to"] != string(stage.Discovery) {
			t.Fatalf("moved to %v, want discovery", data["to"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stage event")
	}

	st, err := r.store.State(r.id)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.Stage != stage.Discovery {
		t.Fatalf("stage %q, want discovery", st.Stage)
	}
	waitSuggestion(t, r.sugs)
}

func TestDispatcherResumeRestoresStage(t *testing.T) {
	r := newRig(t, Options{Timeout: time.Second})
	transcript := r.pub.Subscribe(r.id, publisher.ChannelTranscript)
	mustAdvance(t, r.store, r.id, stage.Discovery, stage.Pitch)

	if err := r.disp.OnInterrupt(context.Background(), r.id, "customer changed the subject"); err != nil {
		t.Fatalf("OnInterrupt: %v", err)
	}
	waitSuggestion(t, r.sugs)
	drainInterruptEvent(t, transcript)

	restored, err := r.disp.Resume(r.id)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if restored != stage.Pitch {
		t.Fatalf("restored %q, want pitch", restored)
	}

	select {
	case ev := <-transcript.C:
		if ev.Type != publisher.EventStage {
			t.Fatalf("event type %q, want stage", ev.Type)
		}
		data := ev.Data.(map[string]any)
		if data["from"] != string(stage.Pitch) || data["to"] != string(stage.Pitch) {
			t.Fatalf("resume event %v -> %v, want the pre-resume stage", data["from"], data["to"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resume stage event")
	}
}

func TestDispatcherResumeWithoutInterruptStaysSilent(t *testing.T) {
	r := newRig(t, Options{Timeout: time.Second})
	transcript := r.pub.Subscribe(r.id, publisher.ChannelTranscript)
	mustAdvance(t, r.store, r.id, stage.Discovery)

	restored, err := r.disp.Resume(r.id)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if restored != stage.Discovery {
		t.Fatalf("stage %q, want discovery", restored)
	}

	select {
	case ev := <-transcript.C:
		t.Fatalf("unexpected %q event for a no-op resume", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func drainInterruptEvent(t *testing.T, sub *publisher.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.C:
		if ev.Type != publisher.EventInterrupt {
			t.Fatalf("event type %q, want interrupt", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interrupt event")
	}
}

func TestDispatcherInterruptQueryReachesBackend(t *testing.T) {
	r := newRig(t, Options{Timeout: time.Second})
	var got string
	var mu sync.Mutex
	r.gen.respond = func(req ai.Request) (string, error) {
		mu.Lock()
		got = req.Query
		mu.Unlock()
		return "acknowledge and redirect", nil
	}

	if err := r.disp.OnInterrupt(context.Background(), r.id, "customer asked about a competitor"); err != nil {
		t.Fatalf("OnInterrupt: %v", err)
	}
	waitSuggestion(t, r.sugs)

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(got, "competitor") {
		t.Fatalf("backend query %q does not carry the interrupt reason", got)
	}
}

func mustAdvance(t *testing.T, store *session.Store, id string, targets ...stage.Stage) {
	t.Helper()
	for _, target := range targets {
		if _, _, err := store.AdvanceTo(id, target); err != nil {
			t.Fatalf("AdvanceTo(%s): %v", target, err)
		}
	}
}
