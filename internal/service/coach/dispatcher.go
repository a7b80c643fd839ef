package coach

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/atlascall/sales-copilot/backend/internal/analysis/signal"
	"github.com/atlascall/sales-copilot/backend/internal/model/call"
	"github.com/atlascall/sales-copilot/backend/internal/publisher"
	"github.com/atlascall/sales-copilot/backend/internal/service/ai"
	"github.com/atlascall/sales-copilot/backend/internal/service/session"
	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

// Generator produces one coaching suggestion for a generation snapshot.
type Generator interface {
	Generate(ctx context.Context, req ai.Request) (string, error)
}

// DisabledGenerator stands in when no model backend is configured.
// Every generation degrades to the fallback suggestion.
type DisabledGenerator struct{}

func (DisabledGenerator) Generate(ctx context.Context, req ai.Request) (string, error) {
	return "", ai.ErrBackendUnavailable
}

// Options tune the dispatcher's timing behavior.
type Options struct {
	Debounce     time.Duration
	Timeout      time.Duration
	RetryBackoff time.Duration
	Window       int
}

// Dispatcher turns incoming customer turns into at most one in-flight
// suggestion per session. A newer turn, an interrupt, or session end
// preempts whatever was in flight; the stale result is discarded at
// delivery time by the store's generation token check.
type Dispatcher struct {
	store *session.Store
	gen   Generator
	pub   *publisher.Publisher
	opts  Options
}

func NewDispatcher(store *session.Store, gen Generator, pub *publisher.Publisher, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Window <= 0 {
		opts.Window = 5
	}
	return &Dispatcher{store: store, gen: gen, pub: pub, opts: opts}
}

// OnTurn processes a finalized turn. Rep turns only feed history; customer
// turns drive profile extraction, stage signals, and suggestion generation.
func (d *Dispatcher) OnTurn(ctx context.Context, turn call.Turn) error {
	if turn.Speaker != call.SpeakerCustomer {
		return nil
	}

	in := signal.ExtractInsights(turn.Text)
	if _, err := d.store.UpdateProfile(turn.SessionID, in); err != nil {
		return err
	}

	st, err := d.store.State(turn.SessionID)
	if err != nil {
		return err
	}
	if sig := signal.Detect(st.Stage, turn.Text, st.Profile); sig != stage.SignalNone {
		from, to, err := d.store.ApplySignal(turn.SessionID, sig)
		switch {
		case err == nil:
			log.Printf("[coach] stage transition session=%s %s -> %s signal=%s", turn.SessionID, from, to, sig)
			d.publishStage(turn.SessionID, from, to, string(sig))
		case errors.Is(err, stage.ErrIllegalTransition):
			// The classifier fired on a stage that cannot act on it.
		default:
			return err
		}
	}

	gen, err := d.store.MintGeneration(turn.SessionID, d.opts.Window)
	if err != nil {
		return err
	}
	go d.run(gen, d.opts.Debounce)
	return nil
}

// OnInterrupt preempts any in-flight generation and asks the interrupt
// unit for a recovery line. No debounce: interrupts are answered as fast
// as the backend allows.
func (d *Dispatcher) OnInterrupt(ctx context.Context, sessionID, reason string) error {
	gen, err := d.store.BeginInterrupt(sessionID, d.opts.Window)
	if err != nil {
		return err
	}
	if reason != "" {
		gen.Query = reason
	}
	log.Printf("[coach] interrupt session=%s reason=%q", sessionID, reason)
	d.pub.PublishTranscript(sessionID, publisher.Event{
		Type:      publisher.EventInterrupt,
		SessionID: sessionID,
		Data:      map[string]any{"reason": reason},
		At:        time.Now(),
	})
	go d.run(gen, 0)
	return nil
}

// Resume restores the stage that was active before the interrupt. The
// stage event is published only when something was actually restored;
// resuming an uninterrupted session changes nothing and stays silent.
func (d *Dispatcher) Resume(sessionID string) (stage.Stage, error) {
	from, to, restored, err := d.store.Resume(sessionID)
	if err != nil {
		return "", err
	}
	if restored {
		d.publishStage(sessionID, from, to, "resume")
	}
	return to, nil
}

// GenerateNow runs one generation synchronously and returns the delivered
// suggestion. Used by the pull-style suggestion endpoint.
func (d *Dispatcher) GenerateNow(ctx context.Context, sessionID string) (call.Suggestion, error) {
	gen, err := d.store.MintGeneration(sessionID, d.opts.Window)
	if err != nil {
		return call.Suggestion{}, err
	}
	sug := d.generate(ctx, gen)
	delivered, err := d.store.DeliverSuggestion(sessionID, sug)
	if err != nil {
		return call.Suggestion{}, err
	}
	if delivered {
		d.pub.PublishSuggestion(sessionID, suggestionEvent(sug))
	}
	return sug, nil
}

// run is the async generation path: wait out the debounce window, confirm
// the generation still owns the session, generate, and deliver.
func (d *Dispatcher) run(gen session.Generation, debounce time.Duration) {
	if debounce > 0 {
		time.Sleep(debounce)
		if !d.store.GenerationCurrent(gen.SessionID, gen.Token) {
			return
		}
	}

	sug := d.generate(context.Background(), gen)
	delivered, err := d.store.DeliverSuggestion(gen.SessionID, sug)
	if err != nil || !delivered {
		return
	}
	d.pub.PublishSuggestion(gen.SessionID, suggestionEvent(sug))
}

// generate calls the backend with one retry, degrading to the canned
// fallback when both attempts fail.
func (d *Dispatcher) generate(ctx context.Context, gen session.Generation) call.Suggestion {
	unit := ai.UnitForStage(gen.Stage)
	if gen.Interrupted {
		unit = ai.UnitInterrupt
	}
	req := ai.Request{
		SessionID: gen.SessionID,
		Unit:      unit,
		Stage:     gen.Stage,
		Turns:     gen.Turns,
		Profile:   gen.Profile,
		Query:     gen.Query,
	}

	text, err := d.invoke(ctx, req)
	if err != nil {
		log.Printf("[coach] generation failed session=%s unit=%s, retrying: %v", gen.SessionID, unit, err)
		if d.opts.RetryBackoff > 0 {
			time.Sleep(d.opts.RetryBackoff)
		}
		if !d.store.GenerationCurrent(gen.SessionID, gen.Token) {
			// Preempted while backing off; the result would be discarded anyway.
			return call.Suggestion{}
		}
		text, err = d.invoke(ctx, req)
	}

	sug := call.Suggestion{
		ID:           uuid.New().String(),
		SessionID:    gen.SessionID,
		GenerationID: gen.Token,
		Stage:        gen.Stage,
		Unit:         string(unit),
		Text:         text,
		CreatedAt:    time.Now(),
	}
	if err != nil {
		log.Printf("[coach] degrading to fallback session=%s unit=%s: %v", gen.SessionID, unit, err)
		sug.Text = call.FallbackText
		sug.Degraded = true
	}
	return sug
}

func (d *Dispatcher) invoke(ctx context.Context, req ai.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	return d.gen.Generate(ctx, req)
}

func (d *Dispatcher) publishStage(sessionID string, from, to stage.Stage, cause string) {
	d.pub.PublishTranscript(sessionID, publisher.Event{
		Type:      publisher.EventStage,
		SessionID: sessionID,
		Data:      map[string]any{"from": string(from), "to": string(to), "cause": cause},
		At:        time.Now(),
	})
}

func suggestionEvent(sug call.Suggestion) publisher.Event {
	return publisher.Event{
		Type:      publisher.EventSuggestion,
		SessionID: sug.SessionID,
		Data:      sug,
		At:        sug.CreatedAt,
	}
}
