package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atlascall/sales-copilot/backend/internal/model/call"
	"github.com/atlascall/sales-copilot/backend/internal/publisher"
	"github.com/atlascall/sales-copilot/backend/internal/service/session"
)

// Fragment is one recognizer result as it arrives off the audio stream.
// Partial fragments carry Final=false and are display-only upstream.
type Fragment struct {
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Final      bool      `json:"final"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// Coach receives finalized turns for signal detection and suggestion work.
type Coach interface {
	OnTurn(ctx context.Context, turn call.Turn) error
}

// Adapter bridges recognizer fragments into the session's turn history.
// Only finalized, non-empty fragments become turns; everything a turn
// triggers downstream (transcript fanout, coaching) happens here so the
// websocket and REST ingest paths behave identically.
type Adapter struct {
	store *session.Store
	pub   *publisher.Publisher
	coach Coach
}

func NewAdapter(store *session.Store, pub *publisher.Publisher, coach Coach) *Adapter {
	return &Adapter{store: store, pub: pub, coach: coach}
}

// OnFragment appends a finalized fragment as a turn and fans it out.
// Returns the stored turn, or ok=false when the fragment was skipped.
func (a *Adapter) OnFragment(ctx context.Context, sessionID string, frag Fragment) (call.Turn, bool, error) {
	if !frag.Final {
		return call.Turn{}, false, nil
	}
	text := strings.TrimSpace(frag.Text)
	if text == "" {
		return call.Turn{}, false, nil
	}
	speaker, ok := call.ParseSpeaker(frag.Speaker)
	if !ok {
		return call.Turn{}, false, fmt.Errorf("%w: %q", call.ErrUnknownSpeaker, frag.Speaker)
	}

	turn, err := a.store.AppendTurn(sessionID, speaker, text, frag.Confidence)
	if err != nil {
		return call.Turn{}, false, err
	}

	a.pub.PublishTranscript(sessionID, publisher.Event{
		Type:      publisher.EventTurn,
		SessionID: sessionID,
		Data:      turn,
		At:        turn.At,
	})

	if err := a.coach.OnTurn(ctx, turn); err != nil {
		return turn, true, err
	}
	return turn, true, nil
}
