package call

import (
	"errors"
	"time"

	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

// ErrUnknownSpeaker is returned when input names a speaker other than
// rep or customer.
var ErrUnknownSpeaker = errors.New("unknown speaker")

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerRep      Speaker = "rep"
	SpeakerCustomer Speaker = "customer"
)

// ParseSpeaker converts external input to a Speaker.
func ParseSpeaker(raw string) (Speaker, bool) {
	switch Speaker(raw) {
	case SpeakerRep, SpeakerCustomer:
		return Speaker(raw), true
	}
	return "", false
}

// Turn is one finalized utterance. Immutable once appended; Seq is
// monotonic and gapless within a session and is the sole ordering.
type Turn struct {
	Seq        int         `json:"seq"`
	SessionID  string      `json:"sessionId"`
	Speaker    Speaker     `json:"speaker"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Stage      stage.Stage `json:"stage"`
	At         time.Time   `json:"at"`
}
