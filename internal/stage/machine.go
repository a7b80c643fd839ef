package stage

import (
	"errors"
	"fmt"
)

// Stage is a phase of the sales conversation.
type Stage string

const (
	Opening   Stage = "opening"
	Discovery Stage = "discovery"
	Pitch     Stage = "pitch"
	Objection Stage = "objection"
	Closing   Stage = "closing"
	Ended     Stage = "ended"
)

// Signal drives a stage transition. Signals come from turn classification
// or from an explicit manual-advance request.
type Signal string

const (
	SignalNone          Signal = ""
	SignalRapport       Signal = "rapport"
	SignalQualified     Signal = "qualified"
	SignalObjection     Signal = "objection"
	SignalClosingReady  Signal = "closing_ready"
	SignalResolved      Signal = "resolved"
	SignalDealConfirmed Signal = "deal_confirmed"
	SignalManualAdvance Signal = "manual_advance"
)

// ErrIllegalTransition is returned when a requested move is not in the
// transition table. The caller's stage is left untouched.
var ErrIllegalTransition = errors.New("illegal stage transition")

// transitions is the authoritative (stage, signal) -> next stage table.
// Objection resolution is absent on purpose: it returns to the stage that
// was active before the objection, which only the session knows (see Resolve).
var transitions = map[Stage]map[Signal]Stage{
	Opening: {
		SignalRapport:       Discovery,
		SignalManualAdvance: Discovery,
	},
	Discovery: {
		SignalQualified:     Pitch,
		SignalManualAdvance: Pitch,
		SignalObjection:     Objection,
	},
	Pitch: {
		SignalObjection:     Objection,
		SignalClosingReady:  Closing,
		SignalManualAdvance: Closing,
	},
	Closing: {
		SignalObjection:     Objection,
		SignalDealConfirmed: Ended,
		SignalManualAdvance: Ended,
	},
	Objection: {},
	Ended:     {},
}

// targets lists the stages reachable from each stage, for explicit
// advance requests that name a destination instead of a signal.
var targets = map[Stage][]Stage{
	Opening:   {Discovery},
	Discovery: {Pitch, Objection},
	Pitch:     {Objection, Closing},
	Objection: {Discovery, Pitch, Closing},
	Closing:   {Objection, Ended},
	Ended:     {},
}

// Next returns the stage the session moves to when sig fires in current.
// It never mutates anything; unknown pairs fail with ErrIllegalTransition.
func Next(current Stage, sig Signal) (Stage, error) {
	row, ok := transitions[current]
	if !ok {
		return current, fmt.Errorf("%w: unknown stage %q", ErrIllegalTransition, current)
	}
	next, ok := row[sig]
	if !ok {
		return current, fmt.Errorf("%w: %s + %s", ErrIllegalTransition, current, sig)
	}
	return next, nil
}

// Resolve validates the return move out of Objection. An objection always
// resolves back to the stage that was active when it was raised.
func Resolve(prior Stage) (Stage, error) {
	switch prior {
	case Discovery, Pitch, Closing:
		return prior, nil
	}
	return Objection, fmt.Errorf("%w: objection cannot resolve to %s", ErrIllegalTransition, prior)
}

// Legal reports whether an explicit move from one stage to another is in
// the table. Same-stage moves are never legal; no-op requests must be
// filtered before they reach the machine.
func Legal(from, to Stage) bool {
	if from == to {
		return false
	}
	for _, t := range targets[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Parse converts external input to a Stage.
func Parse(raw string) (Stage, bool) {
	switch Stage(raw) {
	case Opening, Discovery, Pitch, Objection, Closing, Ended:
		return Stage(raw), true
	}
	return "", false
}

// All lists the non-terminal stages in conversation order.
func All() []Stage {
	return []Stage{Opening, Discovery, Pitch, Objection, Closing}
}
