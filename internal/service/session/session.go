package session

import (
	"sync"
	"time"

	"github.com/atlascall/sales-copilot/backend/internal/model/call"
	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

// suggestionRing bounds how many delivered suggestions a session remembers.
const suggestionRing = 20

// state is the mutable per-session record. It is owned by the Store and
// mutated only with its mutex held, so two sessions never contend.
type state struct {
	mu sync.Mutex

	id        string
	meta      call.Metadata
	createdAt time.Time

	stage        stage.Stage
	returnStage  stage.Stage // stage to resolve back to while in Objection
	preInterrupt stage.Stage // stage to resume to while interrupted
	interrupted  bool

	turns        []call.Turn
	profile      call.Profile
	suggestions  []call.Suggestion
	feedback     []call.SuggestionFeedback
	reactions    []call.ReactionRecord
	genToken     string // active-generation token, "" when none
	transitions  int
	interrupts   int
	lastActivity time.Time
	ended        bool
	endedAt      time.Time
}

func (s *state) status() string {
	if s.ended {
		return call.StatusEnded
	}
	return call.StatusActive
}

// recentTurns copies the trailing window of the turn history.
func (s *state) recentTurns(n int) []call.Turn {
	start := 0
	if len(s.turns) > n {
		start = len(s.turns) - n
	}
	out := make([]call.Turn, len(s.turns)-start)
	copy(out, s.turns[start:])
	return out
}

func (s *state) lastSuggestion() *call.Suggestion {
	if len(s.suggestions) == 0 {
		return nil
	}
	last := s.suggestions[len(s.suggestions)-1]
	return &last
}

// stagesCovered reports the distinct stages the turns have touched, in
// conversation order.
func (s *state) stagesCovered() []stage.Stage {
	seen := make(map[stage.Stage]bool, 6)
	for _, t := range s.turns {
		seen[t.Stage] = true
	}
	seen[s.stage] = true

	var out []stage.Stage
	for _, st := range stage.All() {
		if seen[st] {
			out = append(out, st)
		}
	}
	return out
}

// applyStage records a validated transition. Entering Objection remembers
// the prior stage so resolution can return there; leaving it forgets.
func (s *state) applyStage(next stage.Stage) {
	prior := s.stage
	s.stage = next
	s.transitions++
	if next == stage.Objection {
		s.returnStage = prior
	} else {
		s.returnStage = ""
	}
}
