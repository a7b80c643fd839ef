package session

import (
	"fmt"
	"time"

	"github.com/atlascall/sales-copilot/backend/internal/model/call"
)

// RecordSuggestionFeedback attaches rep feedback to a delivered
// suggestion. The suggestion must still be in the session's ring.
// Ended sessions accept feedback: call review happens after the call.
func (st *Store) RecordSuggestionFeedback(id string, fb call.SuggestionFeedback) error {
	s, err := st.lookup(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, sug := range s.suggestions {
		if sug.ID == fb.SuggestionID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownSuggestion, fb.SuggestionID)
	}

	if fb.At.IsZero() {
		fb.At = time.Now().UTC()
	}
	s.feedback = append(s.feedback, fb)
	return nil
}

// RecordReaction notes an observed customer reaction. Reactions are
// live observations, so the session must still be active.
func (st *Store) RecordReaction(id, reaction, note string) (call.ReactionRecord, error) {
	switch reaction {
	case call.ReactionPositive, call.ReactionNeutral, call.ReactionNegative:
	default:
		return call.ReactionRecord{}, fmt.Errorf("%w: %q", ErrInvalidReaction, reaction)
	}

	s, err := st.lookup(id)
	if err != nil {
		return call.ReactionRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return call.ReactionRecord{}, fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}

	rec := call.ReactionRecord{Reaction: reaction, Note: note, At: time.Now().UTC()}
	s.reactions = append(s.reactions, rec)
	s.lastActivity = rec.At
	return rec, nil
}

// suggestionsUsed counts feedback entries marked used. Caller holds s.mu.
func (s *state) suggestionsUsed() int {
	n := 0
	for _, fb := range s.feedback {
		if fb.Used {
			n++
		}
	}
	return n
}

// reactionCounts tallies reactions by value. Caller holds s.mu.
func (s *state) reactionCounts() map[string]int {
	if len(s.reactions) == 0 {
		return nil
	}
	counts := make(map[string]int, 3)
	for _, r := range s.reactions {
		counts[r.Reaction]++
	}
	return counts
}
