package call

import "time"

// Customer reaction values a rep can report during the call.
const (
	ReactionPositive = "positive"
	ReactionNeutral  = "neutral"
	ReactionNegative = "negative"
)

// SuggestionFeedback records whether a delivered suggestion was used
// and how it landed. Reps file it during the call or in review after.
type SuggestionFeedback struct {
	SuggestionID string    `json:"suggestionId"`
	Used         bool      `json:"used"`
	Outcome      string    `json:"outcome,omitempty"`
	At           time.Time `json:"at"`
}

// ReactionRecord is one observed customer reaction.
type ReactionRecord struct {
	Reaction string    `json:"reaction"`
	Note     string    `json:"note,omitempty"`
	At       time.Time `json:"at"`
}
