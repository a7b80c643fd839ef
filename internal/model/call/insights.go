package call

import (
	"time"

	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

// Summary is the end-of-call review surfaced by conversation-summary and
// archived when a session ends.
type Summary struct {
	SessionID        string         `json:"sessionId"`
	StartedAt        time.Time      `json:"startedAt"`
	EndedAt          time.Time      `json:"endedAt"`
	DurationMinutes  float64        `json:"durationMinutes"`
	TurnCount        int            `json:"turnCount"`
	Profile          Profile        `json:"profile"`
	StagesCovered    []stage.Stage  `json:"stagesCovered"`
	KeyTopics        []string       `json:"keyTopics,omitempty"`
	ObjectionsRaised []string       `json:"objectionsRaised,omitempty"`
	Outcome          string         `json:"outcome"`
	NextSteps        []string       `json:"nextSteps,omitempty"`
	SuggestionCount  int            `json:"suggestionCount"`
	SuggestionsUsed  int            `json:"suggestionsUsed"`
	ReactionCounts   map[string]int `json:"reactionCounts,omitempty"`
}

// Metrics quantifies how the call went.
type Metrics struct {
	SessionID            string  `json:"sessionId"`
	AvgResponseSeconds   float64 `json:"avgResponseSeconds"`
	CustomerEngagement   float64 `json:"customerEngagement"`
	StageProgressionRate float64 `json:"stageProgressionRate"`
	InterruptionCount    int     `json:"interruptionCount"`
	StageTransitions     int     `json:"stageTransitions"`
	FlowScore            float64 `json:"flowScore"`
}
