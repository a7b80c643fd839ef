package call

import (
	"time"

	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

// Suggestion is one piece of coaching advice for the representative.
// GenerationID ties it to the generation token that produced it so stale
// results can be detected and refused at delivery time.
type Suggestion struct {
	ID           string      `json:"id"`
	SessionID    string      `json:"sessionId"`
	GenerationID string      `json:"generationId"`
	Stage        stage.Stage `json:"stage"`
	Unit         string      `json:"unit"`
	Text         string      `json:"text"`
	Degraded     bool        `json:"degraded,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// FallbackText is surfaced when the reasoning backend is unavailable
// after retries. The pipeline degrades instead of blocking.
const FallbackText = "That's interesting. Could you tell me more about that?"
