// Package signal derives stage machine signals and customer profile
// insights from finalized customer turns, using keyword heuristics.
package signal

import (
	"strings"

	"github.com/atlascall/sales-copilot/backend/internal/model/call"
	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

var objectionWords = []string{
	"concern", "worried", "worry", "hesitant", "however", "too expensive",
	"not sure", "risky", "skeptical", "doubt", "problem with", "pushback",
	"i'm worried", "that scares", "deal breaker",
}

var buyingWords = []string{
	"sounds good", "let's do it", "ready to move", "move forward", "sign",
	"proceed", "when can we start", "next steps", "send the contract",
	"let's get started", "we're in", "count us in",
}

var resolutionWords = []string{
	"that makes sense", "fair enough", "good point", "that answers",
	"no more concerns", "i'm convinced", "that helps", "much clearer",
	"ok that works", "reassuring",
}

var rapportWords = []string{
	"nice to meet", "thanks for taking the time", "good to talk",
	"appreciate you", "let's dive in", "sounds like a plan", "happy to chat",
}

// Detect classifies a customer turn into a stage machine signal for the
// current stage. SignalNone means the turn carries no transition intent.
// Qualification is profile-driven, not text-driven: discovery advances
// once enough has been learned about the customer.
func Detect(current stage.Stage, text string, profile call.Profile) stage.Signal {
	lower := strings.ToLower(text)

	switch current {
	case stage.Opening:
		if containsAny(lower, rapportWords) {
			return stage.SignalRapport
		}
	case stage.Discovery:
		if containsAny(lower, objectionWords) {
			return stage.SignalObjection
		}
		if profile.Qualified() {
			return stage.SignalQualified
		}
	case stage.Pitch:
		if containsAny(lower, objectionWords) {
			return stage.SignalObjection
		}
		if containsAny(lower, buyingWords) {
			return stage.SignalClosingReady
		}
	case stage.Objection:
		if containsAny(lower, resolutionWords) {
			return stage.SignalResolved
		}
	case stage.Closing:
		if containsAny(lower, objectionWords) {
			return stage.SignalObjection
		}
		if containsAny(lower, buyingWords) {
			return stage.SignalDealConfirmed
		}
	}
	return stage.SignalNone
}

var painWords = []string{"problem", "issue", "challenge", "difficult", "struggle", "frustrating", "pain"}
var interestWords = []string{"interested", "looking for", "we want", "we need", "curious about"}
var budgetWords = []string{"budget", "cost", "price", "expensive", "cheap", "affordable", "pricing"}
var urgentWords = []string{"soon", "immediately", "urgent", "asap", "right away"}
var flexibleWords = []string{"next quarter", "next year", "eventually", "no rush", "down the road"}
var positiveWords = []string{"great", "excellent", "perfect", "love", "amazing", "fantastic"}
var negativeWords = []string{"bad", "terrible", "awful", "hate", "disappointing", "frustrated"}

// ExtractInsights pulls customer profile fragments out of a single turn.
// The turn text itself is stored as the pain point / interest, clipped, in
// lieu of real entity extraction.
func ExtractInsights(text string) call.Insights {
	lower := strings.ToLower(text)
	var in call.Insights

	if containsAny(lower, painWords) {
		in.PainPoints = []string{clip(text, 100)}
	}
	if containsAny(lower, interestWords) {
		in.Interests = []string{clip(text, 100)}
	}
	if containsAny(lower, budgetWords) {
		in.BudgetRange = "mentioned"
	}
	if containsAny(lower, urgentWords) {
		in.Timeline = "urgent"
	} else if containsAny(lower, flexibleWords) {
		in.Timeline = "flexible"
	}
	if containsAny(lower, positiveWords) {
		in.Sentiment = "positive"
	} else if containsAny(lower, negativeWords) {
		in.Sentiment = "negative"
	}

	return in
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
