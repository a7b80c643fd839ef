package session

import (
	"strings"
	"time"

	"github.com/atlascall/sales-copilot/backend/internal/model/call"
)

// Summary builds the end-of-call review from the session's history. Works
// for live and ended sessions alike; for live ones the end time is "now".
func (st *Store) Summary(id string) (call.Summary, error) {
	s, err := st.lookup(id)
	if err != nil {
		return call.Summary{}, err
	}

	s.mu.Lock()
	turns := make([]call.Turn, len(s.turns))
	copy(turns, s.turns)
	profile := s.profile
	created := s.createdAt
	ended := s.endedAt
	stages := s.stagesCovered()
	suggestions := len(s.suggestions)
	used := s.suggestionsUsed()
	reactions := s.reactionCounts()
	s.mu.Unlock()

	if ended.IsZero() {
		ended = time.Now().UTC()
	}

	outcome := determineOutcome(turns)
	return call.Summary{
		SessionID:        id,
		StartedAt:        created,
		EndedAt:          ended,
		DurationMinutes:  ended.Sub(created).Minutes(),
		TurnCount:        len(turns),
		Profile:          profile,
		StagesCovered:    stages,
		KeyTopics:        keyTopics(turns),
		ObjectionsRaised: objectionsRaised(turns),
		Outcome:          outcome,
		NextSteps:        nextSteps(outcome),
		SuggestionCount:  suggestions,
		SuggestionsUsed:  used,
		ReactionCounts:   reactions,
	}, nil
}

// Metrics computes the performance view of the call.
func (st *Store) Metrics(id string) (call.Metrics, error) {
	s, err := st.lookup(id)
	if err != nil {
		return call.Metrics{}, err
	}

	s.mu.Lock()
	turns := make([]call.Turn, len(s.turns))
	copy(turns, s.turns)
	stages := len(s.stagesCovered())
	transitions := s.transitions
	interrupts := s.interrupts
	s.mu.Unlock()

	engagement := 0.0
	if len(turns) > 0 {
		customer := 0
		for _, t := range turns {
			if t.Speaker == call.SpeakerCustomer {
				customer++
			}
		}
		engagement = float64(customer) / float64(len(turns))
	}

	progression := float64(stages) / 5.0

	return call.Metrics{
		SessionID:            id,
		AvgResponseSeconds:   avgResponseSeconds(turns),
		CustomerEngagement:   engagement,
		StageProgressionRate: progression,
		InterruptionCount:    interrupts,
		StageTransitions:     transitions,
		FlowScore:            (engagement + progression) / 2,
	}, nil
}

// avgResponseSeconds measures customer-turn to rep-turn latency, skipping
// gaps longer than a minute (usually a hold, not a response).
func avgResponseSeconds(turns []call.Turn) float64 {
	var total float64
	var n int
	for i := 1; i < len(turns); i++ {
		prev, cur := turns[i-1], turns[i]
		if prev.Speaker != call.SpeakerCustomer || cur.Speaker != call.SpeakerRep {
			continue
		}
		d := cur.At.Sub(prev.At).Seconds()
		if d >= 0 && d <= 60 {
			total += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

var topicKeywords = []string{
	"revenue", "growth", "customers", "market", "competition", "efficiency",
	"productivity", "cost", "budget", "roi", "solution", "implementation",
	"integration", "features", "value", "timeline", "onboarding",
}

func keyTopics(turns []call.Turn) []string {
	var joined strings.Builder
	for _, t := range turns {
		joined.WriteString(strings.ToLower(t.Text))
		joined.WriteByte(' ')
	}
	text := joined.String()

	var topics []string
	for _, kw := range topicKeywords {
		if strings.Contains(text, kw) {
			topics = append(topics, kw)
		}
		if len(topics) == 10 {
			break
		}
	}
	return topics
}

var objectionIndicators = []string{"concern", "worried", "worry", "however", "issue", "problem", "too expensive", "not sure"}

func objectionsRaised(turns []call.Turn) []string {
	var out []string
	for _, t := range turns {
		if t.Speaker != call.SpeakerCustomer {
			continue
		}
		lower := strings.ToLower(t.Text)
		for _, ind := range objectionIndicators {
			if strings.Contains(lower, ind) {
				out = append(out, clip(t.Text, 100))
				break
			}
		}
	}
	return out
}

func determineOutcome(turns []call.Turn) string {
	tail := turns
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}

	var customer strings.Builder
	for _, t := range tail {
		if t.Speaker == call.SpeakerCustomer {
			customer.WriteString(strings.ToLower(t.Text))
			customer.WriteByte(' ')
		}
	}
	text := customer.String()

	switch {
	case containsAny(text, []string{"not interested", "no thanks", "maybe later", "think about it"}):
		return "negative"
	case containsAny(text, []string{"yes", "agree", "proceed", "move forward", "sounds good", "let's do it"}):
		return "positive"
	case containsAny(text, []string{"follow up", "more information", "discuss internally"}):
		return "follow_up_needed"
	}
	return "unclear"
}

func nextSteps(outcome string) []string {
	switch outcome {
	case "positive":
		return []string{"Send proposal or contract", "Schedule implementation call", "Set project timeline"}
	case "follow_up_needed":
		return []string{"Send summary of key points", "Provide requested information", "Schedule follow-up call"}
	case "negative":
		return []string{"Understand specific concerns", "Provide case studies or references", "Schedule future check-in"}
	}
	return []string{"Send meeting summary", "Clarify next steps", "Schedule follow-up call"}
}

func containsAny(text string, indicators []string) bool {
	for _, ind := range indicators {
		if strings.Contains(text, ind) {
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
