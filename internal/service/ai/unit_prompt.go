package ai

import (
	"fmt"
	"strings"

	"github.com/atlascall/sales-copilot/backend/internal/model/call"
)

// PromptTemplate is the reusable shape of a specialist unit's prompt.
type PromptTemplate struct {
	SystemPrompt string
	Hints        []string
	Rules        []string
}

// UnitPromptManager holds the prompt templates for the specialist units.
type UnitPromptManager struct {
	templates map[Unit]*PromptTemplate
}

// NewUnitPromptManager creates a prompt manager with the built-in units.
func NewUnitPromptManager() *UnitPromptManager {
	manager := &UnitPromptManager{templates: make(map[Unit]*PromptTemplate)}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the template for a unit.
func (pm *UnitPromptManager) GetPromptTemplate(unit Unit) (*PromptTemplate, error) {
	template, exists := pm.templates[unit]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for unit: %s", unit)
	}
	return template, nil
}

// BuildSystemPrompt assembles the system prompt for a unit, folding in what
// the conversation has revealed about the customer so far.
func (pm *UnitPromptManager) BuildSystemPrompt(unit Unit, profile call.Profile) string {
	template, err := pm.GetPromptTemplate(unit)
	if err != nil {
		template = pm.templates[UnitDiscovery]
	}

	var b strings.Builder
	b.WriteString(template.SystemPrompt)
	b.WriteString("\n\nYou are coaching a human sales representative live, mid-call.")
	b.WriteString(" Reply with one short, speakable suggestion the rep can use next. No preamble, no lists.")

	if summary := summarizeProfile(profile); summary != "" {
		b.WriteString("\n\nWhat we know about the customer so far:\n")
		b.WriteString(summary)
	}
	if len(template.Hints) > 0 {
		b.WriteString("\n\nApproach:\n- ")
		b.WriteString(strings.Join(template.Hints, "\n- "))
	}
	if len(template.Rules) > 0 {
		b.WriteString("\n\nRules:\n- ")
		b.WriteString(strings.Join(template.Rules, "\n- "))
	}
	return b.String()
}

func summarizeProfile(profile call.Profile) string {
	var lines []string
	if profile.Name != "" {
		lines = append(lines, "- Name: "+profile.Name)
	}
	if profile.Company != "" {
		lines = append(lines, "- Company: "+profile.Company)
	}
	if len(profile.PainPoints) > 0 {
		lines = append(lines, "- Pain points: "+strings.Join(profile.PainPoints, "; "))
	}
	if len(profile.Interests) > 0 {
		lines = append(lines, "- Interests: "+strings.Join(profile.Interests, "; "))
	}
	if profile.BudgetRange != "" {
		lines = append(lines, "- Budget: "+profile.BudgetRange)
	}
	if profile.Timeline != "" {
		lines = append(lines, "- Timeline: "+profile.Timeline)
	}
	if profile.Sentiment != "" {
		lines = append(lines, "- Sentiment: "+profile.Sentiment)
	}
	return strings.Join(lines, "\n")
}

func (pm *UnitPromptManager) loadDefaultTemplates() {
	pm.templates[UnitOpening] = &PromptTemplate{
		SystemPrompt: "You are the opening specialist for a live sales call. Your job is rapport: help the rep establish trust, set the agenda, and create a comfortable start.",
		Hints: []string{
			"Suggest warm, low-pressure openers",
			"Confirm how much time the customer has",
			"Surface what would make the call valuable for them",
		},
		Rules: []string{
			"Never pitch product in the opening",
			"Keep suggestions under two sentences",
		},
	}

	pm.templates[UnitDiscovery] = &PromptTemplate{
		SystemPrompt: "You are the discovery specialist for a live sales call. Your job is understanding: help the rep uncover pain points, current solutions, budget, timeline, and who decides.",
		Hints: []string{
			"Prefer open questions over statements",
			"Dig one level deeper into any mentioned problem",
			"Qualify budget and timeline before suggesting a pitch",
		},
		Rules: []string{
			"One question at a time",
			"Mirror the customer's own vocabulary",
		},
	}

	pm.templates[UnitPitch] = &PromptTemplate{
		SystemPrompt: "You are the pitch specialist for a live sales call. Your job is value: help the rep connect capabilities to the specific pain points already uncovered and make the return obvious.",
		Hints: []string{
			"Anchor every claim to an identified pain point",
			"Quantify impact where the profile allows it",
			"Invite questions to gauge interest",
		},
		Rules: []string{
			"No feature lists; lead with outcomes",
			"Do not invent pain points that were never mentioned",
		},
	}

	pm.templates[UnitObjection] = &PromptTemplate{
		SystemPrompt: "You are the objection specialist for a live sales call. Your job is resolution: acknowledge the concern, understand its root, address it with evidence, and confirm it is settled.",
		Hints: []string{
			"Price: refocus on return, not cost",
			"Authority: involve the decision maker, don't bypass them",
			"Timing: make the cost of waiting concrete",
			"Trust: offer proof, references, or a low-risk trial",
		},
		Rules: []string{
			"Acknowledge before addressing, always",
			"Never argue with the customer's framing",
		},
	}

	pm.templates[UnitClosing] = &PromptTemplate{
		SystemPrompt: "You are the closing specialist for a live sales call. Your job is commitment: help the rep summarize fit, ask for the decision, and lock in concrete next steps.",
		Hints: []string{
			"Summarize agreed value before asking",
			"Ask directly, then stay silent",
			"Turn a yes into dates and owners immediately",
		},
		Rules: []string{
			"One clear ask, not a menu",
			"If the customer hesitates, surface the blocker instead of pushing",
		},
	}

	pm.templates[UnitInterrupt] = &PromptTemplate{
		SystemPrompt: "You are the interrupt specialist for a live sales call. The conversation has gone off the rails: a tangent, a derailment, a sudden concern or a long silence. Your job is recovery: give the rep one graceful line to acknowledge what happened and steer back.",
		Hints: []string{
			"Acknowledge the interruption before redirecting",
			"Questions and confusion get answered first, then redirect",
			"Emotional signals get empathy before anything else",
		},
		Rules: []string{
			"Never ignore what the customer just said",
			"The redirect must name where the conversation left off",
		},
	}
}
