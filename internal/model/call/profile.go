package call

// Profile accumulates what the conversation has revealed about the customer.
type Profile struct {
	Name              string   `json:"name,omitempty"`
	Company           string   `json:"company,omitempty"`
	PainPoints        []string `json:"painPoints,omitempty"`
	Interests         []string `json:"interests,omitempty"`
	BudgetRange       string   `json:"budgetRange,omitempty"`
	DecisionAuthority string   `json:"decisionAuthority,omitempty"`
	Timeline          string   `json:"timeline,omitempty"`
	Sentiment         string   `json:"sentiment,omitempty"`
}

// Insights carries profile fragments extracted from a single turn. Empty
// fields mean "nothing new"; lists are appended deduplicated.
type Insights struct {
	PainPoints  []string
	Interests   []string
	BudgetRange string
	Timeline    string
	Sentiment   string
}

// Merge folds new insights into the profile, keeping existing entries.
func (p Profile) Merge(in Insights) Profile {
	p.PainPoints = appendUnique(p.PainPoints, in.PainPoints)
	p.Interests = appendUnique(p.Interests, in.Interests)
	if in.BudgetRange != "" {
		p.BudgetRange = in.BudgetRange
	}
	if in.Timeline != "" {
		p.Timeline = in.Timeline
	}
	if in.Sentiment != "" {
		p.Sentiment = in.Sentiment
	}
	return p
}

// Qualified reports whether discovery has gathered enough to pitch:
// at least two pain points plus a budget or timeline hint.
func (p Profile) Qualified() bool {
	return len(p.PainPoints) >= 2 && (p.BudgetRange != "" || p.Timeline != "")
}

func appendUnique(existing, extra []string) []string {
	if len(extra) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		existing = append(existing, v)
	}
	return existing
}
