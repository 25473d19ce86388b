package classify

import (
	"context"
	"strings"
)

// categoryRule maps keywords to one category.
type categoryRule struct {
	category string
	keywords []string
}

// defaultRules cover the stock categories. First match order matters:
// more specific vocabularies come before generic work terms.
var defaultRules = []categoryRule{
	{category: "health", keywords: []string{
		"gym", "workout", "run", "yoga", "doctor", "dentist", "therapy",
		"checkup", "medication",
	}},
	{category: "finance", keywords: []string{
		"invoice", "tax", "budget", "payment", "bank", "expense", "salary",
	}},
	{category: "errand", keywords: []string{
		"buy", "pick up", "pickup", "grocery", "groceries", "drop off",
		"return", "post office",
	}},
	{category: "learning", keywords: []string{
		"study", "course", "read", "tutorial", "lecture", "practice",
	}},
	{category: "work", keywords: []string{
		"meeting", "standup", "review", "report", "sync", "deadline",
		"presentation", "interview", "1:1", "planning",
	}},
}

// heuristicClassifier labels by keyword match; no network, no key.
type heuristicClassifier struct {
	rules []categoryRule
}

func newHeuristicClassifier() *heuristicClassifier {
	return &heuristicClassifier{rules: defaultRules}
}

// Classify scans title and description for category vocabulary. More
// keyword hits raise confidence; no hit returns an empty label, never
// an error.
func (h *heuristicClassifier) Classify(_ context.Context, in Input) (Label, error) {
	text := strings.ToLower(in.Title + " " + in.Description)

	best := Label{}
	for _, rule := range h.rules {
		hits := 0
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := 0.5 + 0.15*float64(hits)
		if confidence > 0.9 {
			confidence = 0.9
		}
		if confidence > best.Confidence {
			best = Label{Value: rule.category, Confidence: confidence}
		}
	}
	return best, nil
}

func (h *heuristicClassifier) Available() bool { return true }
