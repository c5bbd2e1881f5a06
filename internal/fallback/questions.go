// Package fallback provides the deterministic local fallbacks callers apply
// when every provider in a chain is exhausted: canned interview questions,
// rule-based answer scoring, and keyword/embedding document classification.
// End users should almost never observe a provider outage.
package fallback

import (
	"strings"
)

// Question mirrors the orchestrator's generated-question shape.
type Question struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Canned question bank, keyed by role category. Deliberately generic: these
// are served only when no provider can generate role-specific questions.
var questionBank = map[string][]Question{
	"engineering": {
		{Text: "Walk me through a technically challenging project you owned end to end.", Category: "experience"},
		{Text: "How do you approach debugging a production incident under time pressure?", Category: "problem-solving"},
		{Text: "Describe a time you disagreed with a technical decision. What did you do?", Category: "collaboration"},
		{Text: "How do you decide when code is ready to ship?", Category: "judgment"},
		{Text: "What trade-offs do you consider when designing a new system component?", Category: "design"},
	},
	"sales": {
		{Text: "Tell me about a deal you turned around after it looked lost.", Category: "experience"},
		{Text: "How do you research and qualify a new prospect?", Category: "process"},
		{Text: "Describe how you handle a pricing objection.", Category: "objection-handling"},
		{Text: "How do you prioritize your pipeline when everything feels urgent?", Category: "judgment"},
	},
	"general": {
		{Text: "What attracted you to this role?", Category: "motivation"},
		{Text: "Describe a professional accomplishment you are proud of and your part in it.", Category: "experience"},
		{Text: "Tell me about a time you had to learn something quickly.", Category: "adaptability"},
		{Text: "How do you handle competing deadlines?", Category: "organization"},
		{Text: "Where do you want to grow in the next two years?", Category: "motivation"},
	},
}

// roleCategory maps a free-form role title onto a question bank category.
var roleKeywords = map[string][]string{
	"engineering": {"engineer", "developer", "programmer", "architect", "devops", "sre", "data scientist"},
	"sales":       {"sales", "account executive", "business development", "account manager"},
}

// Questions returns up to count canned questions appropriate for the role.
// The selection is deterministic for a given (role, count).
func Questions(role string, count int) []Question {
	category := "general"
	lower := strings.ToLower(role)
	for cat, keywords := range roleKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				category = cat
				break
			}
		}
	}

	bank := questionBank[category]
	if count <= 0 || count > len(bank) {
		count = len(bank)
	}
	out := make([]Question, count)
	copy(out, bank[:count])
	return out
}
