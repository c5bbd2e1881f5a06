package fallback

import (
	"sort"
	"strings"
)

// Common skill vocabulary for typeahead when no provider is reachable.
// Sorted at init so prefix scans return stable, alphabetized results.
var skillVocabulary = []string{
	"Accounting", "Agile", "Angular", "AWS", "Azure",
	"Budgeting", "Business Analysis", "Business Development",
	"C++", "Communication", "Content Marketing", "Copywriting", "Customer Service",
	"Data Analysis", "Data Engineering", "Distributed Systems", "Docker", "Django",
	"Excel", "Figma", "Financial Modeling", "Go", "GraphQL",
	"Java", "JavaScript", "Kubernetes", "Leadership", "Linux",
	"Machine Learning", "Marketing", "Negotiation", "Node.js",
	"PostgreSQL", "Product Management", "Project Management", "Public Speaking", "Python",
	"React", "Recruiting", "Rust", "Sales", "Salesforce", "Scala", "SEO", "SQL",
	"Team Management", "Terraform", "TypeScript", "UX Design", "Writing",
}

func init() {
	sort.Strings(skillVocabulary)
}

// SuggestSkills returns up to limit vocabulary entries whose lowercase form
// starts with the prefix.
func SuggestSkills(prefix string, limit int) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil
	}
	var out []string
	for _, skill := range skillVocabulary {
		if strings.HasPrefix(strings.ToLower(skill), prefix) {
			out = append(out, skill)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}
