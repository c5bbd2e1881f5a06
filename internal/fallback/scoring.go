package fallback

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Score is the rubric shape shared with the LLM path: an integer 1..5 plus a
// short rationale so downstream screens can render something.
type Score struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// scoreRule pairs a compiled expression over answer statistics with the score
// awarded when it first matches. Rules are evaluated in order.
type scoreRule struct {
	program   *vm.Program
	score     int
	rationale string
}

// Scorer evaluates answers with heuristic rules when no provider is
// available. The rules look only at surface statistics of the answer text.
type Scorer struct {
	rules []scoreRule
}

type ruleSpec struct {
	expression string
	score      int
	rationale  string
}

var defaultRules = []ruleSpec{
	{`words < 5`, 1, "Answer is too short to evaluate."},
	{`words < 25 && !hasExample`, 2, "Answer is brief and lacks a concrete example."},
	{`words >= 25 && hasExample && keywordHits >= 2`, 4, "Answer is substantive, concrete, and addresses the question topic."},
	{`words >= 25 && hasExample`, 3, "Answer is substantive with a concrete example."},
	{`words >= 25`, 3, "Answer has reasonable depth."},
	{`true`, 2, "Answer is short but on topic."},
}

func ruleEnv() map[string]any {
	return map[string]any{
		"words":       0,
		"sentences":   0,
		"hasExample":  false,
		"keywordHits": 0,
	}
}

// NewScorer compiles the default rule set. Compilation failure is a
// programming error in the rules, not a runtime condition.
func NewScorer() (*Scorer, error) {
	s := &Scorer{}
	env := ruleEnv()
	for _, spec := range defaultRules {
		program, err := expr.Compile(spec.expression, expr.Env(env))
		if err != nil {
			return nil, fmt.Errorf("failed to compile score rule %q: %w", spec.expression, err)
		}
		s.rules = append(s.rules, scoreRule{program: program, score: spec.score, rationale: spec.rationale})
	}
	return s, nil
}

var exampleMarkers = []string{
	"for example", "for instance", "in my previous", "in my last",
	"at my previous", "one time", "when i", "we built", "i built", "i led",
}

// Evaluate scores an answer against the question it responds to. It never
// fails: rules terminate with a catch-all.
func (s *Scorer) Evaluate(question, answer string) Score {
	lower := strings.ToLower(answer)
	words := len(strings.Fields(answer))
	sentences := strings.Count(answer, ".") + strings.Count(answer, "!") + strings.Count(answer, "?")

	hasExample := false
	for _, marker := range exampleMarkers {
		if strings.Contains(lower, marker) {
			hasExample = true
			break
		}
	}

	hits := 0
	for _, kw := range strings.Fields(strings.ToLower(question)) {
		if len(kw) < 5 {
			continue
		}
		if strings.Contains(lower, kw) {
			hits++
		}
	}

	env := map[string]any{
		"words":       words,
		"sentences":   sentences,
		"hasExample":  hasExample,
		"keywordHits": hits,
	}

	for _, rule := range s.rules {
		result, err := expr.Run(rule.program, env)
		if err != nil {
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			return Score{Score: rule.score, Rationale: rule.rationale}
		}
	}
	return Score{Score: 2, Rationale: "Answer recorded; automated review unavailable."}
}
