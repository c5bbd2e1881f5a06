// Package routing defines the semantic task types, the model tiers that serve
// them, and the static task-to-tier table with its fallback chains. The table
// is validated at startup so an unmapped task fails fast instead of silently
// defaulting.
package routing

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// TaskType is a semantic label that determines which model tier handles a
// request, its cache TTL class, and whether it is debounce-eligible.
type TaskType string

const (
	TaskGenerateQuestions TaskType = "generate_questions"
	TaskEvaluateAnswer    TaskType = "evaluate_answer"
	TaskClassifyDocument  TaskType = "classify_document"
	TaskSuggestSkills     TaskType = "suggest_skills"
	TaskEmbedText         TaskType = "embed_text"
)

// KnownTaskTypes lists every task the orchestration layer serves.
var KnownTaskTypes = []TaskType{
	TaskGenerateQuestions,
	TaskEvaluateAnswer,
	TaskClassifyDocument,
	TaskSuggestSkills,
	TaskEmbedText,
}

// Valid reports whether t is a known task type
func (t TaskType) Valid() bool {
	for _, known := range KnownTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ModelTier identifies one (provider, model, RPM quota) tuple. Tiers are
// shared across tasks; rate governance state is keyed by tier name.
type ModelTier struct {
	Name    string `yaml:"-"` // set during loading
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
	RPM     int    `yaml:"rpm"`
}

// Route maps one task to its primary tier, ordered fallback tiers, cache TTL
// class and debounce interval (zero = not debounce-eligible).
type Route struct {
	Primary   string   `yaml:"primary"`
	Fallbacks []string `yaml:"fallbacks"`
	TTL       Duration `yaml:"ttl"`
	Debounce  Duration `yaml:"debounce"`
}

// Duration is a yaml-friendly wrapper that accepts "90s" / "1h" strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Table is the validated task-to-tier mapping.
type Table struct {
	tiers  map[string]ModelTier
	routes map[TaskType]Route
}

// NewTable builds and validates a Table from parsed configuration.
func NewTable(tiers map[string]ModelTier, routes map[TaskType]Route) (*Table, error) {
	t := &Table{tiers: tiers, routes: routes}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) validate() error {
	for name, tier := range t.tiers {
		if tier.Backend == "" || tier.Model == "" {
			return fmt.Errorf("tier %q: backend and model are required", name)
		}
		if tier.RPM <= 0 {
			return fmt.Errorf("tier %q: rpm must be positive", name)
		}
	}
	for task, route := range t.routes {
		if !task.Valid() {
			return fmt.Errorf("route for unknown task type %q", task)
		}
		if _, ok := t.tiers[route.Primary]; !ok {
			return fmt.Errorf("task %q: primary tier %q not defined", task, route.Primary)
		}
		for _, fb := range route.Fallbacks {
			if _, ok := t.tiers[fb]; !ok {
				return fmt.Errorf("task %q: fallback tier %q not defined", task, fb)
			}
		}
		if route.TTL <= 0 {
			return fmt.Errorf("task %q: ttl must be positive", task)
		}
	}
	for _, task := range KnownTaskTypes {
		if _, ok := t.routes[task]; !ok {
			return fmt.Errorf("no route defined for task type %q", task)
		}
	}
	return nil
}

// Tier returns the tier with the given name
func (t *Table) Tier(name string) (ModelTier, bool) {
	tier, ok := t.tiers[name]
	return tier, ok
}

// Route returns the route for the given task
func (t *Table) Route(task TaskType) (Route, bool) {
	route, ok := t.routes[task]
	return route, ok
}

// Chain returns the resolved fallback chain for a task: the primary tier
// followed by each fallback tier in order.
func (t *Table) Chain(task TaskType) []ModelTier {
	route, ok := t.routes[task]
	if !ok {
		return nil
	}
	chain := make([]ModelTier, 0, 1+len(route.Fallbacks))
	chain = append(chain, t.tiers[route.Primary])
	for _, name := range route.Fallbacks {
		chain = append(chain, t.tiers[name])
	}
	return chain
}

// TTL returns the cache TTL class for a task
func (t *Table) TTL(task TaskType) time.Duration {
	return t.routes[task].TTL.Std()
}

// Debounce returns the debounce interval for a task, zero if not eligible
func (t *Table) Debounce(task TaskType) time.Duration {
	return t.routes[task].Debounce.Std()
}

// Tiers returns all tiers sorted by name, for status output and governor setup
func (t *Table) Tiers() []ModelTier {
	out := make([]ModelTier, 0, len(t.tiers))
	for _, tier := range t.tiers {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WithRPMOverrides returns a copy of the table with the named tiers' RPM
// limits replaced, for operator tuning without editing the routing file.
func (t *Table) WithRPMOverrides(overrides map[string]int) (*Table, error) {
	if len(overrides) == 0 {
		return t, nil
	}
	for name := range overrides {
		if _, ok := t.tiers[name]; !ok {
			return nil, fmt.Errorf("rpm override for unknown tier %q", name)
		}
	}
	tiers := make(map[string]ModelTier, len(t.tiers))
	for name, tier := range t.tiers {
		if rpm, ok := overrides[name]; ok {
			tier.RPM = rpm
		}
		tiers[name] = tier
	}
	return NewTable(tiers, t.routes)
}

// Backends returns the distinct provider backends referenced by the table
func (t *Table) Backends() []string {
	seen := make(map[string]bool)
	for _, tier := range t.tiers {
		seen[tier.Backend] = true
	}
	out := make([]string, 0, len(seen))
	for backend := range seen {
		out = append(out, backend)
	}
	sort.Strings(out)
	return out
}
