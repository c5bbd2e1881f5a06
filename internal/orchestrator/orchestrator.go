// Package orchestrator coordinates every AI request: cache lookup, tier
// selection, fallback across providers, JSON repair, and usage accounting.
// Callers go through the typed task helpers; nothing above this package
// talks to a provider directly.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/candorhq/go-candor-ai/internal/cache"
	"github.com/candorhq/go-candor-ai/internal/ledger"
	"github.com/candorhq/go-candor-ai/internal/ratelimit"
	"github.com/candorhq/go-candor-ai/internal/router"
	"github.com/candorhq/go-candor-ai/internal/routing"
	"github.com/candorhq/go-candor-ai/pkg/logger"
	"github.com/candorhq/go-candor-ai/pkg/message"
)

// ErrUnavailable means every tier in the task's chain was exhausted and no
// usable response could be produced. Callers fall back to local heuristics.
var ErrUnavailable = errors.New("no provider available for task")

// QuotaChecker is the advisory per-caller quota surface. Decisions are
// logged, never enforced here; product code decides what to do with them.
type QuotaChecker interface {
	CheckLimit(ctx context.Context, callerID string) ledger.Decision
}

type Orchestrator struct {
	table     *routing.Table
	router    *router.Router
	governor  *ratelimit.Governor
	cache     *cache.ResponseCache
	prefixes  *cache.PrefixCache
	debouncer *ratelimit.Debouncer
	quota     QuotaChecker
	logger    *logger.Logger

	protoMu    sync.RWMutex
	prototypes map[string][]float64
}

func New(table *routing.Table, rt *router.Router, governor *ratelimit.Governor, respCache *cache.ResponseCache, prefixes *cache.PrefixCache, quota QuotaChecker, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		table:     table,
		router:    rt,
		governor:  governor,
		cache:     respCache,
		prefixes:  prefixes,
		debouncer: ratelimit.NewDebouncer(),
		quota:     quota,
		logger:    log.WithComponent("orchestrator"),

		prototypes: make(map[string][]float64),
	}
}

// Execute resolves a chat task: cache, then the tier chain with JSON repair,
// then the overflow queue. The returned text is always valid JSON. Cached
// entries are stored under the original task and prompt regardless of which
// tier ultimately answered.
func (o *Orchestrator) Execute(ctx context.Context, task routing.TaskType, prompt string, opts router.CallOptions) (string, error) {
	if !task.Valid() {
		return "", errors.New("unknown task type: " + string(task))
	}

	log := o.logger.WithTask(string(task))
	if value, ok := o.cache.Get(task, prompt); ok {
		log.Debug("cache hit")
		return value, nil
	}

	o.checkQuota(ctx, opts.CallerID)

	messages := []message.Message{message.User(prompt)}
	chain := o.table.Chain(task)

	// exhausted stays true only while every tier was refused by its window
	// or skipped for being near exhaustion. A real provider failure means
	// queuing would not help.
	exhausted := true
	for i, tier := range chain {
		if i < len(chain)-1 && o.governor.Critical(tier.Name) {
			log.Debug("skipping near-exhausted tier", "tier", tier.Name)
			continue
		}

		text, err := o.router.Call(ctx, tier, messages, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return "", err
			}
			if !errors.Is(err, router.ErrRateLimited) {
				exhausted = false
			}
			log.Debug("tier failed, advancing chain", "tier", tier.Name, "error", err)
			continue
		}

		repaired, ok := RepairJSON(text)
		if !ok {
			exhausted = false
			log.Warn("unparseable provider output, advancing chain", "tier", tier.Name)
			continue
		}
		o.cache.Set(task, prompt, repaired)
		return repaired, nil
	}

	if exhausted && len(chain) > 0 {
		return o.executeQueued(ctx, task, prompt, chain[0], messages, opts)
	}
	return "", ErrUnavailable
}

// executeQueued parks the request on the primary tier's FIFO queue and waits
// for a window slot. The queued call runs detached from the caller's context;
// if the caller gives up first the eventual result still lands in the cache.
func (o *Orchestrator) executeQueued(ctx context.Context, task routing.TaskType, prompt string, primary routing.ModelTier, messages []message.Message, opts router.CallOptions) (string, error) {
	o.logger.WithTask(string(task)).Info("all tiers saturated, queueing on primary", "tier", primary.Name)

	ch := o.governor.Enqueue(primary.Name, func() (string, error) {
		text, err := o.router.Call(context.Background(), primary, messages, opts)
		if err != nil {
			return "", err
		}
		repaired, ok := RepairJSON(text)
		if !ok {
			return "", ErrUnavailable
		}
		o.cache.Set(task, prompt, repaired)
		return repaired, nil
	})

	select {
	case out := <-ch:
		if out.Err != nil {
			return "", ErrUnavailable
		}
		return out.Value, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ExecuteDebounced coalesces rapid repeated calls sharing a prompt before
// dispatching, for interactive tasks where each keystroke would otherwise be
// a provider call. Tasks without a configured debounce dispatch immediately.
func (o *Orchestrator) ExecuteDebounced(ctx context.Context, task routing.TaskType, prompt string, opts router.CallOptions) (string, error) {
	interval := o.table.Debounce(task)
	if interval <= 0 {
		return o.Execute(ctx, task, prompt, opts)
	}

	if value, ok := o.cache.Get(task, prompt); ok {
		return value, nil
	}

	key := cache.Key(task, prompt)
	ch := o.debouncer.Do(key, interval, func() (string, error) {
		dispatchCtx, cancel := context.WithTimeout(context.Background(), interval+router.DefaultTimeout)
		defer cancel()
		return o.Execute(dispatchCtx, task, prompt, opts)
	})

	select {
	case out := <-ch:
		return out.Value, out.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ExecuteEmbed resolves an embedding task through the same cache and chain
// machinery. Vectors are cached as JSON under the original task key.
func (o *Orchestrator) ExecuteEmbed(ctx context.Context, task routing.TaskType, text string, opts router.CallOptions) ([]float64, error) {
	if cached, ok := o.cache.Get(task, text); ok {
		var vec []float64
		if err := json.Unmarshal([]byte(cached), &vec); err == nil {
			return vec, nil
		}
	}

	o.checkQuota(ctx, opts.CallerID)

	chain := o.table.Chain(task)
	for i, tier := range chain {
		if i < len(chain)-1 && o.governor.Critical(tier.Name) {
			continue
		}
		vec, err := o.router.Embed(ctx, tier, text, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		if data, err := json.Marshal(vec); err == nil {
			o.cache.Set(task, text, string(data))
		}
		return vec, nil
	}
	return nil, ErrUnavailable
}

func (o *Orchestrator) checkQuota(ctx context.Context, callerID string) {
	if o.quota == nil || callerID == "" {
		return
	}
	if dec := o.quota.CheckLimit(ctx, callerID); !dec.Allowed {
		o.logger.WithCaller(callerID).Warn("caller over advisory quota", "reason", dec.Reason)
	}
}

// InvalidateTask drops every cached response for a task type, for when
// prompts or routing change underneath existing entries.
func (o *Orchestrator) InvalidateTask(task routing.TaskType) int {
	return o.cache.ClearByTaskType(task)
}

// Status is a point-in-time operational snapshot for the REPL and debugging.
type Status struct {
	RateLimits map[string]ratelimit.WindowStats `json:"rate_limits"`
	Cache      cache.Stats                      `json:"cache"`
	Router     map[string]router.TierStats      `json:"router"`
	Debouncing int                              `json:"debouncing"`
	QueueDepth map[string]int                   `json:"queue_depth"`
}

func (o *Orchestrator) GetStatus() Status {
	depths := make(map[string]int)
	for _, tier := range o.table.Tiers() {
		if d := o.governor.QueueDepth(tier.Name); d > 0 {
			depths[tier.Name] = d
		}
	}
	return Status{
		RateLimits: o.governor.Snapshot(),
		Cache:      o.cache.Stats(),
		Router:     o.router.Stats(),
		Debouncing: o.debouncer.Pending(),
		QueueDepth: depths,
	}
}
