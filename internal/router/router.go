// Package router issues provider calls for resolved model tiers. It refuses
// locally when a tier has no quota headroom, retries briefly on provider
// throttling, and reports absence of a result as an error value rather than
// ever panicking through to callers.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/candorhq/go-candor-ai/internal/ledger"
	"github.com/candorhq/go-candor-ai/internal/ratelimit"
	"github.com/candorhq/go-candor-ai/internal/routing"
	"github.com/candorhq/go-candor-ai/pkg/llm"
	"github.com/candorhq/go-candor-ai/pkg/logger"
	"github.com/candorhq/go-candor-ai/pkg/message"
)

// ErrRateLimited means local governance refused the call; the provider was
// never contacted.
var ErrRateLimited = errors.New("tier rate limit reached")

// ErrProviderFailure means the provider was contacted but produced no usable
// result (transport error, timeout, throttle retries exhausted, empty body).
var ErrProviderFailure = errors.New("provider call failed")

const (
	// DefaultTimeout bounds each outbound provider call
	DefaultTimeout = 20 * time.Second

	// DefaultMaxRetries is the number of additional attempts after a 429
	DefaultMaxRetries = 2

	// DefaultBackoffBase doubles per retry: 2s, 4s, ...
	DefaultBackoffBase = 2 * time.Second
)

// UsageSink receives one entry per terminal call outcome.
type UsageSink interface {
	Log(ledger.Entry)
}

// CallOptions carries per-call parameters through to the provider plus the
// accounting identity for the ledger.
type CallOptions struct {
	Temperature float64
	MaxTokens   int
	CallerID    string
	Purpose     string
}

// Config tunes router behavior; zero values select the defaults.
type Config struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

// TierStats counts call outcomes for one tier.
type TierStats struct {
	Calls     int64 `json:"calls"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	Throttles int64 `json:"throttles"`
}

// Router dispatches calls to provider clients under rate governance.
type Router struct {
	providers map[string]llm.Provider
	governor  *ratelimit.Governor
	usage     UsageSink
	logger    *logger.Logger

	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats map[string]*TierStats
}

// New creates a Router over the given provider clients, keyed by backend name.
func New(providers map[string]llm.Provider, governor *ratelimit.Governor, usage UsageSink, log *logger.Logger, cfg Config) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	return &Router{
		providers:   providers,
		governor:    governor,
		usage:       usage,
		logger:      log.WithComponent("router"),
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		sleep:       sleepCtx,
		stats:       make(map[string]*TierStats),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Call sends a conversation to the tier's model. It returns ErrRateLimited
// without contacting the provider when the tier has no headroom; any other
// failure is reported as ErrProviderFailure after one ledger entry.
func (r *Router) Call(ctx context.Context, tier routing.ModelTier, messages []message.Message, opts CallOptions) (string, error) {
	provider, ok := r.providers[tier.Backend]
	if !ok {
		return "", fmt.Errorf("no client for backend %q", tier.Backend)
	}

	// Waiting is the governor's job, not the router's. The headroom check
	// claims the first attempt's slot in the same critical section so two
	// concurrent callers cannot both take a tier's last slot.
	if !r.governor.TryAcquire(tier.Name) {
		r.logger.Debug("refused by local quota", "tier", tier.Name)
		return "", fmt.Errorf("tier %s: %w", tier.Name, ErrRateLimited)
	}

	var lastErr error
	var throttled bool
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.backoffBase << (attempt - 1)
			r.logger.Debug("backing off after throttle", "tier", tier.Name, "attempt", attempt, "delay", delay)
			if err := r.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
			// Retries consume window slots too; the first attempt's slot
			// was claimed by TryAcquire.
			r.governor.Record(tier.Name)
		}

		r.track(tier.Name, func(s *TierStats) { s.Calls++ })

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		result, err := provider.Chat(callCtx, tier.Model, messages, llm.Options{
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})
		cancel()

		if err != nil {
			if errors.Is(err, llm.ErrThrottled) {
				r.track(tier.Name, func(s *TierStats) { s.Throttles++ })
				throttled = true
				lastErr = err
				continue
			}
			lastErr = err
			break
		}

		if strings.TrimSpace(result.Text) == "" {
			// A 200 with no usable text is treated like a transport failure
			lastErr = fmt.Errorf("empty response from %s", provider.Name())
			break
		}

		r.track(tier.Name, func(s *TierStats) { s.Successes++ })
		r.usage.Log(ledger.Entry{
			CallerID:     opts.CallerID,
			Model:        tier.Model,
			Purpose:      opts.Purpose,
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
			Status:       ledger.StatusSuccess,
		})
		return result.Text, nil
	}

	if throttled && lastErr == nil {
		lastErr = llm.ErrThrottled
	}
	r.track(tier.Name, func(s *TierStats) { s.Failures++ })
	r.usage.Log(ledger.Entry{
		CallerID: opts.CallerID,
		Model:    tier.Model,
		Purpose:  opts.Purpose,
		Status:   ledger.StatusFailure,
		Error:    lastErr.Error(),
	})
	r.logger.Warn("provider call failed", "tier", tier.Name, "model", tier.Model, "error", lastErr)
	return "", fmt.Errorf("%w (tier %s): %v", ErrProviderFailure, tier.Name, lastErr)
}

// Embed requests an embedding vector from the tier's model under the same
// governance and accounting rules as Call.
func (r *Router) Embed(ctx context.Context, tier routing.ModelTier, text string, opts CallOptions) ([]float64, error) {
	provider, ok := r.providers[tier.Backend]
	if !ok {
		return nil, fmt.Errorf("no client for backend %q", tier.Backend)
	}

	if !r.governor.TryAcquire(tier.Name) {
		return nil, fmt.Errorf("tier %s: %w", tier.Name, ErrRateLimited)
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.backoffBase<<(attempt-1)); err != nil {
				lastErr = err
				break
			}
			r.governor.Record(tier.Name)
		}

		r.track(tier.Name, func(s *TierStats) { s.Calls++ })

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		vec, err := provider.Embed(callCtx, tier.Model, text)
		cancel()

		if err != nil {
			if errors.Is(err, llm.ErrThrottled) {
				r.track(tier.Name, func(s *TierStats) { s.Throttles++ })
				lastErr = err
				continue
			}
			lastErr = err
			break
		}

		r.track(tier.Name, func(s *TierStats) { s.Successes++ })
		r.usage.Log(ledger.Entry{
			CallerID:    opts.CallerID,
			Model:       tier.Model,
			Purpose:     opts.Purpose,
			InputTokens: estimateTokens(text),
			Status:      ledger.StatusSuccess,
		})
		return vec, nil
	}

	r.track(tier.Name, func(s *TierStats) { s.Failures++ })
	r.usage.Log(ledger.Entry{
		CallerID: opts.CallerID,
		Model:    tier.Model,
		Purpose:  opts.Purpose,
		Status:   ledger.StatusFailure,
		Error:    lastErr.Error(),
	})
	return nil, fmt.Errorf("%w (tier %s): %v", ErrProviderFailure, tier.Name, lastErr)
}

// estimateTokens approximates token counts for endpoints that do not report
// usage. Four characters per token is close enough for advisory accounting.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func (r *Router) track(tier string, update func(*TierStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[tier]
	if !ok {
		s = &TierStats{}
		r.stats[tier] = s
	}
	update(s)
}

// Stats returns a copy of per-tier call counters
func (r *Router) Stats() map[string]TierStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]TierStats, len(r.stats))
	for name, s := range r.stats {
		out[name] = *s
	}
	return out
}
