// Package ratelimit implements local rate governance for model tiers: a
// per-tier sliding window of request timestamps, debounced execution for
// interactive tasks, and a FIFO retry queue for over-quota requests. Distinct
// tiers are governed independently; saturation on one never blocks another.
package ratelimit

import (
	"sync"
	"time"

	"github.com/candorhq/go-candor-ai/internal/routing"
	"github.com/candorhq/go-candor-ai/pkg/logger"
)

// DefaultSpan is the trailing window over which per-tier RPM quotas apply.
const DefaultSpan = time.Minute

// Window tracks request timestamps for one model tier. All admission checks
// and timestamp mutations are serialized under one mutex so two concurrent
// callers can never both claim the last slot.
type Window struct {
	mu     sync.Mutex
	limit  int
	span   time.Duration
	stamps []time.Time

	now func() time.Time // injectable for tests
}

// NewWindow creates a sliding window admitting limit requests per span.
func NewWindow(limit int, span time.Duration) *Window {
	if span <= 0 {
		span = DefaultSpan
	}
	return &Window{
		limit: limit,
		span:  span,
		now:   time.Now,
	}
}

// prune drops timestamps older than the trailing span. Caller holds the lock.
func (w *Window) prune() {
	cutoff := w.now().Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// CanProceed reports whether the window has headroom for one more request
func (w *Window) CanProceed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	return len(w.stamps) < w.limit
}

// Critical reports whether the window is within one request of exhaustion.
// The orchestrator skips straight to a fallback tier rather than spending the
// last slot on a call that may need a retry. Single-request windows are never
// critical; skipping would leave the tier permanently unused.
func (w *Window) Critical() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	return w.limit > 1 && len(w.stamps) >= w.limit-1
}

// TryAcquire claims a slot when the window has headroom. Check and record
// happen in one critical section so two concurrent callers cannot both take
// the last slot.
func (w *Window) TryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, w.now())
	return true
}

// Record registers one request attempt at the current time
func (w *Window) Record() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	w.stamps = append(w.stamps, w.now())
}

// WaitTime returns how long until the oldest in-window timestamp ages out,
// or zero when the window already has headroom.
func (w *Window) WaitTime() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	if len(w.stamps) < w.limit {
		return 0
	}
	return w.stamps[0].Add(w.span).Sub(w.now())
}

// Used returns the number of in-window timestamps
func (w *Window) Used() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	return len(w.stamps)
}

// Governor owns the per-tier windows and queues. It is constructed once at
// process start from the routing table; there is no ambient global state.
type Governor struct {
	mu      sync.RWMutex
	windows map[string]*Window
	queues  map[string]*tierQueue
	span    time.Duration
	logger  *logger.Logger
}

// NewGovernor creates a Governor with one window per tier. A non-zero span
// overrides the 60s default, which tests use to keep windows short.
func NewGovernor(tiers []routing.ModelTier, span time.Duration, log *logger.Logger) *Governor {
	if span <= 0 {
		span = DefaultSpan
	}
	g := &Governor{
		windows: make(map[string]*Window, len(tiers)),
		queues:  make(map[string]*tierQueue, len(tiers)),
		span:    span,
		logger:  log.WithComponent("ratelimit"),
	}
	for _, tier := range tiers {
		g.windows[tier.Name] = NewWindow(tier.RPM, span)
		g.queues[tier.Name] = &tierQueue{}
	}
	return g
}

func (g *Governor) window(tier string) *Window {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.windows[tier]
}

// CanProceed reports whether the named tier has quota headroom. Unknown
// tiers are refused; the routing table validation should make that unreachable.
func (g *Governor) CanProceed(tier string) bool {
	w := g.window(tier)
	if w == nil {
		g.logger.Warn("admission check for unknown tier", "tier", tier)
		return false
	}
	return w.CanProceed()
}

// TryAcquire atomically claims a slot against the named tier's window.
// Unknown tiers are refused, matching CanProceed.
func (g *Governor) TryAcquire(tier string) bool {
	w := g.window(tier)
	if w == nil {
		g.logger.Warn("acquire for unknown tier", "tier", tier)
		return false
	}
	return w.TryAcquire()
}

// Critical reports whether the named tier is within one request of exhaustion
func (g *Governor) Critical(tier string) bool {
	w := g.window(tier)
	if w == nil {
		return true
	}
	return w.Critical()
}

// Record registers one attempt against the named tier's window
func (g *Governor) Record(tier string) {
	if w := g.window(tier); w != nil {
		w.Record()
	}
}

// WaitTime returns the estimated wait until the named tier has headroom
func (g *Governor) WaitTime(tier string) time.Duration {
	w := g.window(tier)
	if w == nil {
		return 0
	}
	return w.WaitTime()
}

// WindowStats is a point-in-time view of one tier's quota state.
type WindowStats struct {
	Used     int           `json:"used"`
	Limit    int           `json:"limit"`
	WaitTime time.Duration `json:"wait_time"`
}

// Snapshot returns quota state for every governed tier
func (g *Governor) Snapshot() map[string]WindowStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]WindowStats, len(g.windows))
	for name, w := range g.windows {
		out[name] = WindowStats{
			Used:     w.Used(),
			Limit:    w.limit,
			WaitTime: w.WaitTime(),
		}
	}
	return out
}
