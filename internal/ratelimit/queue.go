package ratelimit

import (
	"fmt"
	"time"
)

// drainGrace pads the rescheduled drain so the oldest timestamp has aged out
// of the window by the time the timer fires.
const drainGrace = 10 * time.Millisecond

// queuedRequest is one deferred execution awaiting quota on a tier.
type queuedRequest struct {
	fn         func() (string, error)
	ch         chan Outcome
	enqueuedAt time.Time
}

// tierQueue is the FIFO retry queue for one tier. timerSet guards against
// scheduling more than one drain timer at a time.
type tierQueue struct {
	items    []*queuedRequest
	timerSet bool
}

// Enqueue appends fn to the tier's FIFO queue and schedules a drain for when
// the window is expected to have headroom. The returned channel delivers
// exactly one Outcome once the request has run, without the caller having to
// re-invoke.
func (g *Governor) Enqueue(tier string, fn func() (string, error)) <-chan Outcome {
	ch := make(chan Outcome, 1)

	w := g.window(tier)
	if w == nil {
		ch <- Outcome{Err: fmt.Errorf("unknown tier %q", tier)}
		return ch
	}

	g.mu.Lock()
	q := g.queues[tier]
	q.items = append(q.items, &queuedRequest{
		fn:         fn,
		ch:         ch,
		enqueuedAt: time.Now(),
	})
	depth := len(q.items)
	schedule := !q.timerSet
	if schedule {
		q.timerSet = true
	}
	g.mu.Unlock()

	if schedule {
		wait := w.WaitTime() + drainGrace
		g.logger.Debug("queued over-quota request", "tier", tier, "depth", depth, "wait", wait)
		time.AfterFunc(wait, func() { g.drain(tier) })
	}

	return ch
}

// drain executes queued requests in enqueue order for as long as the window
// admits them, then reschedules itself if the tier saturates with work left.
func (g *Governor) drain(tier string) {
	w := g.window(tier)

	for {
		g.mu.Lock()
		q := g.queues[tier]
		if len(q.items) == 0 {
			q.timerSet = false
			g.mu.Unlock()
			return
		}
		if !w.CanProceed() {
			// Saturated again; keep timerSet and come back when the next
			// timestamp ages out.
			wait := w.WaitTime() + drainGrace
			g.mu.Unlock()
			time.AfterFunc(wait, func() { g.drain(tier) })
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		g.mu.Unlock()

		// Executed outside the lock; the thunk itself records the window
		// timestamp when it issues the provider call.
		value, err := item.fn()
		item.ch <- Outcome{Value: value, Err: err}
	}
}

// QueueDepth returns the number of requests waiting on the named tier
func (g *Governor) QueueDepth(tier string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.queues[tier]
	if !ok {
		return 0
	}
	return len(q.items)
}
