package ratelimit

import (
	"sync"
	"time"
)

// Outcome is the eventual result delivered to debounced and queued callers.
type Outcome struct {
	Value string
	Err   error
}

// Debouncer coalesces rapid repeated invocations that share a key into one
// execution. The timer resets on every new invocation; only the last function
// within the interval runs, and every caller in the window receives its
// result. Used for interactive tasks where each keystroke would otherwise
// become a paid provider call.
type Debouncer struct {
	mu      sync.Mutex
	entries map[string]*debounceEntry
}

type debounceEntry struct {
	timer   *time.Timer
	fn      func() (string, error)
	waiters []chan Outcome
}

// NewDebouncer creates an empty Debouncer
func NewDebouncer() *Debouncer {
	return &Debouncer{
		entries: make(map[string]*debounceEntry),
	}
}

// Do schedules fn to run after interval, superseding any pending execution
// for the same key. The returned channel delivers exactly one Outcome: the
// result of whichever invocation ran last.
func (d *Debouncer) Do(key string, interval time.Duration, fn func() (string, error)) <-chan Outcome {
	ch := make(chan Outcome, 1)

	d.mu.Lock()
	ent, ok := d.entries[key]
	if !ok {
		ent = &debounceEntry{}
		d.entries[key] = ent
	} else {
		ent.timer.Stop()
	}
	ent.fn = fn
	ent.waiters = append(ent.waiters, ch)
	ent.timer = time.AfterFunc(interval, func() { d.fire(key) })
	d.mu.Unlock()

	return ch
}

// fire executes the entry's final function and fans the result out to every
// waiter that accumulated during the debounce window.
func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	ent, ok := d.entries[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.entries, key)
	d.mu.Unlock()

	value, err := ent.fn()
	out := Outcome{Value: value, Err: err}
	for _, waiter := range ent.waiters {
		waiter <- out
	}
}

// Pending returns the number of keys with a scheduled execution
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
