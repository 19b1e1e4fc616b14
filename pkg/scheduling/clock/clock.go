package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-agent/pkg/errors"
	"github.com/kart-io/sentinel-agent/pkg/infra/pool"
)

// Option configures a RunnableClock.
type Option func(*RunnableClock)

// WithClock sets the time source. Tests pass a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(rc *RunnableClock) {
		rc.clock = c
	}
}

// RunnableClock owns the timeline of pending triggers and the single timer
// armed for its earliest entry.
//
// All timeline state is guarded by mu. Callbacks run on the dispatch pool
// and never while mu is held. Only timer goroutines submit to the pool;
// RequestTrigger and Cancel re-arm the timer and return, so they never wait
// for a free worker.
type RunnableClock struct {
	mu       sync.Mutex
	timeline *timeline
	clock    clockwork.Clock
	pool     *pool.Pool

	timer clockwork.Timer
	// generation identifies the currently armed timer. A firing carrying an
	// older generation is stale and ignored.
	generation uint64
	// inflight holds entries popped from the timeline whose callbacks have
	// not started yet, by trigger id. Cancel removes them here.
	inflight map[string][]*item
	closed   bool
}

// New creates a clock dispatching callbacks to p. The pool is owned by the
// caller and is not released by Close.
func New(p *pool.Pool, opts ...Option) (*RunnableClock, error) {
	if p == nil {
		return nil, fmt.Errorf("clock: dispatch pool is required")
	}
	c := &RunnableClock{
		timeline: newTimeline(),
		clock:    clockwork.NewRealClock(),
		pool:     p,
		inflight: make(map[string][]*item),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Now returns the current time of the clock's time source.
func (c *RunnableClock) Now() time.Time {
	return c.clock.Now()
}

// RequestTrigger registers cb to run at or after due under id.
//
// If id is already pending with a due time earlier than or equal to due,
// the call is a no-op. If it is pending with a later due time, the entry is
// replaced and the old firing never happens.
func (c *RunnableClock) RequestTrigger(id string, due time.Time, cb Callback) error {
	e := Entry{TriggerID: id, Due: due, Callback: cb}
	if !e.valid() {
		return errors.ErrInvalidTrigger.WithMessagef(
			"invalid trigger %q: id, due and callback are required", id)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrClockClosed
	}

	it, ok := c.timeline.Get(id)
	switch {
	case !ok:
		it = c.timeline.Push(e)
	case due.Before(it.Due):
		c.timeline.Replace(it, e)
	default:
		c.mu.Unlock()
		return nil
	}

	if c.timeline.Peek() == it {
		c.rearmLocked()
	}
	c.mu.Unlock()
	return nil
}

// Cancel removes the trigger id. A callback that has been popped but not
// yet started on the pool will not start. A running callback is not
// interrupted. Cancelling an unknown id is a no-op.
func (c *RunnableClock) Cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inflight, id)

	wasHead := false
	if head := c.timeline.Peek(); head != nil && head.TriggerID == id {
		wasHead = true
	}
	if _, ok := c.timeline.Remove(id); ok && wasHead && !c.closed {
		c.rearmLocked()
	}
}

// Clear removes every pending trigger and disarms the timer.
func (c *RunnableClock) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLocked()
}

// Close clears the clock and rejects further triggers.
func (c *RunnableClock) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLocked()
	c.closed = true
	return nil
}

// Len returns the number of pending triggers.
func (c *RunnableClock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.timeline.Len()
}

// Pending returns the due time of id if it is still in the timeline.
func (c *RunnableClock) Pending(id string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.timeline.Get(id)
	if !ok {
		return time.Time{}, false
	}
	return it.Due, true
}

func (c *RunnableClock) clearLocked() {
	c.timeline.Reset()
	c.inflight = make(map[string][]*item)
	c.disarmLocked()
}

// pumpLocked drains every overdue entry and arms the timer for the next
// one. It converges to either an empty timeline with no timer, or exactly
// one timer armed for the true minimum. The returned entries must be
// dispatched after mu is released.
func (c *RunnableClock) pumpLocked() []*item {
	ready := c.timeline.PopDue(c.clock.Now())
	for _, it := range ready {
		c.inflight[it.TriggerID] = append(c.inflight[it.TriggerID], it)
	}

	head := c.timeline.Peek()
	if head == nil {
		c.disarmLocked()
		return ready
	}
	c.armLocked(head.Due.Sub(c.clock.Now()))
	return ready
}

// rearmLocked arms the timer for the current head, with no delay when the
// head is already due. The firing pumps and dispatches on the timer
// goroutine.
func (c *RunnableClock) rearmLocked() {
	head := c.timeline.Peek()
	if head == nil {
		c.disarmLocked()
		return
	}
	c.armLocked(max(head.Due.Sub(c.clock.Now()), 0))
}

func (c *RunnableClock) armLocked(delay time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.generation++
	gen := c.generation
	c.timer = c.clock.AfterFunc(delay, func() {
		c.fire(gen)
	})
}

func (c *RunnableClock) disarmLocked() {
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *RunnableClock) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ready := c.pumpLocked()
	c.mu.Unlock()

	c.dispatch(ready)
}

func (c *RunnableClock) dispatch(ready []*item) {
	for _, it := range ready {
		if err := c.pool.Submit(func() { c.run(it) }); err != nil {
			c.mu.Lock()
			c.takeInflightLocked(it)
			c.mu.Unlock()
			logger.Errorw("Failed to dispatch trigger",
				"trigger_id", it.TriggerID,
				"error", err,
			)
		}
	}
}

func (c *RunnableClock) run(it *item) {
	c.mu.Lock()
	ok := c.takeInflightLocked(it)
	c.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("Trigger callback panicked",
				"trigger_id", it.TriggerID,
				"panic", r,
			)
		}
	}()

	if err := it.Callback(); err != nil {
		logger.Warnw("Trigger callback failed",
			"trigger_id", it.TriggerID,
			"due", it.Due,
			"error", err,
		)
	}
}

// takeInflightLocked removes it from the inflight set and reports whether
// it was still there.
func (c *RunnableClock) takeInflightLocked(it *item) bool {
	items := c.inflight[it.TriggerID]
	for i, x := range items {
		if x != it {
			continue
		}
		if len(items) == 1 {
			delete(c.inflight, it.TriggerID)
		} else {
			c.inflight[it.TriggerID] = append(items[:i:i], items[i+1:]...)
		}
		return true
	}
	return false
}
