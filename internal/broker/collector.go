package broker

import (
	"context"
	"sync"
	"time"
)

type CollectorState int

const (
	StateOpen CollectorState = iota
	StateCompleted
	StateTimedOut
)

func (s CollectorState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCompleted:
		return "COMPLETED"
	case StateTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Collector accumulates the events of one request until a terminator arrives
// or the wait goes idle. Push never blocks; Await has a single consumer.
type Collector struct {
	id int64

	mu    sync.Mutex
	queue []Event
	items []Event
	state CollectorState
	wake  chan struct{}
}

func newCollector(id int64) *Collector {
	return &Collector{
		id:   id,
		wake: make(chan struct{}, 1),
	}
}

func (c *Collector) ID() int64 { return c.id }

func (c *Collector) State() CollectorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Push queues ev. It returns false when the collector is already terminal and
// the event was dropped.
func (c *Collector) Push(ev Event) bool {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Await returns the accumulated items once the terminator arrives
// (timedOut=false) or once no event arrived for maxWait (timedOut=true). The
// idle timer restarts on every received item. Cancelling ctx ends the wait as
// a timeout. On a terminal collector Await returns the recorded result
// immediately.
func (c *Collector) Await(ctx context.Context, maxWait time.Duration) ([]Event, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.state != StateOpen {
		defer c.mu.Unlock()
		return c.snapshotLocked()
	}
	c.mu.Unlock()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()
	for {
		progressed, done := c.drain()
		if done {
			return c.finish(StateCompleted)
		}
		if progressed {
			timer.Reset(maxWait)
		}
		select {
		case <-c.wake:
		case <-timer.C:
			c.mu.Lock()
			pending := len(c.queue)
			c.mu.Unlock()
			if pending > 0 {
				timer.Reset(maxWait)
				continue
			}
			return c.finish(StateTimedOut)
		case <-ctx.Done():
			if _, done := c.drain(); done {
				return c.finish(StateCompleted)
			}
			return c.finish(StateTimedOut)
		}
	}
}

// drain moves queued events into items. done reports that the terminator was
// consumed; anything queued behind it is discarded.
func (c *Collector) drain() (progressed bool, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) > 0 {
		ev := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		if isTerminator(ev) {
			c.queue = nil
			return progressed, true
		}
		c.items = append(c.items, ev)
		progressed = true
	}
	return progressed, false
}

func (c *Collector) finish(state CollectorState) ([]Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOpen {
		c.state = state
		c.queue = nil
	}
	return c.snapshotLocked()
}

func (c *Collector) snapshotLocked() ([]Event, bool) {
	out := make([]Event, len(c.items))
	copy(out, c.items)
	return out, c.state == StateTimedOut
}
