package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ibharvest/internal/logger"
)

const (
	DefaultStep = 10
	minute      = 60
)

// Pacer grants at most one slot per configured second of each wall-clock
// minute. Slots start at start and advance by step modulo 60, so with step 10
// requests go out only at :00, :10, ..., :50.
//
// The harvester calls AcquireSlot from a single goroutine. The mutex keeps
// the slot counter consistent if that ever changes; concurrent callers are
// serialized and each receives a distinct slot.
type Pacer struct {
	mu   sync.Mutex
	next int
	step int

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

type PacerOption func(*Pacer)

// WithClock replaces the wall clock and the sleeper. Tests drive the pacer
// with a fake clock that advances when sleep is called.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) PacerOption {
	return func(p *Pacer) {
		if now != nil {
			p.nowFn = now
		}
		if sleep != nil {
			p.sleepFn = sleep
		}
	}
}

func NewPacer(step, start int, opts ...PacerOption) (*Pacer, error) {
	if step <= 0 || step >= minute {
		return nil, fmt.Errorf("pacing step must be within 1..59 seconds, got %d", step)
	}
	if start < 0 || start >= minute {
		return nil, fmt.Errorf("pacing start second must be within 0..59, got %d", start)
	}
	p := &Pacer{
		next:    start,
		step:    step,
		nowFn:   time.Now,
		sleepFn: sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Next reports the second-of-minute the next slot will be granted at.
func (p *Pacer) Next() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// AcquireSlot blocks until the wall clock reaches the next usable second and
// returns that second. It returns ctx.Err() if ctx ends first, leaving the
// slot unconsumed.
func (p *Pacer) AcquireSlot(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		now := p.nowFn()
		if now.Second() == p.next {
			granted := p.next
			p.next = (p.next + p.step) % minute
			logger.Debugf("[pacer] slot :%02d granted at %s, next :%02d", granted, now.Format("15:04:05.000"), p.next)
			return granted, nil
		}
		wait := untilSecond(now, p.next)
		logger.Debugf("[pacer] waiting %s for slot :%02d", wait.Truncate(time.Millisecond), p.next)
		if err := p.sleepFn(ctx, wait); err != nil {
			return 0, err
		}
	}
}

// untilSecond returns the delay from now to the start of the next wall-clock
// second whose second-of-minute equals sec.
func untilSecond(now time.Time, sec int) time.Duration {
	target := now.Truncate(time.Minute).Add(time.Duration(sec) * time.Second)
	if !target.After(now) {
		target = target.Add(time.Minute)
	}
	return target.Sub(now)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
