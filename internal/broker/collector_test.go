package broker

import (
	"context"
	"testing"
	"time"

	"ibharvest/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(id int64, ts string) BarEvent {
	return BarEvent{ReqID: id, Bar: market.NewBar(ts, 1, 2, 0.5, 1.5, 100)}
}

func TestCollectorCompletesInArrivalOrder(t *testing.T) {
	c := newCollector(1)
	require.True(t, c.Push(bar(1, "a")))
	require.True(t, c.Push(bar(1, "b")))
	require.True(t, c.Push(bar(1, "c")))
	require.True(t, c.Push(BarsEnd{ReqID: 1}))

	items, timedOut := c.Await(context.Background(), time.Second)
	assert.False(t, timedOut)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].(BarEvent).Bar.Time)
	assert.Equal(t, "c", items[2].(BarEvent).Bar.Time)
	assert.Equal(t, StateCompleted, c.State())
}

func TestCollectorDiscardsAfterTerminator(t *testing.T) {
	c := newCollector(1)
	c.Push(ContractRecord{ReqID: 1})
	c.Push(ContractEnd{ReqID: 1})
	c.Push(ContractRecord{ReqID: 1})

	items, timedOut := c.Await(context.Background(), time.Second)
	assert.False(t, timedOut)
	assert.Len(t, items, 1)
	assert.False(t, c.Push(ContractRecord{ReqID: 1}))
}

func TestCollectorTimesOutWithPartialItems(t *testing.T) {
	c := newCollector(2)
	c.Push(bar(2, "a"))

	start := time.Now()
	items, timedOut := c.Await(context.Background(), 30*time.Millisecond)
	assert.True(t, timedOut)
	assert.Len(t, items, 1)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, StateTimedOut, c.State())

	// terminal collectors answer immediately with the same result
	start = time.Now()
	again, timedOut := c.Await(context.Background(), time.Hour)
	assert.True(t, timedOut)
	assert.Equal(t, items, again)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, c.Push(BarsEnd{ReqID: 2}))
}

func TestCollectorEmptyTimeout(t *testing.T) {
	c := newCollector(9)
	items, timedOut := c.Await(context.Background(), 10*time.Millisecond)
	assert.True(t, timedOut)
	assert.Empty(t, items)
}

func TestCollectorSlidingTimeout(t *testing.T) {
	c := newCollector(3)
	go func() {
		for i := 0; i < 5; i++ {
			time.Sleep(20 * time.Millisecond)
			c.Push(bar(3, "x"))
		}
		time.Sleep(20 * time.Millisecond)
		c.Push(BarsEnd{ReqID: 3})
	}()

	// total trickle exceeds maxWait, each gap does not
	items, timedOut := c.Await(context.Background(), 80*time.Millisecond)
	assert.False(t, timedOut)
	assert.Len(t, items, 5)
}

func TestCollectorContextCancel(t *testing.T) {
	c := newCollector(4)
	c.Push(bar(4, "a"))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	items, timedOut := c.Await(ctx, time.Hour)
	assert.True(t, timedOut)
	assert.Len(t, items, 1)
	assert.Equal(t, StateTimedOut, c.State())
}

func TestCollectorStateString(t *testing.T) {
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "COMPLETED", StateCompleted.String())
	assert.Equal(t, "TIMED_OUT", StateTimedOut.String())
}
