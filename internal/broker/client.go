package broker

import (
	"context"
	"fmt"
	"time"

	"ibharvest/internal/logger"
	"ibharvest/internal/market"
	"ibharvest/internal/store"
)

// DefaultRequestTimeout is the idle ceiling of every bounded wait.
const DefaultRequestTimeout = 10 * time.Second

// Client turns the gateway's one-way submit calls and asynchronous replies
// into blocking calls. It issues one request at a time.
type Client struct {
	transport Transport
	sink      *Sink
	pacer     SlotAcquirer
	bars      store.BarSink

	timeout  time.Duration
	deadline time.Duration
	onError  func(ErrorEvent)
}

type ClientOption func(*Client)

// WithRequestTimeout sets the idle ceiling of each bounded wait.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRequestDeadline caps the total wait of a single request regardless of
// how steadily events trickle in. Zero disables the cap.
func WithRequestDeadline(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= 0 {
			c.deadline = d
		}
	}
}

// WithErrorObserver is called for every drained gateway error.
func WithErrorObserver(fn func(ErrorEvent)) ClientOption {
	return func(c *Client) {
		c.onError = fn
	}
}

func NewClient(t Transport, sink *Sink, pacer SlotAcquirer, bars store.BarSink, opts ...ClientOption) (*Client, error) {
	if t == nil {
		return nil, fmt.Errorf("broker client requires a transport")
	}
	if sink == nil {
		return nil, fmt.Errorf("broker client requires an event sink")
	}
	if pacer == nil {
		return nil, fmt.Errorf("broker client requires a pacer")
	}
	if bars == nil {
		return nil, fmt.Errorf("broker client requires a bar sink")
	}
	c := &Client{
		transport: t,
		sink:      sink,
		pacer:     pacer,
		bars:      bars,
		timeout:   DefaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// ResolveInstrument looks spec up and returns the gateway's contract. With no
// candidates spec is returned unchanged. With several candidates the first
// one whose local symbol equals localSymbol wins, falling back to the first
// candidate. It never fails on ambiguity.
func (c *Client) ResolveInstrument(ctx context.Context, spec Contract, reqID int64, localSymbol string) Contract {
	col := c.sink.Open(reqID)
	defer c.sink.Retire(reqID)

	logger.Infof("[broker] req=%d resolving contract %s", reqID, spec)
	if err := c.transport.RequestContractDetails(reqID, spec); err != nil {
		c.sink.Error(reqID, CodeSubmitFailed, fmt.Sprintf("contract details submit failed: %v", err))
	}

	items, timedOut := c.await(ctx, col)
	c.drainErrors()
	if timedOut {
		logger.Infof("[broker] req=%d exceeded maximum wait for contract details end, seems to be normal behaviour", reqID)
	}

	details := contractDetails(items)
	chosen, ok := selectContract(details, localSymbol)
	if !ok {
		logger.Warnf("[broker] req=%d no contract details for %s, returning unresolved contract", reqID, spec)
		return spec
	}
	// the gateway never sets this on returned contracts
	chosen.IncludeExpired = chosen.IncludeExpired || spec.IncludeExpired
	if len(details) > 1 {
		logger.Infof("[broker] req=%d %d candidates for %s, using %s", reqID, len(details), spec.Symbol, chosen.LocalSymbol)
	}
	return chosen
}

// selectContract applies the disambiguation policy. Records without a
// contract summary never match and are never picked as the fallback.
func selectContract(details []ContractDetails, localSymbol string) (Contract, bool) {
	var first *Contract
	for _, d := range details {
		if d.Summary == nil {
			continue
		}
		if first == nil {
			first = d.Summary
			if localSymbol == "" {
				break
			}
		}
		if ls, ok := d.LocalSymbol(); ok && ls == localSymbol {
			return *d.Summary, true
		}
	}
	if first == nil {
		return Contract{}, false
	}
	return *first, true
}

func contractDetails(items []Event) []ContractDetails {
	out := make([]ContractDetails, 0, len(items))
	for _, ev := range items {
		if rec, ok := ev.(ContractRecord); ok {
			out = append(out, rec.Details)
		}
	}
	return out
}

// HistoricalRequest describes one historical fetch. Label names the
// persisted batch together with the date of EndTime and RegularHoursOnly.
type HistoricalRequest struct {
	RequestID        int64
	Contract         Contract
	EndTime          time.Time
	Duration         string
	BarSize          string
	WhatToShow       string
	RegularHoursOnly bool
	Label            string
}

// HistoricalResult is the outcome of FetchHistoricalBars. TimedOut with bars
// is a successful partial result.
type HistoricalResult struct {
	RequestID   int64
	Bars        []market.Bar
	TimedOut    bool
	Slot        int
	Waited      time.Duration
	Destination string
}

// FetchHistoricalBars waits for a pacing slot, requests the bars, waits for
// them, cancels the request and persists the batch, replacing any earlier
// batch with the same identity. Errors are returned only when ctx ends or the
// batch cannot be persisted.
func (c *Client) FetchHistoricalBars(ctx context.Context, req HistoricalRequest) (HistoricalResult, error) {
	res := HistoricalResult{RequestID: req.RequestID}
	slot, err := c.pacer.AcquireSlot(ctx)
	if err != nil {
		return res, fmt.Errorf("pacing wait for req %d: %w", req.RequestID, err)
	}
	res.Slot = slot

	col := c.sink.Open(req.RequestID)
	defer c.sink.Retire(req.RequestID)

	query := HistoricalQuery{
		EndDateTime: market.FormatEndTime(req.EndTime),
		Duration:    req.Duration,
		BarSize:     req.BarSize,
		WhatToShow:  req.WhatToShow,
		UseRTH:      req.RegularHoursOnly,
		FormatDate:  1,
	}
	logger.Infof("[broker] req=%d historical %s end=%q duration=%q bar=%q rth=%v slot=:%02d",
		req.RequestID, req.Contract, query.EndDateTime, query.Duration, query.BarSize, query.UseRTH, slot)
	started := time.Now()
	if err := c.transport.RequestHistoricalData(req.RequestID, req.Contract, query); err != nil {
		c.sink.Error(req.RequestID, CodeSubmitFailed, fmt.Sprintf("historical data submit failed: %v", err))
	}

	items, timedOut := c.await(ctx, col)
	res.Waited = time.Since(started)
	res.TimedOut = timedOut
	c.drainErrors()
	if timedOut {
		logger.Infof("[broker] req=%d exceeded maximum wait for historical data end, seems to be normal behaviour", req.RequestID)
	}

	if err := c.transport.CancelHistoricalData(req.RequestID); err != nil {
		logger.Warnf("[broker] req=%d cancel failed: %v", req.RequestID, err)
	}

	res.Bars = historicalBars(items)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	key := store.BatchKey{
		Symbol:           req.Label,
		Date:             req.EndTime,
		RegularHoursOnly: req.RegularHoursOnly,
	}
	dest, err := c.bars.WriteBatch(ctx, key, res.Bars)
	if err != nil {
		return res, fmt.Errorf("persist %s: %w", key, err)
	}
	res.Destination = dest
	logger.Infof("[broker] req=%d stored %s -> %s", req.RequestID, market.Bars(res.Bars).Summary(), dest)
	return res, nil
}

func historicalBars(items []Event) []market.Bar {
	out := make([]market.Bar, 0, len(items))
	for _, ev := range items {
		if b, ok := ev.(BarEvent); ok {
			out = append(out, b.Bar)
		}
	}
	return out
}

func (c *Client) await(ctx context.Context, col *Collector) ([]Event, bool) {
	if c.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deadline)
		defer cancel()
	}
	return col.Await(ctx, c.timeout)
}

func (c *Client) drainErrors() {
	for _, e := range c.sink.DrainErrors() {
		logGatewayError(e)
		if c.onError != nil {
			c.onError(e)
		}
	}
}
