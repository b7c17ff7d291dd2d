package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"ibharvest/internal/market"
	"ibharvest/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Connect(ctx context.Context, host string, port, clientID int) error {
	return m.Called(ctx, host, port, clientID).Error(0)
}

func (m *mockTransport) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTransport) RequestContractDetails(reqID int64, spec Contract) error {
	return m.Called(reqID, spec).Error(0)
}

func (m *mockTransport) RequestHistoricalData(reqID int64, c Contract, q HistoricalQuery) error {
	return m.Called(reqID, c, q).Error(0)
}

func (m *mockTransport) CancelHistoricalData(reqID int64) error {
	return m.Called(reqID).Error(0)
}

func (m *mockTransport) Disconnect() error {
	return m.Called().Error(0)
}

type fixedSlot struct {
	calls int
	err   error
}

func (f *fixedSlot) AcquireSlot(ctx context.Context) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return (f.calls - 1) * 10 % 60, nil
}

type harness struct {
	transport *mockTransport
	sink      *Sink
	pacer     *fixedSlot
	bars      *store.MemoryBarStore
	client    *Client
	errs      []ErrorEvent
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		transport: new(mockTransport),
		sink:      NewSink(),
		pacer:     &fixedSlot{},
		bars:      store.NewMemoryBarStore(),
	}
	c, err := NewClient(h.transport, h.sink, h.pacer, h.bars,
		WithRequestTimeout(timeout),
		WithErrorObserver(func(e ErrorEvent) { h.errs = append(h.errs, e) }),
	)
	require.NoError(t, err)
	h.client = c
	return h
}

var nqSpec = Contract{Symbol: "NQ", SecType: "FUT", Exchange: "GLOBEX", Currency: "USD", IncludeExpired: true}

func candidate(local string, conID int64) ContractDetails {
	c := nqSpec
	c.LocalSymbol = local
	c.ConID = conID
	return ContractDetails{Summary: &c}
}

func (h *harness) answerContracts(id int64, details ...ContractDetails) {
	h.transport.On("RequestContractDetails", id, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		for _, d := range details {
			h.sink.ContractDetails(id, d)
		}
		h.sink.ContractDetailsEnd(id)
	})
}

func TestNewClientValidatesCollaborators(t *testing.T) {
	_, err := NewClient(nil, NewSink(), &fixedSlot{}, store.NewMemoryBarStore())
	assert.Error(t, err)
	_, err = NewClient(new(mockTransport), nil, &fixedSlot{}, store.NewMemoryBarStore())
	assert.Error(t, err)
	_, err = NewClient(new(mockTransport), NewSink(), nil, store.NewMemoryBarStore())
	assert.Error(t, err)
	_, err = NewClient(new(mockTransport), NewSink(), &fixedSlot{}, nil)
	assert.Error(t, err)
}

func TestResolveInstrumentNoCandidatesReturnsSpec(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answerContracts(1)

	got := h.client.ResolveInstrument(context.Background(), nqSpec, 1, "NQU6")
	assert.Equal(t, nqSpec, got)
	assert.Zero(t, h.pacer.calls)
	_, ok := h.sink.Lookup(1)
	assert.False(t, ok)
}

func TestResolveInstrumentSingleCandidate(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answerContracts(1, candidate("NQU6", 11))

	got := h.client.ResolveInstrument(context.Background(), nqSpec, 1, "")
	assert.Equal(t, int64(11), got.ConID)
}

func TestResolveInstrumentMatchesKeyAnywhere(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answerContracts(2,
		candidate("NQH7", 1),
		ContractDetails{},
		candidate("", 2),
		candidate("NQU6", 3),
	)

	got := h.client.ResolveInstrument(context.Background(), nqSpec, 2, "NQU6")
	assert.Equal(t, int64(3), got.ConID)
	assert.Equal(t, "NQU6", got.LocalSymbol)
}

func TestResolveInstrumentFallsBackToFirst(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answerContracts(3, candidate("NQH7", 1), candidate("NQM7", 2))
	got := h.client.ResolveInstrument(context.Background(), nqSpec, 3, "NQZ9")
	assert.Equal(t, int64(1), got.ConID)

	h.answerContracts(4, candidate("NQH7", 1), candidate("NQM7", 2))
	got = h.client.ResolveInstrument(context.Background(), nqSpec, 4, "")
	assert.Equal(t, int64(1), got.ConID)
}

func TestResolveInstrumentSkipsRecordsWithoutSummary(t *testing.T) {
	h := newHarness(t, time.Second)
	h.answerContracts(5, ContractDetails{MarketName: "broken"}, candidate("NQM7", 2))

	got := h.client.ResolveInstrument(context.Background(), nqSpec, 5, "NQU6")
	assert.Equal(t, int64(2), got.ConID)
}

func TestResolveInstrumentTimeoutKeepsCandidates(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.transport.On("RequestContractDetails", int64(6), mock.Anything).Return(nil).Run(func(mock.Arguments) {
		h.sink.ContractDetails(6, candidate("NQU6", 7))
	})

	got := h.client.ResolveInstrument(context.Background(), nqSpec, 6, "NQU6")
	assert.Equal(t, int64(7), got.ConID)
}

func TestResolveInstrumentSubmitFailureIsLogged(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.transport.On("RequestContractDetails", int64(8), mock.Anything).Return(errors.New("not connected"))

	got := h.client.ResolveInstrument(context.Background(), nqSpec, 8, "")
	assert.Equal(t, nqSpec, got)
	require.Len(t, h.errs, 1)
	assert.Equal(t, CodeSubmitFailed, h.errs[0].Code)
	assert.Equal(t, int64(8), h.errs[0].ReqID)
}

func fetchRequest(id int64, rth bool) HistoricalRequest {
	return HistoricalRequest{
		RequestID:        id,
		Contract:         *candidate("NQU6", 11).Summary,
		EndTime:          time.Date(2016, 6, 22, 0, 0, 0, 0, time.UTC),
		Duration:         "1 D",
		BarSize:          "1 min",
		WhatToShow:       "BID_ASK",
		RegularHoursOnly: rth,
		Label:            "NQ",
	}
}

func TestFetchHistoricalBarsCompletes(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	h.transport.On("RequestHistoricalData", int64(7), mock.Anything, mock.MatchedBy(func(q HistoricalQuery) bool {
		return q.EndDateTime == "20160622 00:00:00" && q.UseRTH && q.FormatDate == 1 && !q.KeepUpToDate
	})).Return(nil).Run(func(mock.Arguments) {
		go func() {
			for i, ts := range []string{"20160621  09:30:00", "20160621  09:31:00", "20160621  09:32:00"} {
				h.sink.HistoricalBar(7, market.NewBar(ts, float64(i), 2, 0, 1, 10))
			}
			h.sink.HistoricalBarsEnd(7, "20160621", "20160622")
			h.sink.HistoricalBar(7, market.NewBar("late", 0, 0, 0, 0, 0))
		}()
	})
	h.transport.On("CancelHistoricalData", int64(7)).Return(nil)

	res, err := h.client.FetchHistoricalBars(context.Background(), fetchRequest(7, true))
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	require.Len(t, res.Bars, 3)
	assert.Equal(t, "20160621  09:30:00", res.Bars[0].Time)
	assert.Equal(t, "memory:NQ_20160622_1", res.Destination)
	assert.Equal(t, 1, h.pacer.calls)
	h.transport.AssertCalled(t, "CancelHistoricalData", int64(7))

	stored, ok := h.bars.Get(store.BatchKey{Symbol: "NQ", Date: fetchRequest(7, true).EndTime, RegularHoursOnly: true})
	require.True(t, ok)
	assert.Equal(t, res.Bars, stored)
}

func TestFetchHistoricalBarsTimeoutStillCancelsAndPersists(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.transport.On("RequestHistoricalData", int64(9), mock.Anything, mock.Anything).Return(nil)
	h.transport.On("CancelHistoricalData", int64(9)).Return(nil)

	res, err := h.client.FetchHistoricalBars(context.Background(), fetchRequest(9, false))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Empty(t, res.Bars)
	h.transport.AssertCalled(t, "CancelHistoricalData", int64(9))

	stored, ok := h.bars.Get(store.BatchKey{Symbol: "NQ", Date: fetchRequest(9, false).EndTime})
	assert.True(t, ok)
	assert.Empty(t, stored)

	// a late reply after retire is ignored
	assert.NotPanics(t, func() { h.sink.HistoricalBarsEnd(9, "", "") })
	_, open := h.sink.Lookup(9)
	assert.False(t, open)
}

func TestFetchHistoricalBarsCancelFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.transport.On("RequestHistoricalData", int64(10), mock.Anything, mock.Anything).Return(errors.New("rejected"))
	h.transport.On("CancelHistoricalData", int64(10)).Return(errors.New("not connected"))

	res, err := h.client.FetchHistoricalBars(context.Background(), fetchRequest(10, true))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	require.Len(t, h.errs, 1)
	assert.Equal(t, CodeSubmitFailed, h.errs[0].Code)
}

func TestFetchHistoricalBarsPacingFailure(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.pacer.err = context.Canceled

	_, err := h.client.FetchHistoricalBars(context.Background(), fetchRequest(11, true))
	assert.ErrorIs(t, err, context.Canceled)
	h.transport.AssertNotCalled(t, "RequestHistoricalData", mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, h.bars.Len())
}

func TestFetchHistoricalBarsDeadlineCapsTrickle(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.client.deadline = 60 * time.Millisecond
	stop := make(chan struct{})
	defer close(stop)
	h.transport.On("RequestHistoricalData", int64(12), mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		go func() {
			tick := time.NewTicker(10 * time.Millisecond)
			defer tick.Stop()
			for {
				select {
				case <-stop:
					return
				case <-tick.C:
					h.sink.HistoricalBar(12, market.NewBar("t", 1, 1, 1, 1, 1))
				}
			}
		}()
	})
	h.transport.On("CancelHistoricalData", int64(12)).Return(nil)

	start := time.Now()
	res, err := h.client.FetchHistoricalBars(context.Background(), fetchRequest(12, true))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.NotEmpty(t, res.Bars)
	assert.Less(t, time.Since(start), time.Second)
}
