// Package harvest walks the date by symbol matrix and drives the broker
// client one request at a time.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ibharvest/internal/broker"
	"ibharvest/internal/logger"
	"ibharvest/internal/store"
	"ibharvest/internal/store/model"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Requester is the blocking request API of the broker client.
type Requester interface {
	ResolveInstrument(ctx context.Context, spec broker.Contract, reqID int64, localSymbol string) broker.Contract
	FetchHistoricalBars(ctx context.Context, req broker.HistoricalRequest) (broker.HistoricalResult, error)
}

// Instruments builds lookup contracts per symbol and date.
type Instruments interface {
	Spec(symbol string, date time.Time) (broker.Contract, string, error)
	FileLabel(symbol string) string
}

type Options struct {
	Symbols    []string
	Start      time.Time
	End        time.Time
	Duration   string
	BarSize    string
	WhatToShow string
	// Sessions lists the use-RTH flag of each fetch made per symbol and date.
	Sessions       []bool
	FirstRequestID int64
	SkipExisting   bool
}

// Orchestrator owns request id allocation for one run.
type Orchestrator struct {
	client      Requester
	instruments Instruments
	fetchLog    store.FetchLog
	opts        Options

	runID  string
	nextID int64

	errMu sync.Mutex
}

// New validates opts. fetchLog may be nil.
func New(client Requester, instruments Instruments, fetchLog store.FetchLog, opts Options) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("harvest requires a broker client")
	}
	if instruments == nil {
		return nil, fmt.Errorf("harvest requires an instrument registry")
	}
	if len(opts.Symbols) == 0 {
		return nil, fmt.Errorf("harvest requires at least one symbol")
	}
	if len(opts.Sessions) == 0 {
		return nil, fmt.Errorf("harvest requires at least one session")
	}
	if opts.End.Before(opts.Start) {
		return nil, fmt.Errorf("harvest end %s before start %s", opts.End.Format("2006-01-02"), opts.Start.Format("2006-01-02"))
	}
	if opts.FirstRequestID <= 0 {
		opts.FirstRequestID = 1
	}
	if opts.SkipExisting && fetchLog == nil {
		logger.Warnf("[harvest] skip_existing requested without a fetch log, every batch will be fetched")
		opts.SkipExisting = false
	}
	return &Orchestrator{
		client:      client,
		instruments: instruments,
		fetchLog:    fetchLog,
		opts:        opts,
		runID:       uuid.NewString(),
		nextID:      opts.FirstRequestID,
	}, nil
}

func (o *Orchestrator) RunID() string { return o.runID }

// ObserveError stores a drained gateway error in the fetch log.
func (o *Orchestrator) ObserveError(e broker.ErrorEvent) {
	if o == nil || o.fetchLog == nil {
		return
	}
	o.errMu.Lock()
	defer o.errMu.Unlock()
	rec := &model.GatewayErrorModel{
		RunID:     o.runID,
		RequestID: e.ReqID,
		Code:      e.Code,
		Message:   e.Message,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := o.fetchLog.RecordError(context.Background(), rec); err != nil {
		logger.Warnf("[harvest] record gateway error failed: %v", err)
	}
}

func (o *Orchestrator) allocID() int64 {
	id := o.nextID
	o.nextID++
	return id
}

// Run harvests every date in [Start, End] for every symbol. A failing pair is
// logged and counted; only ctx ending stops the run early.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: o.runID, StartedAt: time.Now()}
	logger.Infof("[harvest] run %s: %s..%s symbols=%s sessions=%d first_id=%d",
		o.runID, o.opts.Start.Format("2006-01-02"), o.opts.End.Format("2006-01-02"),
		strings.Join(o.opts.Symbols, ","), len(o.opts.Sessions), o.opts.FirstRequestID)

	for day := o.opts.Start; !day.After(o.opts.End); day = day.AddDate(0, 0, 1) {
		sum.Dates++
		for _, sym := range o.opts.Symbols {
			if err := ctx.Err(); err != nil {
				return o.finish(sum, err)
			}
			if err := o.harvestSymbol(ctx, sym, day, &sum); err != nil {
				if ctx.Err() != nil {
					return o.finish(sum, ctx.Err())
				}
				logger.Warnf("[harvest] %s %s: %v", sym, day.Format("2006-01-02"), err)
			}
		}
	}
	return o.finish(sum, nil)
}

func (o *Orchestrator) finish(sum Summary, err error) (Summary, error) {
	sum.Elapsed = time.Since(sum.StartedAt)
	sum.NextRequestID = o.nextID
	logger.InfoBlock(sum.String())
	return sum, err
}

func (o *Orchestrator) harvestSymbol(ctx context.Context, sym string, day time.Time, sum *Summary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			sum.Failed++
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	end := day.AddDate(0, 0, -1)
	label := o.instruments.FileLabel(sym)
	pending := o.pendingSessions(ctx, label, end, sum)
	if len(pending) == 0 {
		logger.Debugf("[harvest] %s %s already stored", sym, end.Format("20060102"))
		return nil
	}

	spec, localSymbol, err := o.instruments.Spec(sym, day)
	if err != nil {
		sum.Failed += len(pending)
		return err
	}
	resolved := o.client.ResolveInstrument(ctx, spec, o.allocID(), localSymbol)
	sum.Resolved++

	var errs []error
	for _, rth := range pending {
		req := broker.HistoricalRequest{
			RequestID:        o.allocID(),
			Contract:         resolved,
			EndTime:          end,
			Duration:         o.opts.Duration,
			BarSize:          o.opts.BarSize,
			WhatToShow:       o.opts.WhatToShow,
			RegularHoursOnly: rth,
			Label:            label,
		}
		res, ferr := o.client.FetchHistoricalBars(ctx, req)
		o.record(ctx, req, res, ferr)
		switch {
		case ferr != nil:
			if ctx.Err() != nil {
				return ferr
			}
			sum.Failed++
			errs = append(errs, ferr)
			continue
		case res.TimedOut:
			sum.TimedOut++
		default:
			sum.Completed++
		}
		if len(res.Bars) == 0 {
			sum.Empty++
		}
		sum.Bars += len(res.Bars)
	}
	return errors.Join(errs...)
}

// pendingSessions drops sessions whose batch is already in the fetch log.
func (o *Orchestrator) pendingSessions(ctx context.Context, label string, end time.Time, sum *Summary) []bool {
	if !o.opts.SkipExisting {
		return o.opts.Sessions
	}
	out := make([]bool, 0, len(o.opts.Sessions))
	for _, rth := range o.opts.Sessions {
		done, err := o.fetchLog.Completed(ctx, store.BatchKey{Symbol: label, Date: end, RegularHoursOnly: rth})
		if err != nil {
			logger.Warnf("[harvest] fetch log lookup failed, refetching: %v", err)
		}
		if done {
			sum.Skipped++
			continue
		}
		out = append(out, rth)
	}
	return out
}

func (o *Orchestrator) record(ctx context.Context, req broker.HistoricalRequest, res broker.HistoricalResult, ferr error) {
	if o.fetchLog == nil {
		return
	}
	rec := &model.FetchRecordModel{
		RunID:        o.runID,
		RequestID:    req.RequestID,
		Symbol:       req.Label,
		SessionDate:  req.EndTime.Format("20060102"),
		RTH:          req.RegularHoursOnly,
		LocalSymbol:  req.Contract.LocalSymbol,
		ConID:        req.Contract.ConID,
		Bars:         len(res.Bars),
		Destination:  res.Destination,
		WaitedMillis: res.Waited.Milliseconds(),
	}
	switch {
	case ferr != nil:
		rec.Status = model.FetchStatusFailed
		rec.ErrorMessage = ferr.Error()
	case res.TimedOut:
		rec.Status = model.FetchStatusTimedOut
	default:
		rec.Status = model.FetchStatusCompleted
	}
	if raw, err := json.Marshal(req.Contract); err == nil {
		rec.ContractJSON = datatypes.JSON(raw)
	}
	// recorded even after ctx is cancelled
	if err := o.fetchLog.Record(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warnf("[harvest] fetch log write failed for req %d: %v", req.RequestID, err)
	}
}
