package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ibharvest/internal/broker"
	brcfg "ibharvest/internal/config"
	"ibharvest/internal/market"
	"ibharvest/internal/scheduler"
	"ibharvest/internal/store/csvfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGateway struct {
	handler    broker.EventHandler
	connectErr error

	mu      sync.Mutex
	cancels []int64
	queries []broker.HistoricalQuery
}

func (g *scriptedGateway) Connect(ctx context.Context, host string, port, clientID int) error {
	return g.connectErr
}

func (g *scriptedGateway) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (g *scriptedGateway) RequestContractDetails(reqID int64, spec broker.Contract) error {
	go func() {
		c := spec
		c.ConID = 42
		g.handler.Dispatch(broker.ContractRecord{ReqID: reqID, Details: broker.ContractDetails{Summary: &c}})
		g.handler.Dispatch(broker.ContractEnd{ReqID: reqID})
	}()
	return nil
}

func (g *scriptedGateway) RequestHistoricalData(reqID int64, c broker.Contract, q broker.HistoricalQuery) error {
	g.mu.Lock()
	g.queries = append(g.queries, q)
	g.mu.Unlock()
	go func() {
		g.handler.Dispatch(broker.BarEvent{ReqID: reqID, Bar: market.NewBar("20160621  09:30:00", 1, 2, 0.5, 1.5, 10)})
		g.handler.Dispatch(broker.BarEvent{ReqID: reqID, Bar: market.NewBar("20160621  09:31:00", 1.5, 2, 1, 1.75, 12)})
		g.handler.Dispatch(broker.BarsEnd{ReqID: reqID})
	}()
	return nil
}

func (g *scriptedGateway) CancelHistoricalData(reqID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, reqID)
	return nil
}

func (g *scriptedGateway) Disconnect() error { return nil }

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func testConfig(t *testing.T) *brcfg.Config {
	t.Helper()
	dir := t.TempDir()
	body := `
harvest:
  symbols: [NQ]
  start_date: "2016-06-23"
  end_date: "2016-06-23"
  instruments_path: ""
  skip_existing: true
storage:
  format: csv
  dir: ` + filepath.Join(dir, "bars") + `
  fetch_log_path: ` + filepath.Join(dir, "fetch.db") + `
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := brcfg.Load(path)
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, cfg *brcfg.Config, gw *scriptedGateway) *App {
	t.Helper()
	clock := &stepClock{now: time.Date(2017, 1, 3, 9, 0, 0, 0, time.UTC)}
	a, err := NewApp(cfg,
		WithTransport(func(h broker.EventHandler, _ brcfg.GatewayConfig) (broker.Transport, error) {
			gw.handler = h
			return gw, nil
		}),
		WithPacerOptions(scheduler.WithClock(clock.Now, clock.Sleep)),
	)
	require.NoError(t, err)
	return a
}

func TestAppHarvestsOneDay(t *testing.T) {
	cfg := testConfig(t)
	gw := &scriptedGateway{}
	a := newTestApp(t, cfg, gw)
	require.NotNil(t, a.Summary)
	require.Len(t, a.Summary.Symbols, 1)
	assert.Equal(t, "NQ", a.Summary.Symbols[0].Symbol)

	require.NoError(t, a.Run(context.Background()))
	assert.NotEmpty(t, a.RunID())
	assert.Equal(t, 2, a.Result.Completed)
	assert.Equal(t, 4, a.Result.Bars)
	assert.ElementsMatch(t, []int64{2, 3}, gw.cancels)
	require.Len(t, gw.queries, 2)
	assert.Equal(t, "20160622 00:00:00", gw.queries[0].EndDateTime)
	assert.True(t, gw.queries[0].UseRTH)
	assert.False(t, gw.queries[1].UseRTH)

	bars, err := csvfile.ReadBatch(filepath.Join(cfg.Storage.Dir, "NQ_20160622_1.csv"))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.FileExists(t, filepath.Join(cfg.Storage.Dir, "NQ_20160622_0.csv"))

	// second run finds both batches in the fetch log
	again := newTestApp(t, cfg, &scriptedGateway{})
	require.NoError(t, again.Run(context.Background()))
	assert.Equal(t, 2, again.Result.Skipped)
	assert.Zero(t, again.Result.Resolved)
}

func TestAppConnectFailure(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, &scriptedGateway{connectErr: errors.New("connection refused")})
	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestNewAppRejectsNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
	var a *App
	assert.Error(t, a.Run(context.Background()))
}
