package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ibharvest/internal/broker"
	brcfg "ibharvest/internal/config"
	"ibharvest/internal/harvest"
	"ibharvest/internal/instrument"
	"ibharvest/internal/logger"
	"ibharvest/internal/scheduler"
	"ibharvest/internal/store"
	"ibharvest/internal/store/bardb"
	"ibharvest/internal/store/csvfile"
	"ibharvest/internal/store/sqlite"
	"ibharvest/internal/transport/wsbridge"
)

type AppBuilder struct {
	cfg *brcfg.Config

	transportFn func(broker.EventHandler, brcfg.GatewayConfig) (broker.Transport, error)
	barSinkFn   func(brcfg.StorageConfig) (store.BarSink, []func() error, error)
	fetchLogFn  func(brcfg.StorageConfig) (store.FetchLog, error)
	pacerOpts   []scheduler.PacerOption
}

type AppBuilderOption func(*AppBuilder)

// WithTransport replaces the websocket bridge, e.g. with a scripted gateway.
func WithTransport(fn func(broker.EventHandler, brcfg.GatewayConfig) (broker.Transport, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.transportFn = fn
		}
	}
}

func WithPacerOptions(opts ...scheduler.PacerOption) AppBuilderOption {
	return func(b *AppBuilder) {
		b.pacerOpts = append(b.pacerOpts, opts...)
	}
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		transportFn: buildBridge,
		barSinkFn:   buildBarSink,
		fetchLogFn:  buildFetchLog,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	var closers []func() error
	defer func() {
		if err != nil {
			runClosers(closers)
		}
	}()

	if path := strings.TrimSpace(cfg.Gateway.FrameLogPath); path != "" {
		f, ferr := openAppend(path)
		if ferr != nil {
			return nil, fmt.Errorf("open frame log: %w", ferr)
		}
		logger.SetFrameWriter(f)
		closers = append(closers, func() error {
			logger.SetFrameWriter(nil)
			return f.Close()
		})
		logger.Infof("✓ gateway frames dumped to %s", path)
	}

	sink := broker.NewSink()
	transport, err := b.transportFn(sink, cfg.Gateway)
	if err != nil {
		return nil, err
	}

	pacer, err := scheduler.NewPacer(cfg.Pacing.StepSeconds, cfg.Pacing.StartSecond, b.pacerOpts...)
	if err != nil {
		return nil, err
	}

	bars, barClosers, err := b.barSinkFn(cfg.Storage)
	closers = append(closers, barClosers...)
	if err != nil {
		return nil, err
	}

	fetchLog, err := b.fetchLogFn(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if fetchLog != nil {
		closers = append(closers, fetchLog.Close)
	}

	registry, err := instrument.LoadRegistry(cfg.Harvest.InstrumentsPath)
	if err != nil {
		return nil, err
	}
	registry.OnChange(func(s instrument.Snapshot) {
		logger.Infof("✓ instrument registry reloaded (v%d, %d definitions)", s.Version, len(s.Instruments))
	})

	var orchestrator *harvest.Orchestrator
	client, err := broker.NewClient(transport, sink, pacer, bars,
		broker.WithRequestTimeout(cfg.Gateway.RequestTimeout()),
		broker.WithRequestDeadline(cfg.Gateway.RequestDeadline()),
		broker.WithErrorObserver(func(e broker.ErrorEvent) { orchestrator.ObserveError(e) }),
	)
	if err != nil {
		return nil, err
	}

	opts, err := harvestOptions(cfg.Harvest)
	if err != nil {
		return nil, err
	}
	orchestrator, err = harvest.New(client, registry, fetchLog, opts)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:          cfg,
		transport:    transport,
		orchestrator: orchestrator,
		closers:      closers,
		Summary:      newStartupSummary(cfg, registry),
	}, nil
}

func harvestOptions(h brcfg.HarvestConfig) (harvest.Options, error) {
	start, err := h.Start()
	if err != nil {
		return harvest.Options{}, err
	}
	end, err := h.End()
	if err != nil {
		return harvest.Options{}, err
	}
	return harvest.Options{
		Symbols:        h.Symbols,
		Start:          start,
		End:            end,
		Duration:       h.Duration,
		BarSize:        h.BarSize,
		WhatToShow:     h.WhatToShow,
		Sessions:       h.RegularHoursFlags(),
		FirstRequestID: h.FirstRequestID,
		SkipExisting:   h.SkipExisting,
	}, nil
}

func buildBridge(handler broker.EventHandler, g brcfg.GatewayConfig) (broker.Transport, error) {
	return wsbridge.New(handler,
		wsbridge.WithPath(g.URLPath),
		wsbridge.WithDialTimeout(g.DialTimeout()),
		wsbridge.WithMessageRate(g.MaxMessagesPerSecond),
	)
}

func buildBarSink(s brcfg.StorageConfig) (store.BarSink, []func() error, error) {
	if s.Format == brcfg.FormatMemory {
		logger.Warnf("storage.format=memory: batches are kept in memory only")
		return store.NewMemoryBarStore(), nil, nil
	}
	var sinks store.MultiSink
	var closers []func() error
	if s.WantsCSV() {
		w, err := csvfile.NewWriter(s.Dir)
		if err != nil {
			return nil, closers, fmt.Errorf("csv storage: %w", err)
		}
		sinks = append(sinks, w)
	}
	if s.WantsSQLite() {
		db, err := bardb.NewStore(s.SQLiteDir)
		if err != nil {
			return nil, closers, fmt.Errorf("sqlite bar storage: %w", err)
		}
		sinks = append(sinks, db)
		closers = append(closers, db.Close)
	}
	if len(sinks) == 1 {
		return sinks[0], closers, nil
	}
	return sinks, closers, nil
}

func buildFetchLog(s brcfg.StorageConfig) (store.FetchLog, error) {
	path := strings.TrimSpace(s.FetchLogPath)
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	log, err := sqlite.NewSqliteStore(path)
	if err != nil {
		return nil, fmt.Errorf("fetch log: %w", err)
	}
	return log, nil
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func runClosers(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warnf("close failed: %v", err)
		}
	}
}
