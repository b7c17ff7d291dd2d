package app

import (
	"context"
	"fmt"

	"ibharvest/internal/broker"
	brcfg "ibharvest/internal/config"
	"ibharvest/internal/harvest"
	"ibharvest/internal/logger"

	"golang.org/x/sync/errgroup"
)

// App connects to the gateway, runs one harvest and shuts the connection down.
type App struct {
	cfg          *brcfg.Config
	transport    broker.Transport
	orchestrator *harvest.Orchestrator
	closers      []func() error

	Summary *StartupSummary
	Result  harvest.Summary
}

// NewApp builds the application from cfg without connecting.
func NewApp(cfg *brcfg.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, opts)
}

// Run connects, harvests and disconnects. A failed connect is returned
// unchanged; the event loop and the harvest then run side by side until the
// harvest ends or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer runClosers(a.closers)
	if a.Summary != nil {
		a.Summary.Print()
	}

	g := a.cfg.Gateway
	if err := a.transport.Connect(ctx, g.Host, g.Port, g.ClientID); err != nil {
		return fmt.Errorf("connect gateway %s:%d: %w", g.Host, g.Port, err)
	}

	group, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoop := context.WithCancel(gctx)
	defer stopLoop()

	group.Go(func() error {
		if err := a.transport.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			logger.Errorf("gateway event loop ended: %v", err)
		}
		return nil
	})

	group.Go(func() error {
		defer stopLoop()
		sum, err := a.orchestrator.Run(gctx)
		a.Result = sum
		return err
	})

	err := group.Wait()
	if derr := a.transport.Disconnect(); derr != nil {
		logger.Warnf("gateway disconnect: %v", derr)
	}
	return err
}

func (a *App) RunID() string {
	if a == nil || a.orchestrator == nil {
		return ""
	}
	return a.orchestrator.RunID()
}
