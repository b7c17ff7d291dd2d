package config

import (
	"fmt"
	"strings"

	"ibharvest/internal/market"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Pacing.validate(); err != nil {
		return err
	}
	if err := c.Harvest.validate(); err != nil {
		return err
	}
	return c.Storage.validate()
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
	return nil
}

func (g *GatewayConfig) validate() error {
	if strings.TrimSpace(g.Host) == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if g.Port <= 0 || g.Port > 65535 {
		return fmt.Errorf("gateway.port must be within 1..65535, got %d", g.Port)
	}
	if g.ClientID < 0 {
		return fmt.Errorf("gateway.client_id must be >= 0")
	}
	if !strings.HasPrefix(g.URLPath, "/") {
		return fmt.Errorf("gateway.url_path must start with /")
	}
	if g.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("gateway.request_timeout_seconds must be > 0")
	}
	if g.RequestDeadlineSeconds < 0 {
		return fmt.Errorf("gateway.request_deadline_seconds must be >= 0")
	}
	if g.RequestDeadlineSeconds > 0 && g.RequestDeadlineSeconds < g.RequestTimeoutSeconds {
		return fmt.Errorf("gateway.request_deadline_seconds (%d) must not be below request_timeout_seconds (%d)",
			g.RequestDeadlineSeconds, g.RequestTimeoutSeconds)
	}
	return nil
}

func (p *PacingConfig) validate() error {
	if p.StepSeconds <= 0 || p.StepSeconds >= 60 {
		return fmt.Errorf("pacing.step_seconds must be within 1..59, got %d", p.StepSeconds)
	}
	if p.StartSecond < 0 || p.StartSecond >= 60 {
		return fmt.Errorf("pacing.start_second must be within 0..59, got %d", p.StartSecond)
	}
	return nil
}

func (h *HarvestConfig) validate() error {
	if len(h.Symbols) == 0 {
		return fmt.Errorf("harvest.symbols requires at least one symbol")
	}
	start, err := h.Start()
	if err != nil {
		return err
	}
	end, err := h.End()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("harvest.end_date %s is before start_date %s", h.EndDate, h.StartDate)
	}
	if len(h.Sessions) == 0 {
		return fmt.Errorf("harvest.sessions requires at least one of %s, %s", SessionRegular, SessionAll)
	}
	for _, s := range h.Sessions {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case SessionRegular, SessionAll:
		default:
			return fmt.Errorf("harvest.sessions contains unknown session %q", s)
		}
	}
	if _, ok := market.ParseLookback(h.Duration); !ok {
		return fmt.Errorf("harvest.duration %q is not a valid lookback such as \"1 D\"", h.Duration)
	}
	if _, ok := market.ParseBarSize(h.BarSize); !ok {
		return fmt.Errorf("harvest.bar_size %q is not a valid bar size such as \"1 min\"", h.BarSize)
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Format {
	case FormatCSV, FormatSQLite, FormatBoth, FormatMemory:
	default:
		return fmt.Errorf("storage.format must be one of csv, sqlite, both, memory; got %q", s.Format)
	}
	if s.WantsCSV() && strings.TrimSpace(s.Dir) == "" {
		return fmt.Errorf("storage.dir is required for csv output")
	}
	if s.WantsSQLite() && strings.TrimSpace(s.SQLiteDir) == "" {
		return fmt.Errorf("storage.sqlite_dir is required for sqlite output")
	}
	return nil
}
