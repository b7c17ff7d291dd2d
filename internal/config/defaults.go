package config

import (
	"strings"
)

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogFormat    = "text"
	defaultGatewayHost     = "127.0.0.1"
	defaultGatewayPort     = 4001
	defaultGatewayClientID = 3
	defaultGatewayPath     = "/v1/api"
	defaultDialTimeout     = 10
	defaultRequestTimeout  = 10
	defaultMessagesPerSec  = 45
	defaultPacingStep      = 10
	defaultStartDate       = "2016-06-23"
	defaultEndDate         = "2017-12-31"
	defaultDuration        = "1 D"
	defaultBarSize         = "1 min"
	defaultWhatToShow      = "BID_ASK"
	defaultFirstRequestID  = 1
	defaultInstrumentsPath = "configs/instruments.yaml"
	defaultStorageFormat   = FormatCSV
	defaultStorageDir      = "data/bars"
	defaultSQLiteDir       = "data/db"
	defaultFetchLogPath    = "data/fetch_log.db"
)

var (
	defaultSymbols  = []string{"NQ", "YM"}
	defaultSessions = []string{SessionRegular, SessionAll}
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Gateway.applyDefaults(keys)
	c.Pacing.applyDefaults(keys)
	c.Harvest.applyDefaults(keys)
	c.Storage.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
	)
}

func (g *GatewayConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("gateway.host", &g.Host, defaultGatewayHost),
		intFieldDefault("gateway.port", &g.Port, defaultGatewayPort),
		intFieldDefault("gateway.client_id", &g.ClientID, defaultGatewayClientID),
		stringFieldDefault("gateway.url_path", &g.URLPath, defaultGatewayPath),
		intFieldDefault("gateway.dial_timeout_seconds", &g.DialTimeoutSeconds, defaultDialTimeout),
		intFieldDefault("gateway.request_timeout_seconds", &g.RequestTimeoutSeconds, defaultRequestTimeout),
		intFieldDefault("gateway.max_messages_per_second", &g.MaxMessagesPerSecond, defaultMessagesPerSec),
	)
}

func (p *PacingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("pacing.step_seconds", &p.StepSeconds, defaultPacingStep),
	)
}

func (h *HarvestConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "harvest.symbols",
			need:  func() bool { return len(h.Symbols) == 0 },
			apply: func() { h.Symbols = append([]string(nil), defaultSymbols...) },
		},
		fieldDefault{
			key:   "harvest.sessions",
			need:  func() bool { return len(h.Sessions) == 0 },
			apply: func() { h.Sessions = append([]string(nil), defaultSessions...) },
		},
		stringFieldDefault("harvest.start_date", &h.StartDate, defaultStartDate),
		stringFieldDefault("harvest.end_date", &h.EndDate, defaultEndDate),
		stringFieldDefault("harvest.duration", &h.Duration, defaultDuration),
		stringFieldDefault("harvest.bar_size", &h.BarSize, defaultBarSize),
		stringFieldDefault("harvest.what_to_show", &h.WhatToShow, defaultWhatToShow),
		stringFieldDefault("harvest.instruments_path", &h.InstrumentsPath, defaultInstrumentsPath),
		fieldDefault{
			key:   "harvest.first_request_id",
			need:  func() bool { return h.FirstRequestID <= 0 },
			apply: func() { h.FirstRequestID = defaultFirstRequestID },
		},
	)
	h.Symbols = normalizeSymbols(h.Symbols)
}

func (s *StorageConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("storage.format", &s.Format, defaultStorageFormat),
		stringFieldDefault("storage.dir", &s.Dir, defaultStorageDir),
		stringFieldDefault("storage.sqlite_dir", &s.SQLiteDir, defaultSQLiteDir),
		stringFieldDefault("storage.fetch_log_path", &s.FetchLogPath, defaultFetchLogPath),
	)
	s.Format = strings.ToLower(strings.TrimSpace(s.Format))
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeSymbols(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}
