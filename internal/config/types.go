package config

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Config is the harvester's top-level configuration.
type Config struct {
	App     AppConfig     `toml:"app"`
	Gateway GatewayConfig `toml:"gateway"`
	Pacing  PacingConfig  `toml:"pacing"`
	Harvest HarvestConfig `toml:"harvest"`
	Storage StorageConfig `toml:"storage"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
}

// GatewayConfig locates the broker gateway bridge.
type GatewayConfig struct {
	Host                   string `toml:"host"`
	Port                   int    `toml:"port"`
	ClientID               int    `toml:"client_id"`
	URLPath                string `toml:"url_path"`
	DialTimeoutSeconds     int    `toml:"dial_timeout_seconds"`
	RequestTimeoutSeconds  int    `toml:"request_timeout_seconds"`
	RequestDeadlineSeconds int    `toml:"request_deadline_seconds"`
	MaxMessagesPerSecond   int    `toml:"max_messages_per_second"`
	FrameLogPath           string `toml:"frame_log_path"`
}

func (g GatewayConfig) DialTimeout() time.Duration {
	return time.Duration(g.DialTimeoutSeconds) * time.Second
}

// RequestTimeout is the idle ceiling of every bounded wait.
func (g GatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(g.RequestTimeoutSeconds) * time.Second
}

// RequestDeadline caps a whole wait; zero means no cap.
func (g GatewayConfig) RequestDeadline() time.Duration {
	return time.Duration(g.RequestDeadlineSeconds) * time.Second
}

type PacingConfig struct {
	StepSeconds int `toml:"step_seconds"`
	StartSecond int `toml:"start_second"`
}

// Session names accepted in harvest.sessions.
const (
	SessionRegular = "rth"
	SessionAll     = "all"
)

// HarvestConfig drives the date by symbol matrix.
type HarvestConfig struct {
	Symbols         []string `toml:"symbols"`
	StartDate       string   `toml:"start_date"`
	EndDate         string   `toml:"end_date"`
	Duration        string   `toml:"duration"`
	BarSize         string   `toml:"bar_size"`
	WhatToShow      string   `toml:"what_to_show"`
	Sessions        []string `toml:"sessions"`
	FirstRequestID  int64    `toml:"first_request_id"`
	SkipExisting    bool     `toml:"skip_existing"`
	InstrumentsPath string   `toml:"instruments_path"`
}

func (h HarvestConfig) Start() (time.Time, error) {
	return parseDate("harvest.start_date", h.StartDate)
}

func (h HarvestConfig) End() (time.Time, error) {
	return parseDate("harvest.end_date", h.EndDate)
}

// RegularHoursFlags maps harvest.sessions to use-RTH flags in order.
func (h HarvestConfig) RegularHoursFlags() []bool {
	out := make([]bool, 0, len(h.Sessions))
	for _, s := range h.Sessions {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case SessionRegular:
			out = append(out, true)
		case SessionAll:
			out = append(out, false)
		}
	}
	return out
}

func parseDate(key, raw string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", key, err)
	}
	return t, nil
}

// Storage formats.
const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
	FormatBoth   = "both"
	FormatMemory = "memory"
)

type StorageConfig struct {
	Format       string `toml:"format"`
	Dir          string `toml:"dir"`
	SQLiteDir    string `toml:"sqlite_dir"`
	FetchLogPath string `toml:"fetch_log_path"`
}

func (s StorageConfig) WantsCSV() bool {
	f := strings.ToLower(s.Format)
	return f == FormatCSV || f == FormatBoth
}

func (s StorageConfig) WantsSQLite() bool {
	f := strings.ToLower(s.Format)
	return f == FormatSQLite || f == FormatBoth
}

// keySet tracks field paths set explicitly in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
