package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "harvest:\n  symbols: [nq, es, NQ]\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Gateway.Host)
	assert.Equal(t, 4001, cfg.Gateway.Port)
	assert.Equal(t, 3, cfg.Gateway.ClientID)
	assert.Equal(t, 10*time.Second, cfg.Gateway.RequestTimeout())
	assert.Zero(t, cfg.Gateway.RequestDeadline())
	assert.Equal(t, 10, cfg.Pacing.StepSeconds)
	assert.Equal(t, []string{"NQ", "ES"}, cfg.Harvest.Symbols)
	assert.Equal(t, []bool{true, false}, cfg.Harvest.RegularHoursFlags())
	assert.Equal(t, "BID_ASK", cfg.Harvest.WhatToShow)
	assert.Equal(t, int64(1), cfg.Harvest.FirstRequestID)
	assert.True(t, cfg.Storage.WantsCSV())
	assert.False(t, cfg.Storage.WantsSQLite())

	start, err := cfg.Harvest.Start()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2016, 6, 23, 0, 0, 0, 0, time.UTC), start)
}

func TestLoadFollowsIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "gateway.yaml", "gateway:\n  host: 10.0.0.5\n  port: 4002\n")
	path := writeConfig(t, dir, "config.yaml", "include: [gateway.yaml]\ngateway:\n  port: 7497\nstorage:\n  format: both\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Gateway.Host)
	assert.Equal(t, 7497, cfg.Gateway.Port)
	assert.True(t, cfg.Storage.WantsCSV())
	assert.True(t, cfg.Storage.WantsSQLite())
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "include cycle")
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "gateway:\n  host: 127.0.0.1\n")
	t.Setenv("IBHARVEST_GATEWAY_HOST", "gw.internal")
	t.Setenv("IBHARVEST_GATEWAY_PORT", "4100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gw.internal", cfg.Gateway.Host)
	assert.Equal(t, 4100, cfg.Gateway.Port)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, ResolvePath())
	t.Setenv(EnvConfigPath, "/etc/ibharvest.yaml")
	assert.Equal(t, "/etc/ibharvest.yaml", ResolvePath())
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"bad dates":     "harvest:\n  start_date: \"2017-01-02\"\n  end_date: \"2017-01-01\"\n",
		"bad date fmt":  "harvest:\n  start_date: 06/23/2016\n",
		"bad session":   "harvest:\n  sessions: [rth, eth]\n",
		"bad step":      "pacing:\n  step_seconds: 60\n",
		"bad start sec": "pacing:\n  start_second: 75\n",
		"bad format":    "storage:\n  format: parquet\n",
		"bad bar size":  "harvest:\n  bar_size: \"1 fortnight\"\n",
		"bad duration":  "harvest:\n  duration: \"1 DAY\"\n",
		"bad deadline":  "gateway:\n  request_timeout_seconds: 10\n  request_deadline_seconds: 5\n",
		"empty symbols": "harvest:\n  symbols: []\n",
		"bad log fmt":   "app:\n  log_format: xml\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"NQ", "YM"}, cfg.Harvest.Symbols)
	assert.Equal(t, 4001, cfg.Gateway.Port)
	assert.True(t, cfg.Harvest.SkipExisting)
}
