package instrument

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ibharvest/internal/broker"
	"ibharvest/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Definition describes how one symbol is looked up on the gateway. Empty
// fields inherit from the file's defaults and then from the built-in ones.
type Definition struct {
	Symbol         string    `mapstructure:"symbol" yaml:"symbol" json:"symbol,omitempty"`
	Label          string    `mapstructure:"label" yaml:"label" json:"label,omitempty"`
	SecType        string    `mapstructure:"sec_type" yaml:"sec_type" json:"sec_type,omitempty"`
	Exchange       string    `mapstructure:"exchange" yaml:"exchange" json:"exchange,omitempty"`
	Currency       string    `mapstructure:"currency" yaml:"currency" json:"currency,omitempty"`
	IncludeExpired *bool     `mapstructure:"include_expired" yaml:"include_expired" json:"include_expired,omitempty"`
	Roll           RollTable `mapstructure:"roll" yaml:"roll" json:"roll,omitempty"`
}

// FileConfig maps instruments.yaml.
type FileConfig struct {
	Defaults    Definition            `yaml:"defaults"`
	Instruments map[string]Definition `yaml:"instruments"`
}

// Snapshot is an immutable view of the loaded definitions.
type Snapshot struct {
	Version     int64
	LoadedAt    time.Time
	Defaults    Definition
	Instruments map[string]Definition
}

type ChangeListener func(Snapshot)

var builtinDefaults = Definition{
	SecType:        "FUT+CONTFUT",
	Exchange:       "GLOBEX",
	IncludeExpired: boolPtr(true),
	Roll:           QuarterlyRoll,
}

// Registry serves instrument definitions, reloading them when the backing
// file changes.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry loads path and watches it. An empty path yields a registry
// with only the built-in defaults.
func NewRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewStaticRegistry(nil), nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read instrument file failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("[instrument] reload failed, keeping version %d: %v", r.Snapshot().Version, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// LoadRegistry is NewRegistry that tolerates a missing file.
func LoadRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			logger.Warnf("[instrument] %s not found, using built-in defaults", path)
			return NewStaticRegistry(nil), nil
		}
	}
	return NewRegistry(path)
}

// NewStaticRegistry serves defs without any backing file.
func NewStaticRegistry(defs map[string]Definition) *Registry {
	instruments := make(map[string]Definition, len(defs))
	for name, def := range defs {
		def = normalize(name, def)
		instruments[def.Symbol] = def
	}
	return &Registry{snapshot: Snapshot{
		Version:     1,
		LoadedAt:    time.Now(),
		Instruments: instruments,
	}}
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// OnChange registers fn to run after every successful reload.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Lookup returns the effective definition of symbol.
func (r *Registry) Lookup(symbol string) Definition {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	r.mu.RLock()
	def, ok := r.snapshot.Instruments[symbol]
	defaults := r.snapshot.Defaults
	r.mu.RUnlock()
	if !ok {
		def = Definition{Symbol: symbol}
	}
	return merge(merge(def, defaults), builtinDefaults)
}

// Spec builds the lookup contract for symbol on date together with the local
// symbol used to pick among several candidates.
func (r *Registry) Spec(symbol string, date time.Time) (broker.Contract, string, error) {
	def := r.Lookup(symbol)
	local, err := def.Roll.LocalSymbol(def.Symbol, date)
	if err != nil {
		return broker.Contract{}, "", fmt.Errorf("instrument %s: %w", def.Symbol, err)
	}
	return broker.Contract{
		Symbol:         def.Symbol,
		SecType:        def.SecType,
		Exchange:       def.Exchange,
		Currency:       def.Currency,
		LocalSymbol:    local,
		IncludeExpired: def.IncludeExpired != nil && *def.IncludeExpired,
	}, local, nil
}

// FileLabel names persisted batches of symbol.
func (r *Registry) FileLabel(symbol string) string {
	def := r.Lookup(symbol)
	if def.Label != "" {
		return def.Label
	}
	return def.Symbol
}

func (r *Registry) reload() error {
	cfg, err := readInstrumentFile(r.path)
	if err != nil {
		return err
	}
	if err := validateDefinition("defaults", cfg.Defaults); err != nil {
		return err
	}
	instruments := make(map[string]Definition, len(cfg.Instruments))
	for name, def := range cfg.Instruments {
		if err := validateDefinition(name, def); err != nil {
			return err
		}
		def = normalize(name, def)
		instruments[def.Symbol] = def
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:     r.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		Defaults:    cfg.Defaults,
		Instruments: instruments,
	}
	r.mu.Unlock()
	logger.Infof("[instrument] loaded %d definitions from %s: %s", len(instruments), filepath.Base(r.path), strings.Join(sortedKeys(instruments), ","))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("instrument listener")
			cb(snap)
		}(fn)
	}
}

func readInstrumentFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read instrument file failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse instrument file failed: %w", err)
	}
	return cfg, nil
}

func normalize(name string, def Definition) Definition {
	def.Symbol = strings.ToUpper(strings.TrimSpace(def.Symbol))
	if def.Symbol == "" {
		def.Symbol = strings.ToUpper(strings.TrimSpace(name))
	}
	def.Label = strings.TrimSpace(def.Label)
	return def
}

func merge(def, fallback Definition) Definition {
	if def.SecType == "" {
		def.SecType = fallback.SecType
	}
	if def.Exchange == "" {
		def.Exchange = fallback.Exchange
	}
	if def.Currency == "" {
		def.Currency = fallback.Currency
	}
	if def.IncludeExpired == nil {
		def.IncludeExpired = fallback.IncludeExpired
	}
	if len(def.Roll) == 0 {
		def.Roll = fallback.Roll
	}
	return def
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := src
	dst.Instruments = make(map[string]Definition, len(src.Instruments))
	for k, v := range src.Instruments {
		dst.Instruments[k] = v
	}
	return dst
}

func sortedKeys(m map[string]Definition) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func boolPtr(v bool) *bool { return &v }
