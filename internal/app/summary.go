package app

import (
	"fmt"
	"strings"

	brcfg "ibharvest/internal/config"
	"ibharvest/internal/instrument"
)

type StartupSummary struct {
	Gateway     string
	Pacing      string
	Window      string
	Request     string
	Storage     string
	Symbols     []SymbolDetail
	Instruments string
}

type SymbolDetail struct {
	Symbol   string
	Label    string
	SecType  string
	Exchange string
	Roll     string
}

func newStartupSummary(cfg *brcfg.Config, reg *instrument.Registry) *StartupSummary {
	g, p, h, s := cfg.Gateway, cfg.Pacing, cfg.Harvest, cfg.Storage
	out := &StartupSummary{
		Gateway: fmt.Sprintf("%s:%d%s client_id=%d timeout=%s deadline=%s",
			g.Host, g.Port, g.URLPath, g.ClientID, g.RequestTimeout(), g.RequestDeadline()),
		Pacing:      fmt.Sprintf("one historical request per :%02d + n*%ds", p.StartSecond, p.StepSeconds),
		Window:      fmt.Sprintf("%s .. %s sessions=%s", h.StartDate, h.EndDate, formatList(h.Sessions)),
		Request:     fmt.Sprintf("duration=%q bar=%q what=%s first_id=%d skip_existing=%v", h.Duration, h.BarSize, h.WhatToShow, h.FirstRequestID, h.SkipExisting),
		Storage:     describeStorage(s),
		Instruments: h.InstrumentsPath,
	}
	for _, sym := range h.Symbols {
		def := reg.Lookup(sym)
		codes := make([]string, 0, len(def.Roll))
		for _, rm := range def.Roll {
			codes = append(codes, fmt.Sprintf("%s<=%02d/%02d", rm.Code, rm.Month, rm.CutoffDay))
		}
		out.Symbols = append(out.Symbols, SymbolDetail{
			Symbol:   def.Symbol,
			Label:    reg.FileLabel(sym),
			SecType:  def.SecType,
			Exchange: def.Exchange,
			Roll:     strings.Join(codes, " "),
		})
	}
	return out
}

func describeStorage(s brcfg.StorageConfig) string {
	var parts []string
	if s.WantsCSV() {
		parts = append(parts, "csv:"+s.Dir)
	}
	if s.WantsSQLite() {
		parts = append(parts, "sqlite:"+s.SQLiteDir)
	}
	if s.Format == brcfg.FormatMemory {
		parts = append(parts, "memory")
	}
	if s.FetchLogPath != "" {
		parts = append(parts, "fetch_log:"+s.FetchLogPath)
	}
	return formatList(parts)
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("STARTUP SUMMARY")/2, "STARTUP SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[GATEWAY]")
	fmt.Printf("  endpoint: %s\n", s.Gateway)
	fmt.Printf("  pacing:   %s\n", s.Pacing)
	fmt.Println()

	fmt.Println("[HARVEST]")
	fmt.Printf("  window:   %s\n", s.Window)
	fmt.Printf("  request:  %s\n", s.Request)
	fmt.Printf("  storage:  %s\n", s.Storage)
	fmt.Println()

	fmt.Printf("[INSTRUMENTS] %s\n", s.Instruments)
	if len(s.Symbols) == 0 {
		fmt.Println("  (none)")
	}
	for _, d := range s.Symbols {
		fmt.Printf("  > %s (file %s) %s@%s roll %s\n", d.Symbol, d.Label, d.SecType, d.Exchange, d.Roll)
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
