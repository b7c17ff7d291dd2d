package broker

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("broker: transport not connected")

// HistoricalQuery carries the parameters of one historical bar request.
type HistoricalQuery struct {
	EndDateTime  string `json:"end_date_time"`
	Duration     string `json:"duration"`
	BarSize      string `json:"bar_size"`
	WhatToShow   string `json:"what_to_show"`
	UseRTH       bool   `json:"use_rth"`
	FormatDate   int    `json:"format_date"`
	KeepUpToDate bool   `json:"keep_up_to_date"`
}

// Transport is the gateway connection. Submit calls are one-way: replies
// arrive asynchronously through the EventHandler the transport was built with.
type Transport interface {
	Connect(ctx context.Context, host string, port int, clientID int) error
	// Run processes inbound messages until ctx is done or the connection drops.
	Run(ctx context.Context) error
	RequestContractDetails(reqID int64, contract Contract) error
	RequestHistoricalData(reqID int64, contract Contract, query HistoricalQuery) error
	CancelHistoricalData(reqID int64) error
	Disconnect() error
}

// SlotAcquirer gates historical requests.
type SlotAcquirer interface {
	AcquireSlot(ctx context.Context) (int, error)
}
