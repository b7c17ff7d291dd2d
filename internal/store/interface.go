package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ibharvest/internal/market"
	"ibharvest/internal/store/model"
)

var ErrEmptyKey = errors.New("store: batch key requires symbol and date")

// BatchKey identifies one persisted batch. Writing the same key twice
// replaces the earlier batch.
type BatchKey struct {
	Symbol           string
	Date             time.Time
	RegularHoursOnly bool
}

func (k BatchKey) Validate() error {
	if strings.TrimSpace(k.Symbol) == "" || k.Date.IsZero() {
		return ErrEmptyKey
	}
	return nil
}

// DateString renders the key date as yyyymmdd.
func (k BatchKey) DateString() string {
	return k.Date.Format("20060102")
}

// SessionFlag is "1" for regular trading hours only and "0" otherwise.
func (k BatchKey) SessionFlag() string {
	if k.RegularHoursOnly {
		return "1"
	}
	return "0"
}

func (k BatchKey) String() string {
	return fmt.Sprintf("%s_%s_%s", strings.ToUpper(strings.TrimSpace(k.Symbol)), k.DateString(), k.SessionFlag())
}

// BarSink persists batches of bars. WriteBatch returns a human-readable
// destination for logs.
type BarSink interface {
	WriteBatch(ctx context.Context, key BatchKey, bars []market.Bar) (string, error)
}

// FetchLog records the outcome of each historical fetch.
type FetchLog interface {
	Record(ctx context.Context, rec *model.FetchRecordModel) error
	RecordError(ctx context.Context, rec *model.GatewayErrorModel) error
	// Completed reports whether key already has a stored batch with bars.
	Completed(ctx context.Context, key BatchKey) (bool, error)
	Close() error
}

// MultiSink writes every batch to each sink in order and stops at the first
// failure.
type MultiSink []BarSink

func (m MultiSink) WriteBatch(ctx context.Context, key BatchKey, bars []market.Bar) (string, error) {
	dests := make([]string, 0, len(m))
	for _, sink := range m {
		if sink == nil {
			continue
		}
		dest, err := sink.WriteBatch(ctx, key, bars)
		if err != nil {
			return strings.Join(dests, ","), err
		}
		dests = append(dests, dest)
	}
	return strings.Join(dests, ","), nil
}
