package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one historical price bar as reported by the gateway. Time keeps the
// gateway's own representation so persisted rows match what was received.
type Bar struct {
	Time   string          `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// NewBar builds a bar from float fields.
func NewBar(ts string, open, high, low, close, volume float64) Bar {
	return Bar{
		Time:   ts,
		Open:   decimal.NewFromFloat(open),
		High:   decimal.NewFromFloat(high),
		Low:    decimal.NewFromFloat(low),
		Close:  decimal.NewFromFloat(close),
		Volume: decimal.NewFromFloat(volume),
	}
}

const (
	// EndTimeLayout is the end-date-time layout accepted by historical requests.
	EndTimeLayout  = "20060102 15:04:05"
	intradayLayout = "20060102  15:04:05"
	dailyLayout    = "20060102"
)

// FormatEndTime renders t in the gateway's request layout.
func FormatEndTime(t time.Time) string {
	return t.Format(EndTimeLayout)
}

// ParseBarTime decodes a bar timestamp. Intraday bars use "yyyymmdd  HH:MM:SS"
// (formatDate=1), daily bars "yyyymmdd", and formatDate=2 gives epoch seconds.
func ParseBarTime(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty bar time")
	}
	if len(s) > 8 && !strings.Contains(s, " ") {
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(secs, 0).In(loc), nil
		}
	}
	if len(s) == len(dailyLayout) {
		return time.ParseInLocation(dailyLayout, s, loc)
	}
	if strings.Contains(s, "  ") {
		return time.ParseInLocation(intradayLayout, s, loc)
	}
	return time.ParseInLocation(EndTimeLayout, s, loc)
}
