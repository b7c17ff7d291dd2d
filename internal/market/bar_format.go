package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Bars []Bar

// Summary renders a one-line digest of the batch for logs.
func (bs Bars) Summary() string {
	if len(bs) == 0 {
		return "bars=0"
	}
	first := bs[0]
	last := bs[len(bs)-1]
	low := first.Low
	high := first.High
	volume := decimal.Zero
	for _, bar := range bs {
		if bar.Low.LessThan(low) {
			low = bar.Low
		}
		if bar.High.GreaterThan(high) {
			high = bar.High
		}
		volume = volume.Add(bar.Volume)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("bars=%d", len(bs)))
	sb.WriteString(fmt.Sprintf(" window=%s..%s", strings.TrimSpace(first.Time), strings.TrimSpace(last.Time)))
	sb.WriteString(fmt.Sprintf(" range=%s-%s", low.String(), high.String()))
	sb.WriteString(fmt.Sprintf(" close=%s volume=%s", last.Close.String(), volume.String()))
	return sb.String()
}
