package csvfile

import (
	"fmt"

	"ibharvest/internal/market"

	"github.com/shopspring/decimal"
)

func parseRow(row []string) (market.Bar, error) {
	if len(row) != len(Header) {
		return market.Bar{}, fmt.Errorf("expected %d columns, got %d", len(Header), len(row))
	}
	vals := make([]decimal.Decimal, 5)
	for i := range vals {
		d, err := decimal.NewFromString(row[i+1])
		if err != nil {
			return market.Bar{}, fmt.Errorf("column %s: %w", Header[i+1], err)
		}
		vals[i] = d
	}
	return market.Bar{
		Time:   row[0],
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}
