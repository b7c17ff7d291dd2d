package instrument

import (
	"fmt"
	"strings"
	"time"
)

// RollMonth is one delivery month of a futures roll table. Dates up to and
// including CutoffDay of Month trade that contract.
type RollMonth struct {
	Code      string `mapstructure:"code" yaml:"code" json:"code"`
	Month     int    `mapstructure:"month" yaml:"month" json:"month"`
	CutoffDay int    `mapstructure:"cutoff_day" yaml:"cutoff_day" json:"cutoff_day"`
}

// RollTable lists delivery months in calendar order.
type RollTable []RollMonth

// QuarterlyRoll is the equity index futures cycle.
var QuarterlyRoll = RollTable{
	{Code: "H", Month: 3, CutoffDay: 20},
	{Code: "M", Month: 6, CutoffDay: 20},
	{Code: "U", Month: 9, CutoffDay: 20},
	{Code: "Z", Month: 12, CutoffDay: 20},
}

// Contract returns the month code and single year digit of the contract
// trading on date. After the last cutoff of a year the first month of the
// following year is used.
func (t RollTable) Contract(date time.Time) (string, int, error) {
	if len(t) == 0 {
		return "", 0, fmt.Errorf("empty roll table")
	}
	y, m, d := date.Date()
	for _, rm := range t {
		if int(m) < rm.Month || (int(m) == rm.Month && d <= rm.CutoffDay) {
			return rm.Code, y % 10, nil
		}
	}
	return t[0].Code, (y + 1) % 10, nil
}

// LocalSymbol renders the exchange local symbol, e.g. NQU6.
func (t RollTable) LocalSymbol(symbol string, date time.Time) (string, error) {
	code, digit, err := t.Contract(date)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s%d", strings.ToUpper(symbol), code, digit), nil
}

func (t RollTable) validate() error {
	prev := 0
	for _, rm := range t {
		if rm.Month <= prev {
			return fmt.Errorf("roll months must be increasing, got %d after %d", rm.Month, prev)
		}
		prev = rm.Month
	}
	return nil
}
