package broker

import (
	"fmt"
	"strings"
)

// Contract identifies an instrument on the gateway. A partially filled
// contract is a lookup spec; a contract returned by ResolveInstrument carries
// the gateway's full description.
type Contract struct {
	ConID                        int64  `json:"con_id,omitempty"`
	Symbol                       string `json:"symbol"`
	SecType                      string `json:"sec_type,omitempty"`
	Exchange                     string `json:"exchange,omitempty"`
	PrimaryExchange              string `json:"primary_exchange,omitempty"`
	Currency                     string `json:"currency,omitempty"`
	LocalSymbol                  string `json:"local_symbol,omitempty"`
	LastTradeDateOrContractMonth string `json:"last_trade_date_or_contract_month,omitempty"`
	Multiplier                   string `json:"multiplier,omitempty"`
	TradingClass                 string `json:"trading_class,omitempty"`
	IncludeExpired               bool   `json:"include_expired,omitempty"`
}

func (c Contract) String() string {
	parts := []string{c.Symbol}
	if c.LocalSymbol != "" {
		parts = append(parts, "local="+c.LocalSymbol)
	}
	if c.SecType != "" {
		parts = append(parts, "type="+c.SecType)
	}
	if c.Exchange != "" {
		parts = append(parts, "exch="+c.Exchange)
	}
	if c.ConID != 0 {
		parts = append(parts, fmt.Sprintf("conid=%d", c.ConID))
	}
	return strings.Join(parts, " ")
}

// ContractDetails is one candidate match from a contract lookup. Summary is
// nil when the gateway sent a record without a contract description.
type ContractDetails struct {
	Summary    *Contract `json:"summary,omitempty"`
	MarketName string    `json:"market_name,omitempty"`
	LongName   string    `json:"long_name,omitempty"`
	MinTick    float64   `json:"min_tick,omitempty"`
	TimeZoneID string    `json:"time_zone_id,omitempty"`
}

// LocalSymbol returns the summary's local symbol and whether it is present.
func (d ContractDetails) LocalSymbol() (string, bool) {
	if d.Summary == nil {
		return "", false
	}
	return d.Summary.LocalSymbol, d.Summary.LocalSymbol != ""
}
