package wsbridge

import (
	"encoding/json"
	"fmt"

	"ibharvest/internal/broker"
	"ibharvest/internal/market"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Inbound frame types.
const (
	typeError              = "error"
	typeContractDetails    = "contract_details"
	typeContractDetailsEnd = "contract_details_end"
	typeHistoricalData     = "historical_data"
	typeHistoricalDataEnd  = "historical_data_end"
)

// Outbound frame types.
const (
	typeReqContractDetails = "req_contract_details"
	typeReqHistoricalData  = "req_historical_data"
	typeCancelHistorical   = "cancel_historical_data"
)

type outbound struct {
	Type     string                  `json:"type"`
	ReqID    int64                   `json:"req_id"`
	Contract *broker.Contract        `json:"contract,omitempty"`
	Query    *broker.HistoricalQuery `json:"query,omitempty"`
}

// decodeFrame turns one inbound JSON frame into an event. Frames of unknown
// type yield (nil, nil).
func decodeFrame(raw []byte) (broker.Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid json frame")
	}
	frame := gjson.ParseBytes(raw)
	kind := frame.Get("type").String()
	id := broker.NoRequestID
	if r := frame.Get("req_id"); r.Exists() {
		id = r.Int()
	}
	switch kind {
	case typeError:
		return broker.ErrorEvent{
			ReqID:   id,
			Code:    int(frame.Get("code").Int()),
			Message: frame.Get("message").String(),
		}, nil
	case typeContractDetails:
		var details broker.ContractDetails
		if d := frame.Get("details"); d.IsObject() {
			if err := json.Unmarshal([]byte(d.Raw), &details); err != nil {
				return nil, fmt.Errorf("decode contract details req %d: %w", id, err)
			}
		}
		return broker.ContractRecord{ReqID: id, Details: details}, nil
	case typeContractDetailsEnd:
		return broker.ContractEnd{ReqID: id}, nil
	case typeHistoricalData:
		b := frame.Get("bar")
		if !b.IsObject() {
			return nil, fmt.Errorf("historical frame req %d without bar", id)
		}
		return broker.BarEvent{ReqID: id, Bar: market.Bar{
			Time:   b.Get("time").String(),
			Open:   decimalOf(b.Get("open")),
			High:   decimalOf(b.Get("high")),
			Low:    decimalOf(b.Get("low")),
			Close:  decimalOf(b.Get("close")),
			Volume: decimalOf(b.Get("volume")),
		}}, nil
	case typeHistoricalDataEnd:
		return broker.BarsEnd{
			ReqID: id,
			Start: frame.Get("start").String(),
			End:   frame.Get("end").String(),
		}, nil
	default:
		return nil, nil
	}
}

func decimalOf(r gjson.Result) decimal.Decimal {
	if !r.Exists() {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(r.String()); err == nil {
		return d
	}
	return decimal.NewFromFloat(r.Float())
}
