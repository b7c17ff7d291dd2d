package broker

import "ibharvest/internal/market"

// NoRequestID tags errors that do not belong to any request.
const NoRequestID int64 = -1

// Event is one push from the gateway. The set of variants is closed.
type Event interface {
	RequestID() int64
	isEvent()
}

// ErrorEvent is reported through the sink's error queue, never a collector.
type ErrorEvent struct {
	ReqID   int64
	Code    int
	Message string
}

// ContractRecord carries one candidate of a contract lookup.
type ContractRecord struct {
	ReqID   int64
	Details ContractDetails
}

// ContractEnd terminates a contract lookup.
type ContractEnd struct {
	ReqID int64
}

// BarEvent carries one historical bar.
type BarEvent struct {
	ReqID int64
	Bar   market.Bar
}

// BarsEnd terminates a historical bar request.
type BarsEnd struct {
	ReqID int64
	Start string
	End   string
}

func (e ErrorEvent) RequestID() int64     { return e.ReqID }
func (e ContractRecord) RequestID() int64 { return e.ReqID }
func (e ContractEnd) RequestID() int64    { return e.ReqID }
func (e BarEvent) RequestID() int64       { return e.ReqID }
func (e BarsEnd) RequestID() int64        { return e.ReqID }

func (ErrorEvent) isEvent()     {}
func (ContractRecord) isEvent() {}
func (ContractEnd) isEvent()    {}
func (BarEvent) isEvent()       {}
func (BarsEnd) isEvent()        {}

// Global reports whether the error is not tied to a request.
func (e ErrorEvent) Global() bool { return e.ReqID < 0 }

func isTerminator(ev Event) bool {
	switch ev.(type) {
	case ContractEnd, BarsEnd:
		return true
	default:
		return false
	}
}
