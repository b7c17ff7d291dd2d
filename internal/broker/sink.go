package broker

import (
	"sync"

	"ibharvest/internal/logger"
	"ibharvest/internal/market"
)

// EventHandler receives every push from a transport.
type EventHandler interface {
	Dispatch(ev Event)
}

// Sink fans gateway events out to per-request collectors and keeps errors in
// a global queue. It is safe for concurrent use by the transport's read loop
// and the requesting goroutine.
type Sink struct {
	mu         sync.Mutex
	collectors map[int64]*Collector
	retired    map[int64]struct{}

	errMu  sync.Mutex
	errors []ErrorEvent

	dropped int
}

func NewSink() *Sink {
	return &Sink{
		collectors: make(map[int64]*Collector),
		retired:    make(map[int64]struct{}),
	}
}

// Open returns the collector for id, creating it when needed. Callers open
// the collector before submitting the request so no reply can be missed.
func (s *Sink) Open(id int64) *Collector {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collectors[id]; ok {
		return c
	}
	if _, ok := s.retired[id]; ok {
		logger.Warnf("[broker] request id %d reopened after retire", id)
		delete(s.retired, id)
	}
	c := newCollector(id)
	s.collectors[id] = c
	return c
}

// Lookup returns the live collector for id.
func (s *Sink) Lookup(id int64) (*Collector, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collectors[id]
	return c, ok
}

// Retire discards the collector for id. Events that arrive later for id are
// dropped.
func (s *Sink) Retire(id int64) {
	s.mu.Lock()
	delete(s.collectors, id)
	s.retired[id] = struct{}{}
	s.mu.Unlock()
}

// Dispatch routes ev. Errors go to the error queue; everything else to the
// collector of its request id, created lazily unless the id was retired.
func (s *Sink) Dispatch(ev Event) {
	if ev == nil {
		return
	}
	if e, ok := ev.(ErrorEvent); ok {
		s.errMu.Lock()
		s.errors = append(s.errors, e)
		s.errMu.Unlock()
		return
	}
	id := ev.RequestID()
	s.mu.Lock()
	if _, gone := s.retired[id]; gone {
		s.dropped++
		s.mu.Unlock()
		logger.Debugf("[broker] late %T for retired request %d dropped", ev, id)
		return
	}
	c, ok := s.collectors[id]
	if !ok {
		c = newCollector(id)
		s.collectors[id] = c
	}
	s.mu.Unlock()
	if !c.Push(ev) {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		logger.Debugf("[broker] %T for finished request %d dropped", ev, id)
	}
}

func (s *Sink) Error(id int64, code int, message string) {
	s.Dispatch(ErrorEvent{ReqID: id, Code: code, Message: message})
}

func (s *Sink) ContractDetails(id int64, details ContractDetails) {
	s.Dispatch(ContractRecord{ReqID: id, Details: details})
}

func (s *Sink) ContractDetailsEnd(id int64) {
	s.Dispatch(ContractEnd{ReqID: id})
}

func (s *Sink) HistoricalBar(id int64, bar market.Bar) {
	s.Dispatch(BarEvent{ReqID: id, Bar: bar})
}

func (s *Sink) HistoricalBarsEnd(id int64, start, end string) {
	s.Dispatch(BarsEnd{ReqID: id, Start: start, End: end})
}

// DrainErrors returns the queued errors in arrival order and empties the queue.
func (s *Sink) DrainErrors() []ErrorEvent {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if len(s.errors) == 0 {
		return nil
	}
	out := s.errors
	s.errors = nil
	return out
}

// PendingErrors reports the number of queued errors.
func (s *Sink) PendingErrors() int {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return len(s.errors)
}

// Dropped reports how many late events were discarded.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
