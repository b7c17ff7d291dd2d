// Package wsbridge speaks to a gateway bridge that relays the broker API as
// JSON text frames over a websocket.
package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"ibharvest/internal/broker"
	"ibharvest/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	DefaultPath           = "/v1/api"
	DefaultDialTimeout    = 10 * time.Second
	DefaultMessagesPerSec = 45

	// CodeConnectionLost is reported through the sink when the read loop ends
	// without being asked to.
	CodeConnectionLost = 1100

	writeWait = 5 * time.Second
)

type Option func(*Bridge)

func WithPath(path string) Option {
	return func(b *Bridge) {
		if path != "" {
			b.path = path
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.dialTimeout = d
		}
	}
}

// WithMessageRate caps outbound frames per second. Zero or less disables the cap.
func WithMessageRate(perSec int) Option {
	return func(b *Bridge) {
		if perSec <= 0 {
			b.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(b *Bridge) {
		if d != nil {
			b.dialer = d
		}
	}
}

// Bridge implements broker.Transport.
type Bridge struct {
	handler     broker.EventHandler
	path        string
	dialTimeout time.Duration
	limiter     *rate.Limiter
	dialer      *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	closing bool

	writeMu sync.Mutex
}

var _ broker.Transport = (*Bridge)(nil)

func New(handler broker.EventHandler, opts ...Option) (*Bridge, error) {
	if handler == nil {
		return nil, fmt.Errorf("wsbridge requires an event handler")
	}
	b := &Bridge{
		handler:     handler,
		path:        DefaultPath,
		dialTimeout: DefaultDialTimeout,
		limiter:     rate.NewLimiter(rate.Limit(DefaultMessagesPerSec), DefaultMessagesPerSec),
		dialer:      websocket.DefaultDialer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

func (b *Bridge) endpoint(host string, port, clientID int) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     b.path,
		RawQuery: url.Values{"client_id": {strconv.Itoa(clientID)}}.Encode(),
	}
	return u.String()
}

func (b *Bridge) Connect(ctx context.Context, host string, port int, clientID int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	target := b.endpoint(host, port, clientID)
	dialCtx, cancel := context.WithTimeout(ctx, b.dialTimeout)
	defer cancel()
	conn, resp, err := b.dialer.DialContext(dialCtx, target, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %s)", target, err, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", target, err)
	}
	connCtx, connCancel := context.WithCancel(context.Background())
	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.cancel()
	}
	b.conn = conn
	b.ctx = connCtx
	b.cancel = connCancel
	b.closing = false
	b.mu.Unlock()
	logger.Infof("[wsbridge] connected %s", target)
	return nil
}

// Run reads frames and dispatches them until ctx ends, Disconnect is called
// or the connection fails. An unexpected end is reported to the handler as a
// global connection-lost error and returned.
func (b *Bridge) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, connCtx, err := b.current()
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = b.Disconnect()
		case <-connCtx.Done():
		case <-stop:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if b.isClosing() || ctx.Err() != nil {
				logger.Infof("[wsbridge] read loop stopped")
				return nil
			}
			b.handler.Dispatch(broker.ErrorEvent{
				ReqID:   broker.NoRequestID,
				Code:    CodeConnectionLost,
				Message: err.Error(),
			})
			return fmt.Errorf("wsbridge read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		logger.LogFrame("in", data)
		ev, err := decodeFrame(data)
		if err != nil {
			logger.Warnf("[wsbridge] drop frame: %v", err)
			continue
		}
		if ev == nil {
			logger.Debugf("[wsbridge] ignore frame type %q", frameType(data))
			continue
		}
		b.handler.Dispatch(ev)
	}
}

func (b *Bridge) RequestContractDetails(reqID int64, contract broker.Contract) error {
	return b.send(outbound{Type: typeReqContractDetails, ReqID: reqID, Contract: &contract})
}

func (b *Bridge) RequestHistoricalData(reqID int64, contract broker.Contract, query broker.HistoricalQuery) error {
	return b.send(outbound{Type: typeReqHistoricalData, ReqID: reqID, Contract: &contract, Query: &query})
}

func (b *Bridge) CancelHistoricalData(reqID int64) error {
	return b.send(outbound{Type: typeCancelHistorical, ReqID: reqID})
}

// Disconnect closes the connection. It is safe to call more than once.
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	conn := b.conn
	cancel := b.cancel
	b.conn = nil
	b.closing = true
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	cancel()
	b.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(writeWait))
	b.writeMu.Unlock()
	logger.Infof("[wsbridge] disconnected")
	return conn.Close()
}

func (b *Bridge) send(msg outbound) error {
	conn, connCtx, err := b.current()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := b.limiter.Wait(connCtx); err != nil {
		return fmt.Errorf("rate wait %s: %w", msg.Type, broker.ErrNotConnected)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write %s req %d: %w", msg.Type, msg.ReqID, err)
	}
	logger.LogFrame("out", payload)
	return nil
}

func (b *Bridge) current() (*websocket.Conn, context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil, nil, broker.ErrNotConnected
	}
	return b.conn, b.ctx, nil
}

func (b *Bridge) isClosing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closing
}

func frameType(data []byte) string {
	return gjson.GetBytes(data, "type").String()
}
