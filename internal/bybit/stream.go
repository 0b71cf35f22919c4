package bybit

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/internal/model"
	"marketpulse/internal/state"
)

// DefaultWSURL is the Bybit v5 public linear stream.
const DefaultWSURL = "wss://stream.bybit.com/v5/public/linear"

const (
	defaultPingInterval = 20 * time.Second
	defaultPongTimeout  = 10 * time.Second

	// Reconnect delays per close kind.
	cleanCloseDelay = 1 * time.Second
	errorCloseDelay = 2 * time.Second
)

// WorkerConfig configures one upstream connection worker.
type WorkerConfig struct {
	URL          string   // defaults to DefaultWSURL
	Topics       []string // this worker's disjoint subscription bucket
	ID           int      // worker index, log prefix only
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// Worker owns one upstream websocket connection and a fixed topic bucket.
// It parses inbound frames into normalized updates and applies them to the
// state store. Malformed frames are dropped silently; transport errors
// reconnect and resubscribe.
type Worker struct {
	cfg   WorkerConfig
	store *state.Store

	// Metrics hooks (optional, set externally)
	OnConnect      func()
	OnReconnect    func()
	OnTicker       func()
	OnKline        func(tf model.Timeframe)
	OnDroppedFrame func()
}

// NewWorker creates a Worker with config defaults filled in.
func NewWorker(cfg WorkerConfig, store *state.Store) *Worker {
	if cfg.URL == "" {
		cfg.URL = DefaultWSURL
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Worker{cfg: cfg, store: store}
}

// Run connects, subscribes, and consumes frames until ctx is cancelled,
// reconnecting forever on transport failure.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := errorCloseDelay
		if isCleanClose(err) {
			delay = cleanCloseDelay
		}
		log.Printf("[ws:%d] connection ended: %v (reconnecting in %v)", w.cfg.ID, err, delay)
		if w.OnReconnect != nil {
			w.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session runs one connect/subscribe/read cycle and returns the error that
// ended it.
func (w *Worker) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}{Op: "subscribe", Args: w.cfg.Topics}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	log.Printf("[ws:%d] subscribed to %d topics", w.cfg.ID, len(w.cfg.Topics))
	if w.OnConnect != nil {
		w.OnConnect()
	}

	readWindow := w.cfg.PingInterval + w.cfg.PongTimeout
	conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWindow))
		return nil
	})

	// Close the socket when ctx is cancelled so the blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// Keepalive pings on the worker's own schedule.
	go func() {
		ticker := time.NewTicker(w.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(w.cfg.PongTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readWindow))
		w.handleFrame(raw)
	}
}

// handleFrame dispatches one inbound frame by topic prefix. Frames that do
// not parse, reference unknown symbols, or carry unknown intervals are
// upstream garbage, not protocol breaks: they are dropped without logging.
func (w *Worker) handleFrame(raw []byte) {
	var frame struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		w.dropFrame()
		return
	}
	if frame.Topic == "" {
		// subscription acks and pong responses carry no topic
		return
	}

	switch {
	case strings.HasPrefix(frame.Topic, "tickers."):
		w.handleTicker(frame.Topic[len("tickers."):], frame.Data)
	case strings.HasPrefix(frame.Topic, "kline."):
		w.handleKline(frame.Topic, frame.Data)
	default:
		// topic kinds we never subscribe to
	}
}

func (w *Worker) handleTicker(symbol string, data json.RawMessage) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		w.dropFrame()
		return
	}

	var lastPrice *float64
	if v, ok := toFloat(payload["lastPrice"]); ok {
		lastPrice = &v
	}
	ts, ok := toInt64(payload["ts"])
	if !ok {
		ts, _ = toInt64(payload["timestamp"])
	}

	w.store.ApplyTicker(symbol, lastPrice, ts)
	if w.OnTicker != nil {
		w.OnTicker()
	}
}

func (w *Worker) handleKline(topic string, data json.RawMessage) {
	parts := strings.Split(topic, ".")
	if len(parts) != 3 {
		w.dropFrame()
		return
	}
	tf, ok := model.TimeframeForInterval(parts[1])
	if !ok {
		w.dropFrame()
		return
	}
	symbol := parts[2]

	var batch []map[string]interface{}
	if err := json.Unmarshal(data, &batch); err != nil || len(batch) == 0 {
		w.dropFrame()
		return
	}

	k, ok := parseKlineObject(batch[len(batch)-1])
	if !ok {
		w.dropFrame()
		return
	}

	w.store.ApplyKline(symbol, tf, k, k.Confirm)
	if w.OnKline != nil {
		w.OnKline(tf)
	}
}

// parseKlineObject normalizes one WS kline entry. Start, open, close, volume
// and turnover are required; high/low default to the close when absent.
func parseKlineObject(obj map[string]interface{}) (model.Kline, bool) {
	start, ok := toInt64(obj["start"])
	if !ok {
		return model.Kline{}, false
	}
	open, ok := toFloat(obj["open"])
	if !ok {
		return model.Kline{}, false
	}
	closePx, ok := toFloat(obj["close"])
	if !ok {
		return model.Kline{}, false
	}
	volume, ok := toFloat(obj["volume"])
	if !ok {
		return model.Kline{}, false
	}
	turnover, ok := toFloat(obj["turnover"])
	if !ok {
		return model.Kline{}, false
	}

	k := model.Kline{
		Start:    start,
		Open:     open,
		Close:    closePx,
		Volume:   volume,
		Turnover: turnover,
		Confirm:  toBool(obj["confirm"]),
	}
	if h, ok := toFloat(obj["high"]); ok {
		k.High = h
	} else {
		k.High = closePx
	}
	if l, ok := toFloat(obj["low"]); ok {
		k.Low = l
	} else {
		k.Low = closePx
	}
	return k, true
}

func (w *Worker) dropFrame() {
	if w.OnDroppedFrame != nil {
		w.OnDroppedFrame()
	}
}

// isCleanClose reports whether the session ended with a normal websocket
// close rather than a transport error.
func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
