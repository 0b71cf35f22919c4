package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the feed service.
type Metrics struct {
	TickerMsgsTotal prometheus.Counter
	KlineMsgsTotal  *prometheus.CounterVec // labels: tf
	DroppedFrames   prometheus.Counter
	WSReconnects    prometheus.Counter

	BroadcastsTotal  prometheus.Counter
	SendFailures     prometheus.Counter
	ClientsConnected prometheus.Gauge
	SnapshotBuildDur prometheus.Histogram
	BroadcastDur     prometheus.Histogram

	SymbolsTracked     prometheus.Gauge
	IndexCandlesClosed prometheus.Counter
	ColdStartDur       prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TickerMsgsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsefeed_ticker_msgs_total",
			Help: "Total ticker frames applied from upstream WebSocket",
		}),
		KlineMsgsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsefeed_kline_msgs_total",
			Help: "Total kline frames applied (by timeframe)",
		}, []string{"tf"}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsefeed_dropped_frames_total",
			Help: "Upstream frames dropped (malformed, unknown topic or symbol)",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsefeed_ws_reconnects_total",
			Help: "Total upstream WebSocket reconnection attempts",
		}),

		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsefeed_broadcasts_total",
			Help: "Total snapshot broadcasts to downstream clients",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsefeed_send_failures_total",
			Help: "Downstream sends that failed and dropped the client",
		}),
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulsefeed_clients_connected",
			Help: "Currently connected downstream WebSocket clients",
		}),
		SnapshotBuildDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsefeed_snapshot_build_duration_seconds",
			Help:    "Snapshot build plus marshal latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		BroadcastDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsefeed_broadcast_duration_seconds",
			Help:    "Fan-out latency across all connected clients",
			Buckets: prometheus.DefBuckets,
		}),

		SymbolsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulsefeed_symbols_tracked",
			Help: "Number of symbols in the tracked universe",
		}),
		IndexCandlesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulsefeed_index_candles_closed_total",
			Help: "Hourly index candles frozen into history",
		}),
		ColdStartDur: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pulsefeed_cold_start_duration_seconds",
			Help: "Duration of the REST cold start",
		}),
	}

	prometheus.MustRegister(
		m.TickerMsgsTotal,
		m.KlineMsgsTotal,
		m.DroppedFrames,
		m.WSReconnects,
		m.BroadcastsTotal,
		m.SendFailures,
		m.ClientsConnected,
		m.SnapshotBuildDur,
		m.BroadcastDur,
		m.SymbolsTracked,
		m.IndexCandlesClosed,
		m.ColdStartDur,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	UpstreamConnected int       `json:"upstream_connected"`
	UpstreamTotal     int       `json:"upstream_total"`
	LastFrameTime     time.Time `json:"last_frame_time"`
	RedisConnected    bool      `json:"redis_connected"`
	SQLiteOK          bool      `json:"sqlite_ok"`
	Symbols           int       `json:"symbols"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetUpstreamTotal(n int) {
	h.mu.Lock()
	h.UpstreamTotal = n
	h.mu.Unlock()
}

// AddUpstreamConnected adjusts the connected worker count by delta.
func (h *HealthStatus) AddUpstreamConnected(delta int) {
	h.mu.Lock()
	h.UpstreamConnected += delta
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastFrameTime(t time.Time) {
	h.mu.Lock()
	h.LastFrameTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(n int) {
	h.mu.Lock()
	h.Symbols = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if h.UpstreamTotal > 0 && h.UpstreamConnected < h.UpstreamTotal {
		overallStatus = "degraded"
	}
	if h.UpstreamTotal > 0 && h.UpstreamConnected == 0 {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	frameAge := ""
	if !h.LastFrameTime.IsZero() {
		frameAge = time.Since(h.LastFrameTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status            string  `json:"status"`
		Uptime            string  `json:"uptime"`
		UpstreamConnected int     `json:"upstream_connected"`
		UpstreamTotal     int     `json:"upstream_total"`
		LastFrameTime     string  `json:"last_frame_time"`
		FrameAge          string  `json:"frame_age"`
		RedisConnected    bool    `json:"redis_connected"`
		RedisLatencyMs    float64 `json:"redis_latency_ms"`
		SQLiteOK          bool    `json:"sqlite_ok"`
		SQLiteLatencyMs   float64 `json:"sqlite_latency_ms"`
		Symbols           int     `json:"symbols"`
		LastCheckAt       string  `json:"last_check_at"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		UpstreamConnected: h.UpstreamConnected,
		UpstreamTotal:     h.UpstreamTotal,
		LastFrameTime:     h.LastFrameTime.Format(time.RFC3339),
		FrameAge:          frameAge,
		RedisConnected:    h.RedisConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		SQLiteOK:          h.SQLiteOK,
		SQLiteLatencyMs:   h.SQLiteLatencyMs,
		Symbols:           h.Symbols,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
