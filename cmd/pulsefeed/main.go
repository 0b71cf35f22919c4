package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"marketpulse/config"
	"marketpulse/internal/bybit"
	"marketpulse/internal/index"
	"marketpulse/internal/loader"
	"marketpulse/internal/metrics"
	"marketpulse/internal/model"
	"marketpulse/internal/server"
	"marketpulse/internal/state"
	"marketpulse/internal/store"
	memorystore "marketpulse/internal/store/memory"
	redisstore "marketpulse/internal/store/redis"
	sqlitestore "marketpulse/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[pulsefeed] starting...")

	cfg := config.Load()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Index candle persistence (Redis primary, SQLite archive) ----
	var backends []model.CandleStore
	redisCandles, err := redisstore.New(cfg.RedisURL, "")
	if err != nil {
		log.Printf("[pulsefeed] WARNING: redis init failed: %v (continuing with in-memory candle store)", err)
		health.SetRedisConnected(false)
		backends = append(backends, memorystore.New())
	} else {
		health.SetRedisConnected(true)
		backends = append(backends, redisCandles)
	}

	var sqlArchive *sqlitestore.Archive
	if cfg.SQLitePath != "" {
		os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
		sqlArchive, err = sqlitestore.NewArchive(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[pulsefeed] sqlite init failed: %v", err)
		}
		health.SetSQLiteOK(true)
		backends = append(backends, sqlArchive)
	}
	candles := store.NewMulti(backends...)
	defer candles.Close()

	// ---- Periodic liveness checks ----
	switch {
	case redisCandles != nil && sqlArchive != nil:
		health.StartLivenessChecker(ctx, redisCandles.Client(), sqlArchive.DB(), 10*time.Second)
	case redisCandles != nil:
		health.StartLivenessChecker(ctx, redisCandles.Client(), nil, 10*time.Second)
	case sqlArchive != nil:
		health.StartLivenessChecker(ctx, nil, sqlArchive.DB(), 10*time.Second)
	}

	// ---- Cold start ----
	st := state.New()
	rest := bybit.NewREST(bybit.RESTConfig{BaseURL: cfg.RESTBase})

	coldStart := time.Now()
	if err := loader.New(rest, st, cfg.QuoteCoin, cfg.ColdStartWorkers).Run(ctx); err != nil {
		log.Fatalf("[pulsefeed] %v", err)
	}
	prom.ColdStartDur.Set(time.Since(coldStart).Seconds())
	prom.SymbolsTracked.Set(float64(st.SymbolCount()))
	health.SetSymbols(st.SymbolCount())

	// ---- Index aggregator ----
	agg := index.New(st, index.Config{Candles: candles, PollInterval: cfg.IndexPoll})
	agg.OnCandleClosed = func() {
		prom.IndexCandlesClosed.Inc()
	}
	agg.Restore(ctx)

	aggCtx, aggCancel := context.WithCancel(context.Background())
	var aggWG sync.WaitGroup
	aggWG.Add(1)
	go func() {
		defer aggWG.Done()
		agg.Run(aggCtx)
	}()

	// ---- Upstream ingestion workers ----
	topics := bybit.Topics(st.Symbols())
	buckets := bybit.Buckets(topics, cfg.TopicsPerConn)
	health.SetUpstreamTotal(len(buckets))
	log.Printf("[pulsefeed] %d topics across %d upstream connections", len(topics), len(buckets))

	wsCtx, wsCancel := context.WithCancel(context.Background())
	var wsWG sync.WaitGroup
	for i, bucket := range buckets {
		w := bybit.NewWorker(bybit.WorkerConfig{
			URL:    cfg.WSURL,
			Topics: bucket,
			ID:     i,
		}, st)
		w.OnConnect = func() {
			health.AddUpstreamConnected(1)
		}
		w.OnReconnect = func() {
			health.AddUpstreamConnected(-1)
			prom.WSReconnects.Inc()
		}
		w.OnTicker = func() {
			prom.TickerMsgsTotal.Inc()
			health.SetLastFrameTime(time.Now())
		}
		w.OnKline = func(tf model.Timeframe) {
			prom.KlineMsgsTotal.WithLabelValues(string(tf)).Inc()
			health.SetLastFrameTime(time.Now())
		}
		w.OnDroppedFrame = func() {
			prom.DroppedFrames.Inc()
		}
		wsWG.Add(1)
		go func() {
			defer wsWG.Done()
			w.Run(wsCtx)
		}()
	}

	// ---- Downstream websocket surface ----
	hub := server.NewHub(st)
	hub.OnClientCount = func(n int) {
		prom.ClientsConnected.Set(float64(n))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", hub.HandleWS)
	wsSrv := &http.Server{Addr: cfg.BindAddr, Handler: mux}
	go func() {
		log.Printf("[pulsefeed] websocket server listening on %s", cfg.BindAddr)
		if err := wsSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[pulsefeed] websocket server: %v", err)
		}
	}()

	// ---- Broadcaster ----
	bc := server.NewBroadcaster(hub, st, cfg.Debounce)
	bc.OnSnapshotBuilt = func(took time.Duration) {
		prom.SnapshotBuildDur.Observe(took.Seconds())
	}
	bc.OnBroadcast = func(clients int, took time.Duration) {
		prom.BroadcastsTotal.Inc()
		prom.BroadcastDur.Observe(took.Seconds())
	}
	bc.OnSendFailure = func() {
		prom.SendFailures.Inc()
	}

	bcCtx, bcCancel := context.WithCancel(context.Background())
	var bcWG sync.WaitGroup
	bcWG.Add(1)
	go func() {
		defer bcWG.Done()
		bc.Run(bcCtx)
	}()

	log.Printf("[pulsefeed] ready: %d symbols, %d timeframes, debounce %v",
		st.SymbolCount(), len(model.TFOrder), cfg.Debounce)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[pulsefeed] shutdown signal received, cleaning up...")
	cancel()

	// Stop producing broadcasts first, then freeze the index, then drop the
	// upstream feeds, and only then close persistence.
	bcCancel()
	bcWG.Wait()
	aggCancel()
	aggWG.Wait()
	wsCancel()
	wsWG.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	wsSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[pulsefeed] shutdown complete.")
}
