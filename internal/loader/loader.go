// Package loader performs the one-shot cold start: instruments, tickers,
// and the two most recent candles per (symbol, timeframe). It must run to
// completion before any ingestion worker mutates the store — the service
// never runs on an unseeded state.
package loader

import (
	"context"
	"fmt"
	"log"
	"sync"

	"marketpulse/internal/bybit"
	"marketpulse/internal/model"
	"marketpulse/internal/state"
)

const defaultConcurrency = 10

// RestAPI is the slice of the REST collaborator the loader consumes.
type RestAPI interface {
	Instruments(ctx context.Context) ([]bybit.Instrument, error)
	Tickers(ctx context.Context) (map[string]bybit.Ticker, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error)
}

// Loader seeds the state store from the REST collaborator.
type Loader struct {
	rest        RestAPI
	store       *state.Store
	quoteCoin   string
	concurrency int
}

// New creates a Loader seeding instruments quoted in quoteCoin (USDT when
// empty).
func New(rest RestAPI, store *state.Store, quoteCoin string, concurrency int) *Loader {
	if quoteCoin == "" {
		quoteCoin = "USDT"
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Loader{
		rest:        rest,
		store:       store,
		quoteCoin:   quoteCoin,
		concurrency: concurrency,
	}
}

// Run executes the cold-start protocol. Any terminal REST failure is
// returned; the caller aborts the process.
func (l *Loader) Run(ctx context.Context) error {
	instruments, err := l.rest.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("cold start: %w", err)
	}

	// Retain Trading USDT-quoted symbols, de-duplicated preserving first
	// occurrence.
	seen := make(map[string]bool)
	var symbols []string
	for _, it := range instruments {
		if it.QuoteCoin != l.quoteCoin || it.Status != "Trading" {
			continue
		}
		if seen[it.Symbol] {
			continue
		}
		seen[it.Symbol] = true
		symbols = append(symbols, it.Symbol)
		l.store.Seed(it.Symbol, it.BaseCoin, it.QuoteCoin)
	}
	log.Printf("[loader] seeded %d %s-quoted instruments", len(symbols), l.quoteCoin)

	tickers, err := l.rest.Tickers(ctx)
	if err != nil {
		return fmt.Errorf("cold start: %w", err)
	}
	for _, sym := range symbols {
		if t, ok := tickers[sym]; ok {
			l.store.ApplyTicker(sym, t.LastPrice, t.UpdatedAt)
		}
	}

	if err := l.seedKlines(ctx, symbols); err != nil {
		return fmt.Errorf("cold start: %w", err)
	}

	l.store.RecomputeOverview()
	log.Printf("[loader] cold start complete (%d symbols, %d timeframes)", len(symbols), len(model.TFOrder))
	return nil
}

// seedKlines fetches the two most recent candles for every (symbol, TF) pair
// with bounded concurrency. Two candles seed prev-close from the older and
// apply the newer; a single candle is applied with prev-close left unset.
func (l *Loader) seedKlines(ctx context.Context, symbols []string) error {
	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var firstErr error

	for _, sym := range symbols {
		for _, tf := range model.TFOrder {
			sym, tf := sym, tf
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				klines, err := l.rest.Klines(ctx, sym, tf.Interval(), 2)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				switch {
				case len(klines) >= 2:
					prev, cur := klines[len(klines)-2], klines[len(klines)-1]
					l.store.SeedPrevClose(sym, tf, prev.Close)
					l.store.ApplyKline(sym, tf, cur, false)
				case len(klines) == 1:
					l.store.ApplyKline(sym, tf, klines[0], false)
				}
			}()
		}
	}
	wg.Wait()
	return firstErr
}
