// Package state holds the canonical in-memory view of the symbol universe.
// The Store is a single mutex-guarded hub: ingestion workers, the cold-start
// loader, the index aggregator, and the broadcaster all mutate or read it
// through the narrow method set below. All work under the lock is pure
// in-memory computation; the Store never blocks while holding it.
package state

import (
	"sync"
	"time"

	"marketpulse/internal/model"
)

type prevKey struct {
	Symbol string
	TF     model.Timeframe
}

// Store is the shared mutable state. Entries are created exactly once during
// cold start and never destroyed; every write after that is a per-field
// overwrite, so cross-connection races reduce to last-writer-wins.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*model.Entry
	order     []string // seed order, keeps snapshots stable
	prevClose map[prevKey]float64
	overview  map[model.Timeframe]*model.Overview

	// Export view pushed by the index aggregator after each tick, so that
	// BuildSnapshot returns one consistent document under one lock.
	indexSummary model.IndexSummary
	indexHistory []model.IndexCandle

	dirty chan struct{}
	now   func() int64
}

// New creates an empty Store with all six overview slots pre-filled.
func New() *Store {
	ov := make(map[model.Timeframe]*model.Overview, len(model.TFOrder))
	for _, tf := range model.TFOrder {
		ov[tf] = &model.Overview{Timeframe: tf}
	}
	return &Store{
		entries:   make(map[string]*model.Entry),
		prevClose: make(map[prevKey]float64),
		overview:  ov,
		dirty:     make(chan struct{}, 1),
		now:       NowMillis,
	}
}

// NowMillis returns wall-clock time in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() int64) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Seed creates the entry for one symbol with all metric slots present.
// Duplicate seeds are ignored; identity fields are immutable afterwards.
func (s *Store) Seed(symbol, baseCoin, quoteCoin string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[symbol]; ok {
		return
	}
	metrics := make(map[model.Timeframe]*model.Metric, len(model.TFOrder))
	for _, tf := range model.TFOrder {
		metrics[tf] = &model.Metric{Timeframe: tf}
	}
	s.entries[symbol] = &model.Entry{
		Symbol:    symbol,
		BaseCoin:  baseCoin,
		QuoteCoin: quoteCoin,
		Metrics:   metrics,
	}
	s.order = append(s.order, symbol)
}

// SeedPrevClose records the close of the last finished candle for one
// (symbol, timeframe). Cold-start only; live updates come from confirmed
// klines in ApplyKline.
func (s *Store) SeedPrevClose(symbol string, tf model.Timeframe, close float64) {
	s.mu.Lock()
	s.prevClose[prevKey{symbol, tf}] = close
	s.mu.Unlock()
}

// Symbols returns the seeded symbols in seed order.
func (s *Store) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// SymbolCount returns the size of the universe.
func (s *Store) SymbolCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ApplyTicker overwrites lastPrice (when provided) and its update time for a
// known symbol, then marks the store dirty. Unknown symbols are a no-op.
// ts==0 falls back to the store clock.
func (s *Store) ApplyTicker(symbol string, lastPrice *float64, ts int64) {
	s.mu.Lock()
	e, ok := s.entries[symbol]
	if !ok {
		s.mu.Unlock()
		return
	}
	if lastPrice != nil {
		v := *lastPrice
		e.LastPrice = &v
	}
	if ts > 0 {
		e.LastPriceUpdatedAt = ts
	} else {
		e.LastPriceUpdatedAt = s.now()
	}
	s.mu.Unlock()
	s.MarkDirty()
}

// ApplyKline folds one candle into the (symbol, timeframe) metric and marks
// the store dirty. Unknown symbols are a no-op. When confirmed, the candle's
// close becomes the prev-close for the next bucket — written after the metric
// update so the next open candle reads the just-closed value.
func (s *Store) ApplyKline(symbol string, tf model.Timeframe, k model.Kline, confirmed bool) {
	s.mu.Lock()
	e, ok := s.entries[symbol]
	if !ok {
		s.mu.Unlock()
		return
	}

	m := e.Metrics[tf]
	o := k.Open
	m.OpenTime = k.Start
	m.OpenPrice = &o
	m.BaselinePrice = &o
	m.Volume = k.Volume
	m.Turnover = k.Turnover
	m.UpdatedAt = s.now()

	if o > 0 {
		cp := (k.Close - o) / o * 100.0
		m.ChangePercent = &cp
	}

	if base, ok := s.prevClose[prevKey{symbol, tf}]; ok && base > 0 {
		b := base
		m.PrevClose = &b
		cc := (k.Close - base) / base * 100.0
		m.CloseToClosePercent = &cc
	}

	if confirmed {
		s.prevClose[prevKey{symbol, tf}] = k.Close
	}
	s.mu.Unlock()
	s.MarkDirty()
}

// RecomputeOverview rebuilds the six gainer/loser counts from scratch.
// Called once before each snapshot build, not on every mutation.
func (s *Store) RecomputeOverview() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tf := range model.TFOrder {
		g, l := 0, 0
		for _, e := range s.entries {
			ch := e.Metrics[tf].ChangePercent
			if ch == nil {
				continue
			}
			if *ch > 0 {
				g++
			} else if *ch < 0 {
				l++
			}
		}
		s.overview[tf].Gainers = g
		s.overview[tf].Losers = l
	}
}

// D1Stats computes the cross-sectional D1 change sums used by the index
// aggregator: positive sum, negative sum (both non-negative) and the number
// of contributing entries.
func (s *Store) D1Stats() (positiveSum, negativeSum float64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		ch := e.Metrics[model.D1].ChangePercent
		if ch == nil {
			continue
		}
		if *ch > 0 {
			positiveSum += *ch
		} else {
			negativeSum += -*ch
		}
		count++
	}
	return positiveSum, negativeSum, count
}

// SetIndexView replaces the index export included in future snapshots.
// The aggregator calls this after every tick; both arguments are owned by
// the store after the call.
func (s *Store) SetIndexView(summary model.IndexSummary, history []model.IndexCandle) {
	s.mu.Lock()
	s.indexSummary = summary
	s.indexHistory = history
	s.mu.Unlock()
}

// BuildSnapshot returns an owned, serializable copy of the full state.
// The lock is held for the entire build.
func (s *Store) BuildSnapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*model.Entry, 0, len(s.order))
	for _, sym := range s.order {
		entries = append(entries, cloneEntry(s.entries[sym]))
	}

	overview := make([]model.Overview, 0, len(model.TFOrder))
	for _, tf := range model.TFOrder {
		overview = append(overview, *s.overview[tf])
	}

	history := make([]model.IndexCandle, len(s.indexHistory))
	copy(history, s.indexHistory)

	return model.Snapshot{
		Entries:      entries,
		Overview:     overview,
		IndexSummary: s.indexSummary,
		IndexHistory: history,
		UpdatedAt:    s.now(),
	}
}

// MarkDirty raises the coalescing broadcast signal. Any number of calls
// between broadcasts collapse into one pending token.
func (s *Store) MarkDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Dirty exposes the coalescing signal to the broadcaster.
func (s *Store) Dirty() <-chan struct{} {
	return s.dirty
}

func cloneEntry(e *model.Entry) *model.Entry {
	cp := &model.Entry{
		Symbol:             e.Symbol,
		BaseCoin:           e.BaseCoin,
		QuoteCoin:          e.QuoteCoin,
		LastPrice:          cloneFloat(e.LastPrice),
		LastPriceUpdatedAt: e.LastPriceUpdatedAt,
		Metrics:            make(map[model.Timeframe]*model.Metric, len(e.Metrics)),
	}
	for tf, m := range e.Metrics {
		mc := *m
		mc.OpenPrice = cloneFloat(m.OpenPrice)
		mc.PrevClose = cloneFloat(m.PrevClose)
		mc.BaselinePrice = cloneFloat(m.BaselinePrice)
		mc.ChangePercent = cloneFloat(m.ChangePercent)
		mc.CloseToClosePercent = cloneFloat(m.CloseToClosePercent)
		cp.Metrics[tf] = &mc
	}
	return cp
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
