// Package index synthesizes the hourly breadth index: a 1-hour OHLC series
// derived from the cross-sectional distribution of D1 change percentages.
// The candle close is the negated net percent, so upward ticks correspond to
// a gaining market.
package index

import (
	"context"
	"log"
	"math"
	"time"

	"marketpulse/internal/model"
	"marketpulse/internal/state"
)

const (
	// SlotMillis is the index bucket duration.
	SlotMillis = int64(3_600_000)

	// BaseValue seeds the series before any candle has closed.
	BaseValue = 0.0

	DefaultHistoryCap   = 1000
	DefaultExportCap    = 720
	DefaultPollInterval = time.Minute
)

// Config configures the Aggregator. Zero values take the defaults above.
type Config struct {
	Candles      model.CandleStore
	SlotMillis   int64
	HistoryCap   int
	ExportCap    int
	PollInterval time.Duration
}

// Aggregator computes the breadth index once per minute, rolls the hourly
// bucket on slot boundaries, and persists closed candles. All mutation
// happens on the single Run goroutine; the exported view is handed to the
// state store after every tick.
type Aggregator struct {
	store   *state.Store
	candles model.CandleStore
	cfg     Config

	active         *model.IndexCandle
	history        []model.IndexCandle // closed candles, ascending, bounded
	prevCloseValue float64

	lastNet   float64
	lastPos   float64
	lastNeg   float64
	lastCount int

	now func() int64

	// Metrics hooks (optional, set externally)
	OnCandleClosed func()
}

// New creates an Aggregator over the given store and persistence adapter.
func New(store *state.Store, cfg Config) *Aggregator {
	if cfg.SlotMillis <= 0 {
		cfg.SlotMillis = SlotMillis
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.ExportCap <= 0 {
		cfg.ExportCap = DefaultExportCap
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Aggregator{
		store:          store,
		candles:        cfg.Candles,
		cfg:            cfg,
		prevCloseValue: BaseValue,
		now:            state.NowMillis,
	}
}

// SetClock overrides the aggregator's clock. Test hook.
func (a *Aggregator) SetClock(now func() int64) {
	a.now = now
}

// Restore replays persisted candles into history and seeds the prev-close
// value from the most recent one. A load failure is not fatal: the index
// restarts from the base value.
func (a *Aggregator) Restore(ctx context.Context) {
	if a.candles == nil {
		return
	}
	loaded, err := a.candles.Load(ctx)
	if err != nil {
		log.Printf("[index] history load failed: %v (starting from base value)", err)
		return
	}
	if len(loaded) == 0 {
		return
	}
	if len(loaded) > a.cfg.HistoryCap {
		loaded = loaded[len(loaded)-a.cfg.HistoryCap:]
	}
	a.history = loaded
	a.prevCloseValue = loaded[len(loaded)-1].Close
	log.Printf("[index] restored %d candles, prev close %.4f", len(loaded), a.prevCloseValue)
}

// Run ticks once immediately (forced, so a bucket exists even before any D1
// data arrives) and then on every poll interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	a.Tick(ctx, true)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx, false)
		}
	}
}

// Tick performs one aggregation step: roll the bucket if the hour advanced,
// open a bucket if needed, fold the current D1 statistic into it, and push
// the refreshed view to the state store.
func (a *Aggregator) Tick(ctx context.Context, force bool) {
	now := a.now()
	slot := now - now%a.cfg.SlotMillis

	pos, neg, count := a.store.D1Stats()
	net := 0.0
	if count > 0 {
		net = (neg - pos) / float64(count)
	}
	a.lastNet, a.lastPos, a.lastNeg, a.lastCount = net, pos, neg, count

	if a.active != nil && a.active.StartTime < slot {
		a.freezeActive(ctx)
	}

	if a.active == nil {
		if count == 0 && !force {
			return
		}
		v := round4(a.prevCloseValue)
		a.active = &model.IndexCandle{
			StartTime: slot,
			Open:      v,
			High:      v,
			Low:       v,
			Close:     v,
		}
	}

	c := a.active
	c.Close = round4(-net)
	c.High = math.Max(c.High, math.Max(c.Close, c.Open))
	c.Low = math.Min(c.Low, math.Min(c.Close, c.Open))
	c.NetPercent = net
	c.PositiveSum = pos
	c.NegativeSum = neg
	c.Count = count

	a.publish()
}

// freezeActive closes the current bucket: append to history, roll the
// prev-close value, persist, and trim.
func (a *Aggregator) freezeActive(ctx context.Context) {
	closed := *a.active
	a.active = nil

	a.history = append(a.history, closed)
	if len(a.history) > a.cfg.HistoryCap {
		a.history = a.history[len(a.history)-a.cfg.HistoryCap:]
	}
	a.prevCloseValue = closed.Close

	if a.candles != nil {
		if err := a.candles.Put(ctx, closed); err != nil {
			log.Printf("[index] persist failed for slot %d: %v", closed.StartTime, err)
		} else if err := a.candles.Trim(ctx, a.cfg.HistoryCap); err != nil {
			log.Printf("[index] trim failed: %v", err)
		}
	}

	if a.OnCandleClosed != nil {
		a.OnCandleClosed()
	}
	log.Printf("[index] closed slot %d: close=%.4f count=%d", closed.StartTime, closed.Close, closed.Count)
}

// publish pushes the export view (summary + bounded history + active candle)
// into the state store and marks it dirty so clients see the fresh index.
func (a *Aggregator) publish() {
	closed := a.history
	if len(closed) > a.cfg.ExportCap {
		closed = closed[len(closed)-a.cfg.ExportCap:]
	}
	history := make([]model.IndexCandle, len(closed), len(closed)+1)
	copy(history, closed)

	summary := model.IndexSummary{
		Latest:       round4(a.prevCloseValue),
		BaseValue:    BaseValue,
		NetPercent:   a.lastNet,
		PositiveSum:  a.lastPos,
		NegativeSum:  a.lastNeg,
		Count:        a.lastCount,
		SlotDuration: a.cfg.SlotMillis,
	}
	if a.active != nil {
		history = append(history, *a.active)
		summary.Latest = a.active.Close
		summary.LastSlot = a.active.StartTime
	} else if len(a.history) > 0 {
		summary.LastSlot = a.history[len(a.history)-1].StartTime
	}

	a.store.SetIndexView(summary, history)
	a.store.MarkDirty()
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
