package bybit

import (
	"testing"

	"marketpulse/internal/model"
	"marketpulse/internal/state"
)

func newFrameWorker(t *testing.T) (*Worker, *state.Store, *int) {
	t.Helper()
	st := state.New()
	st.Seed("BTCUSDT", "BTC", "USDT")
	w := NewWorker(WorkerConfig{}, st)
	drops := 0
	w.OnDroppedFrame = func() { drops++ }
	return w, st, &drops
}

func TestHandleFrame_TickerUpdatesLastPrice(t *testing.T) {
	w, st, drops := newFrameWorker(t)

	w.handleFrame([]byte(`{
		"topic": "tickers.BTCUSDT",
		"data": {"symbol": "BTCUSDT", "lastPrice": "50123.5", "ts": 1700000000000}
	}`))

	snap := st.BuildSnapshot()
	e := snap.Entries[0]
	if e.LastPrice == nil || *e.LastPrice != 50123.5 {
		t.Fatalf("lastPrice = %v, want 50123.5", e.LastPrice)
	}
	if e.LastPriceUpdatedAt != 1700000000000 {
		t.Errorf("updatedAt = %d, want 1700000000000", e.LastPriceUpdatedAt)
	}
	if *drops != 0 {
		t.Errorf("drops = %d, want 0", *drops)
	}
}

func TestHandleFrame_TickerTimestampFallback(t *testing.T) {
	w, st, _ := newFrameWorker(t)
	st.SetClock(func() int64 { return 777 })

	// No ts field at all: store clock fills in.
	w.handleFrame([]byte(`{
		"topic": "tickers.BTCUSDT",
		"data": {"lastPrice": 100}
	}`))

	snap := st.BuildSnapshot()
	if got := snap.Entries[0].LastPriceUpdatedAt; got != 777 {
		t.Errorf("updatedAt = %d, want clock value 777", got)
	}
}

func TestHandleFrame_KlineAppliesLastBatchElement(t *testing.T) {
	w, st, _ := newFrameWorker(t)

	w.handleFrame([]byte(`{
		"topic": "kline.60.BTCUSDT",
		"data": [
			{"start": 1, "open": "100", "close": "101", "volume": "1", "turnover": "100", "confirm": true},
			{"start": 2, "open": "101", "close": "103", "volume": "2", "turnover": "200", "confirm": false}
		]
	}`))

	snap := st.BuildSnapshot()
	m := snap.Entries[0].Metrics[model.H1]
	if m.OpenTime != 2 {
		t.Fatalf("openTime = %d, want last batch element (2)", m.OpenTime)
	}
	if m.OpenPrice == nil || *m.OpenPrice != 101 {
		t.Errorf("openPrice = %v, want 101", m.OpenPrice)
	}
	if m.ChangePercent == nil {
		t.Fatal("changePercent not set")
	}
	want := (103.0 - 101.0) / 101.0 * 100.0
	if *m.ChangePercent != want {
		t.Errorf("changePercent = %v, want %v", *m.ChangePercent, want)
	}
}

func TestHandleFrame_ConfirmedKlineRollsPrevClose(t *testing.T) {
	w, st, _ := newFrameWorker(t)

	w.handleFrame([]byte(`{
		"topic": "kline.5.BTCUSDT",
		"data": [{"start": 0, "open": "100", "close": "110", "volume": "1", "turnover": "1", "confirm": true}]
	}`))
	w.handleFrame([]byte(`{
		"topic": "kline.5.BTCUSDT",
		"data": [{"start": 300000, "open": "110", "close": "121", "volume": "1", "turnover": "1", "confirm": false}]
	}`))

	snap := st.BuildSnapshot()
	m := snap.Entries[0].Metrics[model.M5]
	if m.PrevClose == nil || *m.PrevClose != 110 {
		t.Fatalf("prevClose = %v, want 110", m.PrevClose)
	}
	if m.CloseToClosePercent == nil || *m.CloseToClosePercent != 10.0 {
		t.Errorf("closeToClose = %v, want 10", m.CloseToClosePercent)
	}
}

func TestHandleFrame_GarbageIsDroppedSilently(t *testing.T) {
	w, st, drops := newFrameWorker(t)

	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"topic": "tickers.BTCUSDT", "data": "not an object"}`),
		[]byte(`{"topic": "kline.7.BTCUSDT", "data": [{"start": 1}]}`),        // unknown interval
		[]byte(`{"topic": "kline.60"}`),                                       // malformed topic
		[]byte(`{"topic": "kline.60.BTCUSDT", "data": [{"open": "100"}]}`),    // missing start
		[]byte(`{"topic": "kline.60.BTCUSDT", "data": []}`),                   // empty batch
	}
	for _, raw := range cases {
		w.handleFrame(raw)
	}

	if *drops != len(cases) {
		t.Errorf("drops = %d, want %d", *drops, len(cases))
	}
	// State untouched throughout.
	snap := st.BuildSnapshot()
	if snap.Entries[0].LastPrice != nil {
		t.Error("garbage frame mutated lastPrice")
	}
	if snap.Entries[0].Metrics[model.H1].OpenPrice != nil {
		t.Error("garbage frame mutated kline metric")
	}
}

func TestHandleFrame_UnknownSymbolIsNoop(t *testing.T) {
	w, st, _ := newFrameWorker(t)

	w.handleFrame([]byte(`{
		"topic": "tickers.DOGEUSDT",
		"data": {"lastPrice": "0.1", "ts": 1}
	}`))

	if n := st.SymbolCount(); n != 1 {
		t.Errorf("symbol count = %d, want 1 (no entry created)", n)
	}
}

func TestHandleFrame_SubscriptionAckIgnored(t *testing.T) {
	w, _, drops := newFrameWorker(t)

	w.handleFrame([]byte(`{"success": true, "op": "subscribe", "conn_id": "x"}`))

	if *drops != 0 {
		t.Errorf("drops = %d, want 0 (acks are not dropped frames)", *drops)
	}
}

func TestParseKlineObject_HighLowDefaultToClose(t *testing.T) {
	k, ok := parseKlineObject(map[string]interface{}{
		"start": float64(10), "open": "5", "close": "7", "volume": "1", "turnover": "2",
	})
	if !ok {
		t.Fatal("parse failed")
	}
	if k.High != 7 || k.Low != 7 {
		t.Errorf("high/low = %v/%v, want 7/7", k.High, k.Low)
	}
}
