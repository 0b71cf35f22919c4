package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testREST(t *testing.T, handler http.Handler) *REST {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewREST(RESTConfig{
		BaseURL: srv.URL,
		Retries: 3,
		Backoff: time.Millisecond,
	})
}

func TestInstruments_DecodesListing(t *testing.T) {
	c := testREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/instruments-info" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("category"); got != "linear" {
			t.Errorf("category = %s, want linear", got)
		}
		fmt.Fprint(w, `{"result":{"list":[
			{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT","status":"Trading"},
			{"symbol":"OLDUSD","baseCoin":"OLD","quoteCoin":"USD","status":"Closed"}
		]}}`)
	}))

	got, err := c.Instruments(context.Background())
	if err != nil {
		t.Fatalf("instruments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (filtering is the loader's job)", len(got))
	}
	if got[0].Symbol != "BTCUSDT" || got[0].Status != "Trading" {
		t.Errorf("got %+v", got[0])
	}
}

func TestTickers_NumberOrStringTolerant(t *testing.T) {
	c := testREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"list":[
			{"symbol":"AAAUSDT","lastPrice":"1.5","ts":1700000000000},
			{"symbol":"BBBUSDT","lastPrice":2.5,"timestamp":"1700000000001"},
			{"symbol":"CCCUSDT"}
		]}}`)
	}))

	got, err := c.Tickers(context.Background())
	if err != nil {
		t.Fatalf("tickers: %v", err)
	}
	a := got["AAAUSDT"]
	if a.LastPrice == nil || *a.LastPrice != 1.5 || a.UpdatedAt != 1700000000000 {
		t.Errorf("AAAUSDT = %+v", a)
	}
	b := got["BBBUSDT"]
	if b.LastPrice == nil || *b.LastPrice != 2.5 || b.UpdatedAt != 1700000000001 {
		t.Errorf("BBBUSDT = %+v", b)
	}
	cc := got["CCCUSDT"]
	if cc.LastPrice != nil || cc.UpdatedAt != 0 {
		t.Errorf("CCCUSDT = %+v, want empty ticker", cc)
	}
}

func TestKlines_SortedAscendingAndSkipsMalformed(t *testing.T) {
	c := testREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Bybit returns newest first; plus one short row to skip.
		fmt.Fprint(w, `{"result":{"list":[
			["2000","101","102","100","101.5","10","1015"],
			["junk"],
			["1000","100","101","99","101","12","1200"]
		]}}`)
	}))

	got, err := c.Klines(context.Background(), "BTCUSDT", "60", 2)
	if err != nil {
		t.Fatalf("klines: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Start != 1000 || got[1].Start != 2000 {
		t.Errorf("order = %d,%d, want ascending", got[0].Start, got[1].Start)
	}
	if got[1].Close != 101.5 || got[1].Turnover != 1015 {
		t.Errorf("fields = %+v", got[1])
	}
}

func TestGetJSON_RetriesTransientFailures(t *testing.T) {
	var calls int32
	c := testREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"result":{"list":[]}}`)
	}))

	if _, err := c.Instruments(context.Background()); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestGetJSON_TerminalAfterRetriesExhausted(t *testing.T) {
	var calls int32
	c := testREST(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if _, err := c.Instruments(context.Background()); err == nil {
		t.Fatal("expected terminal error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
