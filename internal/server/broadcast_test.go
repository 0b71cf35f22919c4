package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/internal/model"
	"marketpulse/internal/state"
)

const testDebounce = 50 * time.Millisecond

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn, timeout time.Duration) model.Snapshot {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	return snap
}

func TestHandleWS_SendsSnapshotOnJoin(t *testing.T) {
	st := state.New()
	st.Seed("BTCUSDT", "BTC", "USDT")
	hub := NewHub(st)

	conn := dialTestHub(t, hub)

	snap := readSnapshot(t, conn, time.Second)
	if len(snap.Entries) != 1 || snap.Entries[0].Symbol != "BTCUSDT" {
		t.Fatalf("entries = %+v, want the seeded symbol", snap.Entries)
	}
	if len(snap.Overview) != len(model.TFOrder) {
		t.Errorf("overview slots = %d, want %d", len(snap.Overview), len(model.TFOrder))
	}
}

func TestBroadcaster_CoalescesBurstIntoOneSnapshot(t *testing.T) {
	st := state.New()
	st.Seed("BTCUSDT", "BTC", "USDT")
	hub := NewHub(st)
	bc := NewBroadcaster(hub, st, testDebounce)

	conn := dialTestHub(t, hub)
	readSnapshot(t, conn, time.Second) // join snapshot

	// Burst: 100 updates to the same symbol before the broadcaster wakes.
	var last float64
	for i := 0; i < 100; i++ {
		last = 50000 + float64(i)
		v := last
		st.ApplyTicker("BTCUSDT", &v, int64(i+1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bc.Run(ctx)

	snap := readSnapshot(t, conn, time.Second)
	if lp := snap.Entries[0].LastPrice; lp == nil || *lp != last {
		t.Fatalf("lastPrice = %v, want last applied %v", lp, last)
	}

	// No second snapshot inside the next two debounce windows.
	conn.SetReadDeadline(time.Now().Add(2 * testDebounce))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("got a second snapshot, want exactly one for the burst")
	}
}

func TestBroadcaster_NewUpdateAfterWindowBroadcastsAgain(t *testing.T) {
	st := state.New()
	st.Seed("BTCUSDT", "BTC", "USDT")
	hub := NewHub(st)
	bc := NewBroadcaster(hub, st, testDebounce)

	conn := dialTestHub(t, hub)
	readSnapshot(t, conn, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bc.Run(ctx)

	v1 := 100.0
	st.ApplyTicker("BTCUSDT", &v1, 1)
	first := readSnapshot(t, conn, time.Second)
	if lp := first.Entries[0].LastPrice; lp == nil || *lp != v1 {
		t.Fatalf("first lastPrice = %v, want %v", lp, v1)
	}

	v2 := 200.0
	st.ApplyTicker("BTCUSDT", &v2, 2)
	second := readSnapshot(t, conn, time.Second)
	if lp := second.Entries[0].LastPrice; lp == nil || *lp != v2 {
		t.Fatalf("second lastPrice = %v, want %v", lp, v2)
	}
}

func TestHub_RemoveOnClientGone(t *testing.T) {
	st := state.New()
	hub := NewHub(st)

	conn := dialTestHub(t, hub)
	readSnapshot(t, conn, time.Second)
	if hub.Count() != 1 {
		t.Fatalf("count = %d, want 1", hub.Count())
	}

	conn.Close()
	deadline := time.Now().Add(time.Second)
	for hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcaster_DropsFailedClients(t *testing.T) {
	st := state.New()
	st.Seed("BTCUSDT", "BTC", "USDT")
	hub := NewHub(st)
	bc := NewBroadcaster(hub, st, testDebounce)
	var failures int32
	bc.OnSendFailure = func() { atomic.AddInt32(&failures, 1) }

	// Register a client directly (no read pump) and kill its socket so the
	// next send fails deterministically.
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- conn
		select {}
	}))
	t.Cleanup(srv.Close)
	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	dead := &Client{conn: <-serverConns, done: make(chan struct{})}
	hub.mu.Lock()
	hub.clients[dead] = true
	hub.mu.Unlock()
	dead.conn.Close()

	v := 1.0
	st.ApplyTicker("BTCUSDT", &v, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bc.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("failed client never dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&failures) == 0 {
		t.Error("OnSendFailure never fired")
	}
}
