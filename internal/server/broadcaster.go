package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"marketpulse/internal/state"
)

// DefaultDebounce is the minimum interval between successive broadcasts.
const DefaultDebounce = 200 * time.Millisecond

// Broadcaster is the single task that turns dirty signals into snapshot
// fan-outs. One instance per process: broadcasts are totally ordered, and
// any burst of dirty signals inside the debounce window coalesces into one
// snapshot.
type Broadcaster struct {
	hub      *Hub
	store    *state.Store
	debounce time.Duration

	// Metrics hooks (optional, set externally)
	OnSnapshotBuilt func(took time.Duration)
	OnBroadcast     func(clients int, took time.Duration)
	OnSendFailure   func()
}

// NewBroadcaster creates a Broadcaster with the given debounce window.
func NewBroadcaster(hub *Hub, store *state.Store, debounce time.Duration) *Broadcaster {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Broadcaster{hub: hub, store: store, debounce: debounce}
}

// Run loops until ctx is cancelled: wait for the dirty signal, sleep through
// the debounce window, clear the signal, then rebuild and fan out.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.store.Dirty():
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.debounce):
		}

		// Drain the signal before building so that updates arriving during
		// the build schedule a follow-up broadcast.
		select {
		case <-b.store.Dirty():
		default:
		}

		buildStart := time.Now()
		b.store.RecomputeOverview()
		snap := b.store.BuildSnapshot()
		payload, err := json.Marshal(snap)
		if err != nil {
			log.Printf("[broadcast] snapshot marshal failed: %v", err)
			continue
		}
		if b.OnSnapshotBuilt != nil {
			b.OnSnapshotBuilt(time.Since(buildStart))
		}
		b.broadcast(payload)
	}
}

// broadcast fans the payload out to all clients concurrently and drops every
// client whose send failed. Failed sends are never retried.
func (b *Broadcaster) broadcast(payload []byte) {
	clients := b.hub.Clients()
	if len(clients) == 0 {
		return
	}
	start := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []*Client

	for _, c := range clients {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Send(payload, b.hub.writeTimeout); err != nil {
				mu.Lock()
				failed = append(failed, c)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, c := range failed {
		b.hub.Remove(c)
		if b.OnSendFailure != nil {
			b.OnSendFailure()
		}
	}

	if b.OnBroadcast != nil {
		b.OnBroadcast(len(clients)-len(failed), time.Since(start))
	}
}
