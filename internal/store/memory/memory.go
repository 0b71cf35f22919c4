// Package memory is the in-memory fallback for the index candle store, used
// when the Redis backend is unreachable at startup.
package memory

import (
	"context"
	"sort"
	"sync"

	"marketpulse/internal/model"
)

// Store implements model.CandleStore on an ordered in-process slice.
type Store struct {
	mu      sync.Mutex
	candles []model.IndexCandle // ascending by StartTime
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Load returns a copy of all candles in ascending order.
func (s *Store) Load(ctx context.Context) ([]model.IndexCandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.IndexCandle, len(s.candles))
	copy(out, s.candles)
	return out, nil
}

// Put inserts or replaces the candle at its slot.
func (s *Store) Put(ctx context.Context, c model.IndexCandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.candles), func(i int) bool {
		return s.candles[i].StartTime >= c.StartTime
	})
	if i < len(s.candles) && s.candles[i].StartTime == c.StartTime {
		s.candles[i] = c
		return nil
	}
	s.candles = append(s.candles, model.IndexCandle{})
	copy(s.candles[i+1:], s.candles[i:])
	s.candles[i] = c
	return nil
}

// Trim drops the oldest candles beyond maxEntries.
func (s *Store) Trim(ctx context.Context, maxEntries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.candles) > maxEntries {
		s.candles = append([]model.IndexCandle(nil), s.candles[len(s.candles)-maxEntries:]...)
	}
	return nil
}

// DeleteByScore removes the candle at the given slot, if present.
func (s *Store) DeleteByScore(ctx context.Context, score int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.candles {
		if c.StartTime == score {
			s.candles = append(s.candles[:i], s.candles[i+1:]...)
			return nil
		}
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
