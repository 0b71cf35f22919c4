// Package store composes candle store backends.
package store

import (
	"context"

	"marketpulse/internal/model"
)

// Multi fans writes out to every backend and reads from the first one that
// has data. Backends are ordered by authority: the first is the source of
// truth on restore, the rest are write-through copies.
type Multi struct {
	backends []model.CandleStore
}

// NewMulti builds a composite over the given backends. Nil entries are
// skipped so callers can pass optional backends unconditionally.
func NewMulti(backends ...model.CandleStore) *Multi {
	m := &Multi{}
	for _, b := range backends {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
	return m
}

// Load returns the first backend's non-empty result. Errors fall through to
// the next backend.
func (m *Multi) Load(ctx context.Context) ([]model.IndexCandle, error) {
	var lastErr error
	for _, b := range m.backends {
		candles, err := b.Load(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if len(candles) > 0 {
			return candles, nil
		}
	}
	return nil, lastErr
}

// Put writes to every backend, returning the first error after all writes.
func (m *Multi) Put(ctx context.Context, c model.IndexCandle) error {
	var firstErr error
	for _, b := range m.backends {
		if err := b.Put(ctx, c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Trim trims every backend.
func (m *Multi) Trim(ctx context.Context, maxEntries int) error {
	var firstErr error
	for _, b := range m.backends {
		if err := b.Trim(ctx, maxEntries); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeleteByScore deletes from every backend.
func (m *Multi) DeleteByScore(ctx context.Context, score int64) error {
	var firstErr error
	for _, b := range m.backends {
		if err := b.DeleteByScore(ctx, score); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every backend.
func (m *Multi) Close() error {
	var firstErr error
	for _, b := range m.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
