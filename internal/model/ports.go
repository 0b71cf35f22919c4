package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the index aggregator from concrete storage
// implementations (Redis, SQLite, in-memory). The aggregator never knows
// which one is active.

// CandleStore persists closed index candles in a sorted set keyed by
// slot-start millis. Implementations must be safe to call after a backend
// failure: they degrade rather than crash the service.
type CandleStore interface {
	// Load returns all persisted candles ordered by ascending StartTime.
	Load(ctx context.Context) ([]IndexCandle, error)

	// Put stores one candle, replacing any existing entry at the same slot.
	Put(ctx context.Context, c IndexCandle) error

	// Trim drops the oldest entries until at most maxEntries remain.
	Trim(ctx context.Context, maxEntries int) error

	// DeleteByScore removes the entry at the given slot-start millis.
	DeleteByScore(ctx context.Context, score int64) error

	// Close releases underlying resources.
	Close() error
}
