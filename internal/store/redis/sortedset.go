// Package redis persists closed index candles in a Redis sorted set, scored
// by slot-start millis. After any runtime error the adapter logs once and
// degrades to a no-op for the rest of the process: persistence must never
// take the service down.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"marketpulse/internal/model"
)

// DefaultKey is the sorted set holding hourly index candles.
const DefaultKey = "market:index:candles:h1"

const dialTimeout = 5 * time.Second

// SortedSet implements model.CandleStore on a Redis sorted set.
type SortedSet struct {
	client *goredis.Client
	key    string

	mu       sync.Mutex
	degraded bool
}

// New connects to the Redis URL (redis://host:port/db) and pings it.
func New(redisURL, key string) (*SortedSet, error) {
	if key == "" {
		key = DefaultKey
	}
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", opts.Addr)
	return &SortedSet{client: client, key: key}, nil
}

// NewWithClient wraps an existing client. Test hook.
func NewWithClient(client *goredis.Client, key string) *SortedSet {
	if key == "" {
		key = DefaultKey
	}
	return &SortedSet{client: client, key: key}
}

// Load returns all persisted candles in ascending score order.
func (s *SortedSet) Load(ctx context.Context) ([]model.IndexCandle, error) {
	if s.isDegraded() {
		return nil, nil
	}
	members, err := s.client.ZRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		s.degrade("load", err)
		return nil, err
	}

	out := make([]model.IndexCandle, 0, len(members))
	for _, m := range members {
		var c model.IndexCandle
		if err := json.Unmarshal([]byte(m), &c); err != nil {
			continue // stale or foreign member, skip
		}
		out = append(out, c)
	}
	return out, nil
}

// Put replaces any entry at the candle's slot and adds the new one. The
// delete-then-add pair makes the write idempotent per slot.
func (s *SortedSet) Put(ctx context.Context, c model.IndexCandle) error {
	if s.isDegraded() {
		return nil
	}
	score := strconv.FormatInt(c.StartTime, 10)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, s.key, score, score)
	pipe.ZAdd(ctx, s.key, &goredis.Z{
		Score:  float64(c.StartTime),
		Member: string(c.JSON()),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		s.degrade("put", err)
		return nil
	}
	return nil
}

// Trim removes the lowest-ranked entries beyond maxEntries.
func (s *SortedSet) Trim(ctx context.Context, maxEntries int) error {
	if s.isDegraded() {
		return nil
	}
	card, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil {
		s.degrade("trim", err)
		return nil
	}
	if card <= int64(maxEntries) {
		return nil
	}
	if err := s.client.ZRemRangeByRank(ctx, s.key, 0, card-int64(maxEntries)-1).Err(); err != nil {
		s.degrade("trim", err)
	}
	return nil
}

// DeleteByScore removes the entry at the given slot-start millis.
func (s *SortedSet) DeleteByScore(ctx context.Context, score int64) error {
	if s.isDegraded() {
		return nil
	}
	v := strconv.FormatInt(score, 10)
	if err := s.client.ZRemRangeByScore(ctx, s.key, v, v).Err(); err != nil {
		s.degrade("delete", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *SortedSet) Close() error {
	return s.client.Close()
}

// Client exposes the underlying client for liveness probes.
func (s *SortedSet) Client() *goredis.Client {
	return s.client
}

func (s *SortedSet) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// degrade flips the adapter into in-memory-only mode. Logged once; every
// later call is a silent no-op.
func (s *SortedSet) degrade(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return
	}
	s.degraded = true
	log.Printf("[redis] %s failed: %v — persistence disabled for the rest of the process", op, err)
}
