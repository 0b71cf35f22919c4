// Package sqlite keeps a durable archive of closed index candles in a local
// SQLite file. Unlike the Redis set it is never trimmed by default, so it can
// outlive the rolling window for offline analysis.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"marketpulse/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_candles (
	start_time   INTEGER PRIMARY KEY,
	open         REAL NOT NULL,
	high         REAL NOT NULL,
	low          REAL NOT NULL,
	close        REAL NOT NULL,
	net_percent  REAL NOT NULL,
	positive_sum REAL NOT NULL,
	negative_sum REAL NOT NULL,
	count        INTEGER NOT NULL
);
`

// Archive implements model.CandleStore on a SQLite table keyed by slot start.
type Archive struct {
	db *sql.DB
}

// NewArchive opens (and migrates) the archive database at dbPath.
func NewArchive(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	log.Printf("[sqlite] opened archive %s", dbPath)
	return &Archive{db: db}, nil
}

// Load reads all archived candles ordered by slot start.
func (a *Archive) Load(ctx context.Context) ([]model.IndexCandle, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT start_time, open, high, low, close, net_percent, positive_sum, negative_sum, count
		FROM index_candles
		ORDER BY start_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query index_candles: %w", err)
	}
	defer rows.Close()

	var out []model.IndexCandle
	for rows.Next() {
		var c model.IndexCandle
		if err := rows.Scan(&c.StartTime, &c.Open, &c.High, &c.Low, &c.Close,
			&c.NetPercent, &c.PositiveSum, &c.NegativeSum, &c.Count); err != nil {
			return nil, fmt.Errorf("sqlite scan index_candles: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Put upserts the candle at its slot.
func (a *Archive) Put(ctx context.Context, c model.IndexCandle) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO index_candles
			(start_time, open, high, low, close, net_percent, positive_sum, negative_sum, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.StartTime, c.Open, c.High, c.Low, c.Close, c.NetPercent, c.PositiveSum, c.NegativeSum, c.Count)
	if err != nil {
		return fmt.Errorf("sqlite insert index_candles: %w", err)
	}
	return nil
}

// Trim is a no-op: the archive keeps full history on purpose.
func (a *Archive) Trim(ctx context.Context, maxEntries int) error {
	return nil
}

// DeleteByScore removes the candle at the given slot.
func (a *Archive) DeleteByScore(ctx context.Context, score int64) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM index_candles WHERE start_time = ?`, score); err != nil {
		return fmt.Errorf("sqlite delete index_candles: %w", err)
	}
	return nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// DB exposes the underlying handle for liveness probes.
func (a *Archive) DB() *sql.DB {
	return a.db
}
