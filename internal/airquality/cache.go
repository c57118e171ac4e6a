package airquality

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Cache is a SQLite-backed summary cache keyed by rounded coordinates.
// It is best-effort: any cache failure degrades to a direct fetch.
type Cache struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates the cache table if needed. A nil db or non-positive ttl
// disables caching (returns nil, nil).
func NewCache(db *sql.DB, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	if db == nil || ttl <= 0 {
		return nil, nil
	}
	schema := `
	CREATE TABLE IF NOT EXISTS aqi_cache (
		coord_key  TEXT PRIMARY KEY,
		summary    TEXT NOT NULL,
		fetched_at DATETIME NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create aqi_cache table: %w", err)
	}
	return &Cache{db: db, ttl: ttl, logger: logger}, nil
}

// Get returns a cached summary younger than the TTL.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	var summary string
	var fetchedAt time.Time
	err := c.db.QueryRowContext(ctx,
		`SELECT summary, fetched_at FROM aqi_cache WHERE coord_key = ?`, key,
	).Scan(&summary, &fetchedAt)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		c.logger.Warn("aqi cache read failed", "err", err)
		return "", false
	}
	if time.Since(fetchedAt) > c.ttl {
		return "", false
	}
	return summary, true
}

// Put stores a summary, replacing any previous entry for the key.
func (c *Cache) Put(ctx context.Context, key, summary string) {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO aqi_cache (coord_key, summary, fetched_at) VALUES (?, ?, ?)`,
		key, summary, time.Now().UTC(),
	)
	if err != nil {
		c.logger.Warn("aqi cache write failed", "err", err)
	}
}
