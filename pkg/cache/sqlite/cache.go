package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/folio-site/folio/pkg/models"
)

// Cache is a set of named response buckets backed by SQLite.
// Writes to the same bucket and URL overwrite, last write wins.
type Cache struct {
	db     *sql.DB
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTables = `
CREATE TABLE IF NOT EXISTS cache_buckets (
	name TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS cache_entries (
	bucket TEXT NOT NULL,
	url TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	header TEXT NOT NULL DEFAULT '{}',
	body BLOB,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (bucket, url)
);
`

// New opens the bucket database at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Cache{db: db}, nil
}

// Open creates the named bucket if it does not exist yet.
func (c *Cache) Open(ctx context.Context, bucket string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO cache_buckets (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		bucket, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	return nil
}

// Keys lists bucket names in creation order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM cache_buckets ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a bucket and every entry in it. It reports whether the
// bucket existed.
func (c *Cache) Delete(ctx context.Context, bucket string) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete bucket %q: %w", bucket, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE bucket = ?`, bucket); err != nil {
		return false, fmt.Errorf("delete bucket entries %q: %w", bucket, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_buckets WHERE name = ?`, bucket)
	if err != nil {
		return false, fmt.Errorf("delete bucket %q: %w", bucket, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete bucket %q: %w", bucket, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Match looks up url in bucket.
func (c *Cache) Match(ctx context.Context, bucket, url string) (*models.CacheEntry, bool) {
	var headerJSON string
	e := models.CacheEntry{Bucket: bucket, URL: url}

	err := c.db.QueryRowContext(ctx,
		`SELECT status_code, header, body, created_at FROM cache_entries WHERE bucket = ? AND url = ?`,
		bucket, url,
	).Scan(&e.StatusCode, &headerJSON, &e.Body, &e.CreatedAt)
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	if err := json.Unmarshal([]byte(headerJSON), &e.Header); err != nil {
		e.Header = http.Header{}
	}

	c.hits.Add(1)
	return &e, true
}

// Put stores entry under its bucket and URL, creating the bucket when needed.
func (c *Cache) Put(ctx context.Context, entry models.CacheEntry) error {
	if entry.Bucket == "" || entry.URL == "" {
		return errors.New("cache put: bucket and url are required")
	}
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("cache put: encode header: %w", err)
	}
	if err := c.Open(ctx, entry.Bucket); err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (bucket, url, status_code, header, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Bucket, entry.URL, entry.StatusCode, string(header), entry.Body, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns per-bucket sizes and the hit/miss counters.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT b.name, COUNT(e.url), COALESCE(SUM(LENGTH(e.body)), 0)
		 FROM cache_buckets b LEFT JOIN cache_entries e ON e.bucket = b.name
		 GROUP BY b.name ORDER BY b.created_at, b.name`)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()

	stats := models.CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	for rows.Next() {
		var b models.BucketStats
		if err := rows.Scan(&b.Name, &b.Entries, &b.Bytes); err != nil {
			return models.CacheStats{}, fmt.Errorf("scan cache stats: %w", err)
		}
		stats.Entries += b.Entries
		stats.Buckets = append(stats.Buckets, b)
	}
	return stats, rows.Err()
}

// Clear removes every bucket.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries; DELETE FROM cache_buckets;`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
