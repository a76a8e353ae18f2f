package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteBackend implements Backend with a SQLite table.
type SQLiteBackend struct {
	db         *sql.DB
	quotaBytes int64
}

var _ Backend = &SQLiteBackend{}

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv_store (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// NewSQLiteBackend opens (or creates) the database at path. A positive
// quotaBytes caps the summed size of all stored values.
func NewSQLiteBackend(path string, quotaBytes int64) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite history backend: empty path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open history db %q", path)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createKVTable); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate history db")
	}
	return &SQLiteBackend{db: db, quotaBytes: quotaBytes}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %q", key)
	}
	return value, true, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	if b.quotaBytes > 0 {
		var others int64
		err := b.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(value)), 0) FROM kv_store WHERE key != ?`, key,
		).Scan(&others)
		if err != nil {
			return errors.Wrap(err, "measure quota")
		}
		if others+int64(len(value)) > b.quotaBytes {
			return ErrQuotaExceeded
		}
	}

	_, err := b.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "set %q", key)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return errors.Wrapf(err, "delete %q", key)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
