// Package history persists chat transcripts under a single key with a
// bounded number of turns.
//
// A Store wraps a Backend (SQLite by default, Redis optionally) and is
// best-effort: it never reports persistence failures to the chat session,
// it only logs them.
package history

import (
	"context"

	"github.com/pkg/errors"
)

// ErrQuotaExceeded is returned by a Backend when a write does not fit in
// its storage budget.
var ErrQuotaExceeded = errors.New("history: storage quota exceeded")

// Backend is a minimal key-value store.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the stored value. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set upserts value under key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases resources.
	Close() error
}
