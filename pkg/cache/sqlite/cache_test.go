package sqlite

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-site/folio/pkg/models"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	c, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func entry(bucket, url, body string) models.CacheEntry {
	return models.CacheEntry{
		Bucket:     bucket,
		URL:        url,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(body),
	}
}

func TestPutAndMatch(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, entry("folio-v1", "/index.html", "<h1>hi</h1>")))

	got, ok := c.Match(ctx, "folio-v1", "/index.html")
	require.True(t, ok)
	assert.Equal(t, "<h1>hi</h1>", string(got.Body))
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, "text/html", got.Header.Get("Content-Type"))

	_, ok = c.Match(ctx, "folio-v0", "/index.html")
	assert.False(t, ok, "entries are scoped to their bucket")
}

func TestPutOverwrites(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, entry("v1", "/app.js", "old")))
	require.NoError(t, c.Put(ctx, entry("v1", "/app.js", "new")))

	got, ok := c.Match(ctx, "v1", "/app.js")
	require.True(t, ok)
	assert.Equal(t, "new", string(got.Body))
}

func TestPutRequiresKey(t *testing.T) {
	c := newTestCache(t)
	assert.Error(t, c.Put(context.Background(), models.CacheEntry{URL: "/x"}))
}

func TestOpenKeysDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Open(ctx, "v1"))
	require.NoError(t, c.Open(ctx, "v1"))
	require.NoError(t, c.Put(ctx, entry("v2", "/", "root")))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v1", "v2"}, keys)

	existed, err := c.Delete(ctx, "v2")
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok := c.Match(ctx, "v2", "/")
	assert.False(t, ok)

	existed, err = c.Delete(ctx, "v2")
	require.NoError(t, err)
	assert.False(t, existed)

	keys, err = c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, keys)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, entry("v1", "/a", "1234")))
	require.NoError(t, c.Open(ctx, "empty"))
	c.Match(ctx, "v1", "/a") // hit
	c.Match(ctx, "v1", "/b") // miss

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Entries)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	require.Len(t, stats.Buckets, 2)

	byName := map[string]models.BucketStats{}
	for _, b := range stats.Buckets {
		byName[b.Name] = b
	}
	assert.EqualValues(t, 4, byName["v1"].Bytes)
	assert.EqualValues(t, 0, byName["empty"].Entries)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	require.NoError(t, c.Put(ctx, entry("v1", "/a", "x")))
	require.NoError(t, c.Put(ctx, entry("v2", "/b", "y")))
	require.NoError(t, c.Clear(ctx))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
