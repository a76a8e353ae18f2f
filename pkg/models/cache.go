package models

import (
	"net/http"
	"time"
)

// CacheEntry is a response captured inside a cache bucket.
type CacheEntry struct {
	Bucket     string      `json:"bucket"`
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

// BucketStats describes one cache bucket.
type BucketStats struct {
	Name    string `json:"name"`
	Entries int64  `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Buckets []BucketStats `json:"buckets"`
	Entries int64         `json:"entries"`
	Hits    int64         `json:"hits"`
	Misses  int64         `json:"misses"`
}
