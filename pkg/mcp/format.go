package mcp

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/folio-site/folio/pkg/models"
)

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Offline Cache Statistics\n"+
		"  Buckets:  %d\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		len(stats.Buckets), stats.Entries, stats.Hits, stats.Misses, hitRate)
}

// formatBuckets formats bucket stats as a text table.
func formatBuckets(buckets []models.BucketStats) string {
	if len(buckets) == 0 {
		return "No cache buckets found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %8s %10s\n", "Bucket", "Entries", "Size")
	b.WriteString(strings.Repeat("-", 44) + "\n")
	for _, bk := range buckets {
		fmt.Fprintf(&b, "%-24s %8d %10s\n", bk.Name, bk.Entries, humanize.Bytes(uint64(bk.Bytes)))
	}
	return b.String()
}

// formatTranscript renders turns one per line, prefixed by role.
func formatTranscript(turns []models.Turn) string {
	if len(turns) == 0 {
		return "No chat history found."
	}
	var b strings.Builder
	for i, t := range turns {
		fmt.Fprintf(&b, "%3d  %-9s %s\n", i+1, t.Role, t.Content)
	}
	return b.String()
}
