package mcp

import (
	"context"
	"encoding/json"
)

type historyArgs struct {
	Limit int `json:"limit"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"folio_cache_stats":   handleCacheStats,
	"folio_cache_buckets": handleCacheBuckets,
	"folio_history":       handleHistory,
}

var allTools = []ToolDefinition{
	{
		Name:        "folio_cache_stats",
		Description: "Show offline cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "folio_cache_buckets",
		Description: "List offline cache buckets with their entry counts and sizes.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "folio_history",
		Description: "Show the persisted chat transcript, most recent turns last.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Only show the last N turns (optional, omit for all)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Offline cache is not configured.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleCacheBuckets(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Offline cache is not configured.")
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return errorResult("Error fetching cache buckets: " + err.Error())
	}
	return textResult(formatBuckets(stats.Buckets))
}

func handleHistory(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.history == nil {
		return textResult("Chat history is not configured.")
	}
	var args historyArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	if args.Limit < 0 {
		return errorResult("limit must not be negative")
	}

	turns := s.history.Load(ctx)
	if args.Limit > 0 && len(turns) > args.Limit {
		turns = turns[len(turns)-args.Limit:]
	}
	return textResult(formatTranscript(turns))
}
