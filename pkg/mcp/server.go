// Package mcp exposes the offline cache and the persisted chat transcript
// to an operator's assistant over a line-delimited JSON-RPC 2.0 stdio
// transport.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/folio-site/folio/pkg/models"
)

// CacheStatter reports offline cache statistics.
type CacheStatter interface {
	Stats(ctx context.Context) (models.CacheStats, error)
}

// TranscriptLoader reads the persisted chat transcript.
type TranscriptLoader interface {
	Load(ctx context.Context) []models.Turn
}

// Server is a minimal MCP server.
type Server struct {
	cache   CacheStatter
	history TranscriptLoader
	version string
}

// New creates a Server. Either source may be nil; its tools then report
// that it is not configured.
func New(cache CacheStatter, history TranscriptLoader, version string) *Server {
	return &Server{
		cache:   cache,
		history: history,
		version: version,
	}
}

// Run reads requests from r line by line and writes responses to w until r
// is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}
		if req.JSONRPC != jsonrpcVersion {
			s.writeResponse(w, errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\""))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "folio", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	log.Debug().Str("component", "mcp").Str("tool", params.Name).Msg("tool call")
	return resultResponse(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Str("component", "mcp").Msg("marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		log.Error().Err(err).Str("component", "mcp").Msg("write response")
	}
}
