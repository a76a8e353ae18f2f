// Package site serves the portfolio itself: static files from the site
// root, plus the /api/ surface that the chat widget posts to.
package site

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/folio-site/folio/pkg/config"
)

const apiPrefix = "/api/"

// Server is the site origin.
type Server struct {
	cfg   *config.Config
	mux   *http.ServeMux
	proxy *httputil.ReverseProxy
}

// New creates a site Server. When cfg.Site.APIUpstream is set, /api/
// requests are forwarded to it.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}

	if cfg.Site.APIUpstream != "" {
		target, err := url.Parse(cfg.Site.APIUpstream)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid api upstream %q", cfg.Site.APIUpstream)
		}
		s.proxy = &httputil.ReverseProxy{
			Director: func(req *http.Request) {
				req.URL.Scheme = target.Scheme
				req.URL.Host = target.Host
				req.Host = target.Host
			},
			ModifyResponse: func(resp *http.Response) error {
				resp.Header.Set("Access-Control-Allow-Origin", s.cfg.Site.CORSOrigin)
				return nil
			},
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				log.Warn().Err(err).Str("component", "site").Str("url", r.URL.RequestURI()).Msg("api upstream failed")
				s.setCORS(w)
				writeJSONError(w, http.StatusBadGateway, "chat upstream unavailable")
			},
		}
	}

	s.mux.HandleFunc(apiPrefix, s.handleAPI)
	s.mux.Handle("/", http.FileServer(http.Dir(cfg.Site.Root)))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the site server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "site").Str("addr", s.cfg.Listen).Str("root", s.cfg.Site.Root).Msg("site listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.setCORS(w)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}

	if s.proxy != nil {
		s.proxy.ServeHTTP(w, r)
		return
	}

	if !isChatPath(r.URL.Path) {
		s.setCORS(w)
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.setCORS(w)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":  "Chatbot API is running",
			"endpoint": "/api/chat",
			"methods":  []string{http.MethodPost, http.MethodOptions, http.MethodGet},
		})
	case http.MethodPost:
		s.setCORS(w)
		writeJSONError(w, http.StatusServiceUnavailable, "no chat upstream configured")
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", s.cfg.Site.CORSOrigin)
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func isChatPath(p string) bool {
	return strings.TrimSuffix(p, "/") == "/api/chat"
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
