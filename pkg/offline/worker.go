// Package offline implements the offline cache worker: a caching reverse
// proxy in front of the site origin that precaches a fixed manifest into a
// versioned bucket, drops stale buckets on activation and serves same-origin
// GETs cache-first.
package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/folio-site/folio/pkg/models"
)

// CacheHeader reports whether a response came from the bucket.
const CacheHeader = "X-Folio-Cache"

// fillHeaders are the only client headers copied onto a fetch whose
// response may be stored. The stored body must not depend on the range,
// validators or encodings of whichever client missed first.
var fillHeaders = []string{"Accept", "Accept-Language", "User-Agent"}

// BucketStore is the named-bucket storage the worker writes to.
// *sqlite.Cache is the production implementation.
type BucketStore interface {
	Open(ctx context.Context, bucket string) error
	Keys(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, bucket string) (bool, error)
	Match(ctx context.Context, bucket, url string) (*models.CacheEntry, bool)
	Put(ctx context.Context, entry models.CacheEntry) error
	Stats(ctx context.Context) (models.CacheStats, error)
}

// Options configures a Worker.
type Options struct {
	// Version names the bucket this worker owns.
	Version string
	// APIPrefix marks paths that are always passed through.
	APIPrefix string
	// Manifest lists the paths precached at install.
	Manifest []string
	// SkipWaiting activates straight after a successful install.
	SkipWaiting bool
	// Client fetches from the upstream. Defaults to a client with no timeout.
	Client *http.Client
}

// Worker is the offline cache worker.
type Worker struct {
	store    BucketStore
	upstream *url.URL
	opts     Options
	client   *http.Client
	proxy    *httputil.ReverseProxy

	installed atomic.Bool
	active    atomic.Bool
}

// New creates a Worker that fetches from upstream.
func New(store BucketStore, upstream string, opts Options) (*Worker, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid upstream URL %q", upstream)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.Errorf("invalid upstream URL %q: scheme and host required", upstream)
	}
	if opts.Version == "" {
		return nil, errors.New("offline worker: empty version")
	}
	if opts.APIPrefix == "" {
		opts.APIPrefix = "/api/"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}

	w := &Worker{
		store:    store,
		upstream: target,
		opts:     opts,
		client:   client,
	}
	w.proxy = &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
		},
		Transport: client.Transport,
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			log.Debug().Err(err).Str("component", "offline").Str("url", req.URL.RequestURI()).Msg("passthrough failed")
			writeJSONError(rw, http.StatusBadGateway, "upstream unavailable")
		},
	}
	return w, nil
}

// Version returns the bucket name this worker owns.
func (w *Worker) Version() string { return w.opts.Version }

// Active reports whether the worker intercepts requests.
func (w *Worker) Active() bool { return w.active.Load() }

// Start installs and, when SkipWaiting is set, activates the worker.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Install(ctx); err != nil {
		return err
	}
	if !w.opts.SkipWaiting {
		log.Info().Str("component", "offline").Str("bucket", w.opts.Version).Msg("installed, waiting for activation")
		return nil
	}
	return w.Activate(ctx)
}

// Install fetches every manifest path concurrently and stores them in the
// worker's bucket. It is all-or-nothing: if any fetch fails or answers
// with anything but 200 nothing is stored.
func (w *Worker) Install(ctx context.Context) error {
	entries := make([]models.CacheEntry, len(w.opts.Manifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range w.opts.Manifest {
		g.Go(func() error {
			res, err := w.fetch(gctx, http.MethodGet, path, nil)
			if err != nil {
				return errors.Wrapf(err, "precache %s", path)
			}
			if !isCacheable(res.statusCode) {
				return errors.Errorf("precache %s: upstream returned %d", path, res.statusCode)
			}
			entries[i] = w.entry(path, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "install")
	}

	existed, err := w.hasBucket(ctx)
	if err != nil {
		return errors.Wrap(err, "install")
	}
	if err := w.store.Open(ctx, w.opts.Version); err != nil {
		return errors.Wrap(err, "install")
	}
	for _, e := range entries {
		if err := w.store.Put(ctx, e); err != nil {
			if !existed {
				_, _ = w.store.Delete(ctx, w.opts.Version)
			}
			return errors.Wrapf(err, "install: store %s", e.URL)
		}
	}

	w.installed.Store(true)
	log.Info().Str("component", "offline").Str("bucket", w.opts.Version).Int("entries", len(entries)).Msg("installed")
	return nil
}

// Activate deletes every bucket except the current version and starts
// intercepting requests.
func (w *Worker) Activate(ctx context.Context) error {
	if !w.installed.Load() {
		return errors.New("activate: worker not installed")
	}
	keys, err := w.store.Keys(ctx)
	if err != nil {
		return errors.Wrap(err, "activate: list buckets")
	}
	for _, name := range keys {
		if name == w.opts.Version {
			continue
		}
		if _, err := w.store.Delete(ctx, name); err != nil {
			return errors.Wrapf(err, "activate: delete bucket %s", name)
		}
		log.Info().Str("component", "offline").Str("bucket", name).Msg("deleted stale bucket")
	}
	w.active.Store(true)
	log.Info().Str("component", "offline").Str("bucket", w.opts.Version).Msg("activated")
	return nil
}

// Stats returns bucket sizes and hit/miss counters.
func (w *Worker) Stats(ctx context.Context) (models.CacheStats, error) {
	return w.store.Stats(ctx)
}

// ServeHTTP implements http.Handler. Ranged requests bypass the bucket.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !w.active.Load() || r.Method != http.MethodGet || r.Header.Get("Range") != "" ||
		strings.HasPrefix(r.URL.Path, w.opts.APIPrefix) {
		w.proxy.ServeHTTP(rw, r)
		return
	}

	key := r.URL.RequestURI()
	if cached, ok := w.store.Match(r.Context(), w.opts.Version, key); ok {
		writeEntry(rw, cached.StatusCode, cached.Header, cached.Body, "hit")
		return
	}

	res, err := w.fetch(r.Context(), http.MethodGet, key, fillHeader(r.Header))
	if err != nil {
		log.Debug().Err(err).Str("component", "offline").Str("url", key).Msg("fetch failed")
		writeJSONError(rw, http.StatusBadGateway, "upstream unavailable")
		return
	}

	if isCacheable(res.statusCode) {
		if err := w.store.Put(r.Context(), w.entry(key, res)); err != nil {
			log.Warn().Err(err).Str("component", "offline").Str("url", key).Msg("cache put failed")
		}
	}
	writeEntry(rw, res.statusCode, res.header, res.body, "miss")
}

// ListenAndServe serves the worker on addr until ctx is cancelled.
func (w *Worker) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: w,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "offline").Str("addr", addr).Msg("offline worker listening")
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

func (w *Worker) hasBucket(ctx context.Context) (bool, error) {
	keys, err := w.store.Keys(ctx)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if k == w.opts.Version {
			return true, nil
		}
	}
	return false, nil
}

func (w *Worker) entry(key string, res *upstreamResult) models.CacheEntry {
	return models.CacheEntry{
		Bucket:     w.opts.Version,
		URL:        key,
		StatusCode: res.statusCode,
		Header:     res.header,
		Body:       res.body,
		CreatedAt:  time.Now().UTC(),
	}
}

// upstreamResult holds the response from a single upstream fetch.
type upstreamResult struct {
	statusCode int
	body       []byte
	header     http.Header
}

// fetch requests requestURI from the upstream origin.
func (w *Worker) fetch(ctx context.Context, method, requestURI string, header http.Header) (*upstreamResult, error) {
	ref, err := url.Parse(requestURI)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid path %q", requestURI)
	}
	target := w.upstream.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	header = resp.Header.Clone()
	header.Del("Content-Length")
	return &upstreamResult{
		statusCode: resp.StatusCode,
		body:       body,
		header:     header,
	}, nil
}

func writeEntry(rw http.ResponseWriter, status int, header http.Header, body []byte, cacheState string) {
	for k, vals := range header {
		for _, v := range vals {
			rw.Header().Add(k, v)
		}
	}
	rw.Header().Set(CacheHeader, cacheState)
	rw.WriteHeader(status)
	_, _ = rw.Write(body)
}

// isCacheable reports whether a response is a complete copy of the resource.
func isCacheable(status int) bool {
	return status == http.StatusOK
}

func fillHeader(h http.Header) http.Header {
	out := make(http.Header, len(fillHeaders))
	for _, k := range fillHeaders {
		if vals := h.Values(k); len(vals) > 0 {
			out[k] = append([]string(nil), vals...)
		}
	}
	return out
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"folio_error","code":%d}}`, message, code)
}
