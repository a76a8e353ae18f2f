package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachepkg "github.com/folio-site/folio/pkg/cache/sqlite"
	"github.com/folio-site/folio/pkg/chat"
	"github.com/folio-site/folio/pkg/config"
	"github.com/folio-site/folio/pkg/models"
	"github.com/folio-site/folio/pkg/offline"
)

type pong struct{}

func (pong) Complete(context.Context, models.ChatRequest) (string, error) { return "pong", nil }

func TestParseZerologLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseZerologLevel(in), in)
	}
}

func TestIsYes(t *testing.T) {
	assert.True(t, isYes("y"))
	assert.True(t, isYes(" YES\n"))
	assert.False(t, isYes(""))
	assert.False(t, isYes("nope"))
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("y\n"), &out, "Clear?"))
	assert.Equal(t, "Clear? [y/N] ", out.String())
	assert.False(t, confirm(strings.NewReader(""), &out, "Clear?"))
}

func newTestSession(t *testing.T) (*chat.Session, *termView, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.History.DBPath = filepath.Join(t.TempDir(), "history.db")

	store, closeStore, err := openHistory(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(closeStore)

	var out bytes.Buffer
	view := &termView{out: &out}
	s := chat.NewSession(pong{}, store, view)
	require.NoError(t, s.Attach(context.Background()))
	return s, view, &out
}

func TestRunREPL(t *testing.T) {
	s, view, out := newTestSession(t)

	err := runREPL(context.Background(), strings.NewReader("ping\n\nping again\n/quit\nignored\n"), view, s)
	require.NoError(t, err)

	assert.Len(t, s.History(), 5)
	assert.Contains(t, out.String(), "pong")
	assert.Contains(t, out.String(), "/clear")
}

func TestRunREPLClear(t *testing.T) {
	s, view, _ := newTestSession(t)

	err := runREPL(context.Background(), strings.NewReader("ping\n/clear\nn\n/clear\ny\n"), view, s)
	require.NoError(t, err)

	assert.Equal(t, []models.Turn{{Role: models.RoleAssistant, Content: chat.DefaultWelcome}}, s.History())
}

func TestScanLinesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lines := scanLines(ctx, strings.NewReader("a\nb\nc\n"))

	delivered := false
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-lines:
			if ok {
				delivered = true
				return false
			}
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, delivered, "no line is delivered once ctx is done")
}

func TestRunREPLReturnsOnCancel(t *testing.T) {
	s, view, _ := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- runREPL(ctx, strings.NewReader("ping\n"), view, s) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runREPL did not return after cancel")
	}
}

func newTestWorker(t *testing.T, skipWaiting bool) *offline.Worker {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "page "+r.URL.Path)
	}))
	t.Cleanup(origin.Close)

	cfg := config.Default()
	cfg.Offline.DBPath = filepath.Join(t.TempDir(), "cache.db")
	cfg.Offline.Upstream = origin.URL
	cfg.Offline.SkipWaiting = skipWaiting

	cache, err := cachepkg.New(cfg.Offline.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	w, err := newWorker(cfg, cache)
	require.NoError(t, err)
	return w
}

func TestStartWorkerActivatesOnSignal(t *testing.T) {
	w := newTestWorker(t, false)
	activate := make(chan os.Signal, 1)

	done := make(chan error, 1)
	go func() { done <- startWorker(context.Background(), w, activate) }()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, w.Active(), "waits for activation")

	activate <- syscall.SIGHUP
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("startWorker did not return after activation")
	}
	assert.True(t, w.Active())
}

func TestStartWorkerSkipWaiting(t *testing.T) {
	w := newTestWorker(t, true)
	require.NoError(t, startWorker(context.Background(), w, nil))
	assert.True(t, w.Active())
}

func TestServeFailsBeforeListeningWhenCacheUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	dir := t.TempDir()
	path := filepath.Join(dir, "folio.yaml")
	yaml := "listen: " + addr + "\n" +
		"offline:\n  enabled: true\n  db_path: " + filepath.Join(dir, "missing", "dir", "cache.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })

	cmd := newServeCmd()
	err = cmd.RunE(cmd, nil)
	require.ErrorContains(t, err, "init offline cache")

	ln, err = net.Listen("tcp", addr)
	require.NoError(t, err, "the site listener must not be left running")
	require.NoError(t, ln.Close())
}
