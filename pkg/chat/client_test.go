package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-site/folio/pkg/models"
)

// scriptedTransport fails or answers each attempt in turn and records the
// request bodies it saw.
type scriptedTransport struct {
	mu     sync.Mutex
	steps  []func(*http.Request) (*http.Response, error)
	bodies []string
}

func (s *scriptedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.bodies = append(s.bodies, string(body))
	step := s.steps[0]
	if len(s.steps) > 1 {
		s.steps = s.steps[1:]
	}
	s.mu.Unlock()
	return step(r)
}

func (s *scriptedTransport) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func fail(err error) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) { return nil, err }
}

func respond(status int, body string) func(*http.Request) (*http.Response, error) {
	return func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	}
}

func newScriptedClient(steps ...func(*http.Request) (*http.Response, error)) (*Client, *scriptedTransport) {
	tr := &scriptedTransport{steps: steps}
	c := NewClient("http://chat.test/api/chat",
		WithHTTPClient(&http.Client{Transport: tr}),
		WithRetryDelay(time.Millisecond),
	)
	return c, tr
}

var helloReq = models.ChatRequest{
	Message: "Hello",
	History: []models.Turn{{Role: models.RoleUser, Content: "Hello"}},
}

func TestCompleteSuccess(t *testing.T) {
	var got models.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(models.ChatResponse{Response: "Hello there"})
	}))
	defer srv.Close()

	reply, err := NewClient(srv.URL).Complete(context.Background(), helloReq)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply)
	assert.Equal(t, helloReq, got)
}

func TestCompleteEncodesEmptyHistoryAsArray(t *testing.T) {
	c, tr := newScriptedClient(respond(200, `{"response":"ok"}`))
	_, err := c.Complete(context.Background(), models.ChatRequest{Message: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"hi","history":[]}`, tr.bodies[0])
}

func TestCompleteRetriesTransportFailureOnce(t *testing.T) {
	c, tr := newScriptedClient(
		fail(errors.New("connection reset")),
		respond(200, `{"response":"recovered"}`),
	)

	reply, err := c.Complete(context.Background(), helloReq)
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	require.Equal(t, 2, tr.attempts())
	assert.Equal(t, tr.bodies[0], tr.bodies[1], "retry must reuse the original payload")
}

func TestCompleteSurfacesOriginalTransportError(t *testing.T) {
	original := errors.New("first failure")
	c, tr := newScriptedClient(fail(original), fail(errors.New("second failure")))

	_, err := c.Complete(context.Background(), helloReq)
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.ErrorIs(t, err, original)
	assert.Contains(t, err.Error(), "first failure")
	assert.NotContains(t, err.Error(), "second failure")
	assert.Equal(t, 2, tr.attempts())
	assert.Equal(t, tr.bodies[0], tr.bodies[1])
}

func TestCompleteRetryServerErrorIsValidated(t *testing.T) {
	c, _ := newScriptedClient(fail(errors.New("dns")), respond(500, "boom"))
	_, err := c.Complete(context.Background(), helloReq)
	assert.Equal(t, KindServer, KindOf(err))
}

func TestCompleteRetryHonoursContext(t *testing.T) {
	tr := &scriptedTransport{steps: []func(*http.Request) (*http.Response, error){fail(errors.New("down"))}}
	c := NewClient("http://chat.test", WithHTTPClient(&http.Client{Transport: tr}), WithRetryDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, helloReq)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Equal(t, 1, tr.attempts())
}

func TestCompleteValidation(t *testing.T) {
	longBody := strings.Repeat("x", 300)

	cases := []struct {
		name     string
		status   int
		body     string
		kind     Kind
		contains string
	}{
		{"server error", 500, "internal failure", KindServer, "Server error (500): internal failure"},
		{"server error body truncated", 502, longBody, KindServer, "(502): " + strings.Repeat("x", 100)},
		{"401 html", 401, "<!doctype html><html><body>Login</body></html>", KindUpstreamAuth, "API authentication failed"},
		{"401 html uppercase", 401, "<!DOCTYPE HTML>", KindUpstreamAuth, "API authentication failed"},
		{"401 json", 401, `{"error":"bad key"}`, KindServer, "Server error (401)"},
		{"not json", 200, "<html>", KindMalformed, "Invalid response from server"},
		{"explicit error", 200, `{"error":"OpenAI API key not configured"}`, KindApplication, "OpenAI API key not configured"},
		{"missing reply", 200, `{"something":"else"}`, KindEmpty, "No response from server"},
		{"empty reply", 200, `{"response":""}`, KindEmpty, "No response from server"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, tr := newScriptedClient(respond(tc.status, tc.body))
			_, err := c.Complete(context.Background(), helloReq)
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
			assert.Contains(t, err.Error(), tc.contains)
			assert.Equal(t, 1, tr.attempts(), "only transport failures are retried")
		})
	}
}

func TestServerErrorBodyNotTruncatedPastLimit(t *testing.T) {
	err := serverError(500, strings.Repeat("y", 101))
	assert.Equal(t, "Server error (500): "+strings.Repeat("y", 100), err.Error())
}

func TestWithTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"response":"late"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTimeout(20*time.Millisecond), WithRetryDelay(time.Millisecond))
	_, err := c.Complete(context.Background(), helloReq)
	assert.Equal(t, KindTransport, KindOf(err))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "", Display(nil))
	assert.Equal(t, "Error: short", Display(errors.New("short")))
	assert.Equal(t, genericErrorText, Display(&Error{Message: "", Kind: KindUnknown, Err: errors.New("")}))

	long := strings.Repeat("a", 81)
	assert.Equal(t, "Error: "+strings.Repeat("a", 80)+"...", Display(errors.New(long)))

	exact := strings.Repeat("b", 80)
	assert.Equal(t, "Error: "+exact, Display(errors.New(exact)))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindEmpty, KindOf(errors.Wrap(&Error{Kind: KindEmpty}, "wrapped")))
	assert.Equal(t, "upstream_auth_misconfigured", KindUpstreamAuth.String())
}
