package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/folio-site/folio/pkg/models"
)

// DefaultRetryDelay is the pause before the single transport retry.
const DefaultRetryDelay = 100 * time.Millisecond

// Client posts chat requests to the completion endpoint.
type Client struct {
	endpoint   string
	http       *http.Client
	retryDelay time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRetryDelay sets the pause before the transport retry.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// WithTimeout bounds each attempt. Zero keeps the transport default.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Transport: c.http.Transport, Timeout: d}
		}
	}
}

// NewClient creates a Client for endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		http:       &http.Client{},
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// upstreamResult holds the response from a single attempt.
type upstreamResult struct {
	statusCode int
	body       []byte
	readErr    error
}

// Complete sends req and returns the assistant reply. A transport failure is
// retried once with the same payload after the retry delay; when the retry
// fails too, the first failure is returned.
func (c *Client) Complete(ctx context.Context, req models.ChatRequest) (string, error) {
	if req.History == nil {
		req.History = []models.Turn{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "encode chat request")
	}

	res, err := c.post(ctx, body)
	if err != nil {
		log.Debug().Err(err).Str("component", "chat_client").Msg("chat request failed, retrying once")

		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", &Error{Kind: KindTransport, Err: err}
		case <-timer.C:
		}

		var retryErr error
		res, retryErr = c.post(ctx, body)
		if retryErr != nil {
			log.Debug().Err(retryErr).Str("component", "chat_client").Msg("chat retry failed")
			return "", &Error{Kind: KindTransport, Err: err}
		}
	}

	return decodeResult(res)
}

func (c *Client) post(ctx context.Context, body []byte) (*upstreamResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	return &upstreamResult{
		statusCode: resp.StatusCode,
		body:       respBody,
		readErr:    readErr,
	}, nil
}

// decodeResult validates a response in order: status, JSON shape, explicit
// error field, reply field.
func decodeResult(res *upstreamResult) (string, error) {
	if res.statusCode < 200 || res.statusCode > 299 {
		text := string(res.body)
		if res.readErr != nil {
			text = fmt.Sprintf("HTTP %d", res.statusCode)
		}
		return "", serverError(res.statusCode, text)
	}

	if res.readErr != nil {
		return "", &Error{Kind: KindMalformed, Status: res.statusCode, Message: "Invalid response from server", Err: res.readErr}
	}

	var out models.ChatResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		return "", &Error{Kind: KindMalformed, Status: res.statusCode, Message: "Invalid response from server", Err: err}
	}
	if out.Error != "" {
		return "", &Error{Kind: KindApplication, Status: res.statusCode, Message: out.Error}
	}
	if out.Response == "" {
		return "", &Error{Kind: KindEmpty, Status: res.statusCode, Message: "No response from server"}
	}
	return out.Response, nil
}
