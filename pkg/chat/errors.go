package chat

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies a failed round trip.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport is a network, DNS or timeout failure. The only retried kind.
	KindTransport
	// KindUpstreamAuth is a 401 answered with an HTML auth-challenge page,
	// which means the hosting platform, not the chat function, rejected us.
	KindUpstreamAuth
	// KindServer is any other non-2xx status.
	KindServer
	// KindMalformed is a body that is not the expected JSON structure.
	KindMalformed
	// KindApplication is a parsed body carrying an explicit error field.
	KindApplication
	// KindEmpty is a parsed body without a reply.
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport_failure"
	case KindUpstreamAuth:
		return "upstream_auth_misconfigured"
	case KindServer:
		return "server_error"
	case KindMalformed:
		return "malformed_response"
	case KindApplication:
		return "application_error"
	case KindEmpty:
		return "empty_response"
	default:
		return "unknown"
	}
}

// Error is returned by Client.Complete and Session.Send.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

const (
	displayLimit     = 80
	serverBodyLimit  = 100
	genericErrorText = "Sorry, I encountered an error. Please try again."
)

// Display renders err the way the error banner shows it: prefixed and
// ellipsized past 80 characters.
func Display(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if msg == "" {
		return genericErrorText
	}
	return "Error: " + ellipsize(msg, displayLimit)
}

func ellipsize(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func serverError(status int, body string) *Error {
	if status == 401 && looksLikeHTML(body) {
		return &Error{
			Kind:    KindUpstreamAuth,
			Status:  status,
			Message: "API authentication failed: the host answered with a login page, check the chat function's deployment and API key",
		}
	}
	return &Error{
		Kind:    KindServer,
		Status:  status,
		Message: fmt.Sprintf("Server error (%d): %s", status, truncate(body, serverBodyLimit)),
	}
}

func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "<!doctype html") || strings.Contains(lower, "<html")
}
