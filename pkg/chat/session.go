// Package chat implements the chat session controller: it owns the
// in-memory transcript of one attached chat widget, persists it through a
// history store, talks to the completion endpoint and tells the
// presentation layer what to draw.
//
// A Session is created when a view attaches and discarded when it
// detaches. At most one Send is in flight per session; a Send started while
// another is running is dropped, not queued.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/folio-site/folio/pkg/models"
)

// DefaultContextWindow is how many recent turns accompany each request.
const DefaultContextWindow = 10

// DefaultMaxTurns bounds the in-memory transcript between sends. It
// matches the history store's retention bound.
const DefaultMaxTurns = 50

// DefaultWelcome seeds an empty transcript.
const DefaultWelcome = "Hi! I'm an AI assistant for this portfolio. I can answer questions about experience, projects, skills, and more. Feel free to ask me anything!"

var (
	// ErrNotAttached is returned by Send and Clear before Attach.
	ErrNotAttached = errors.New("chat: session not attached")
	// ErrDetached is returned once the session has been detached.
	ErrDetached = errors.New("chat: session detached")
)

// Status is the send gate.
type Status int

const (
	Idle Status = iota
	Sending
)

func (s Status) String() string {
	if s == Sending {
		return "sending"
	}
	return "idle"
}

// Completer answers chat requests. *Client is the production implementation.
type Completer interface {
	Complete(ctx context.Context, req models.ChatRequest) (string, error)
}

// Persister is the write-through backing copy of the transcript.
// *history.Store is the production implementation.
type Persister interface {
	Save(ctx context.Context, turns []models.Turn)
	Load(ctx context.Context) []models.Turn
	Clear(ctx context.Context)
}

type lifecycle int

const (
	created lifecycle = iota
	attached
	detached
)

// Session is one chat widget's conversation.
type Session struct {
	id            string
	client        Completer
	store         Persister
	view          View
	contextWindow int
	maxTurns      int
	welcome       string

	mu     sync.Mutex
	state  lifecycle
	status Status
	turns  []models.Turn
}

// Option configures a Session.
type Option func(*Session)

// WithContextWindow sets how many recent turns are sent with each request.
func WithContextWindow(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.contextWindow = n
		}
	}
}

// WithMaxTurns bounds how many turns the session keeps in memory.
func WithMaxTurns(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithWelcome sets the assistant turn that seeds an empty transcript.
func WithWelcome(text string) Option {
	return func(s *Session) {
		if text != "" {
			s.welcome = text
		}
	}
}

// NewSession creates a detached session. A nil view is replaced by NopView.
func NewSession(client Completer, store Persister, view View, opts ...Option) *Session {
	if view == nil {
		view = NopView{}
	}
	s := &Session{
		id:            uuid.NewString(),
		client:        client,
		store:         store,
		view:          view,
		contextWindow: DefaultContextWindow,
		maxTurns:      DefaultMaxTurns,
		welcome:       DefaultWelcome,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Status reports whether a send is in flight.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// History returns a copy of the in-memory transcript.
func (s *Session) History() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Attach loads the persisted transcript once. An empty transcript is seeded
// with the welcome turn; a non-empty one is rendered as-is.
func (s *Session) Attach(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case attached:
		s.mu.Unlock()
		return errors.New("chat: session already attached")
	case detached:
		s.mu.Unlock()
		return ErrDetached
	}
	s.state = attached
	s.mu.Unlock()

	turns := s.store.Load(ctx)
	if len(turns) == 0 {
		s.seedWelcome(ctx)
		return nil
	}

	s.mu.Lock()
	s.turns = tail(turns, s.maxTurns)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.view.RenderTranscript(snapshot)
	s.view.RevealHistoryControls()
	log.Debug().Str("session_id", s.id).Int("turns", len(snapshot)).Msg("restored transcript")
	return nil
}

// Detach ends the session. A send already in flight still completes.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = detached
}

// Send runs one request/response cycle for message. Blank messages and
// calls made while another send is in flight are ignored and return nil.
// On failure the user turn is rolled back, the view shows the error and the
// classified error is returned.
//
// The transcript may hold one turn over the bound while a send is in flight;
// it is trimmed once the reply is appended. Saves ignore cancellation of ctx
// so an interrupted send still leaves the persisted copy consistent.
func (s *Session) Send(ctx context.Context, message string) error {
	text := strings.TrimSpace(message)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if err := s.checkAttachedLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.status == Sending {
		s.mu.Unlock()
		log.Debug().Str("session_id", s.id).Msg("send dropped, another send is in flight")
		return nil
	}
	s.status = Sending
	userTurn := models.Turn{Role: models.RoleUser, Content: text}
	s.turns = append(s.turns, userTurn)
	userIndex := len(s.turns) - 1
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	saveCtx := context.WithoutCancel(ctx)
	defer func() {
		s.mu.Lock()
		s.status = Idle
		s.mu.Unlock()
		s.view.EnableInput()
	}()

	s.view.DisableInput()
	s.store.Save(saveCtx, snapshot)
	s.view.RenderUserTurn(text)
	s.view.ShowTyping()

	reply, err := s.complete(ctx, models.ChatRequest{
		Message: text,
		History: tail(snapshot, s.contextWindow),
	})
	s.view.HideTyping()

	if err != nil {
		log.Warn().Err(err).Str("session_id", s.id).Str("kind", KindOf(err).String()).Msg("chat round trip failed")
		s.rollback(saveCtx, userIndex, userTurn)
		s.view.ShowError(Display(err))
		return err
	}

	s.mu.Lock()
	s.turns = append(s.turns, models.Turn{Role: models.RoleAssistant, Content: reply})
	if len(s.turns) > s.maxTurns {
		s.turns = append([]models.Turn(nil), tail(s.turns, s.maxTurns)...)
	}
	snapshot = s.snapshotLocked()
	s.mu.Unlock()

	s.store.Save(saveCtx, snapshot)
	s.view.RenderAssistantTurn(reply)
	if len(snapshot) > 1 {
		s.view.RevealHistoryControls()
	}
	return nil
}

// Clear empties the transcript, deletes the persisted copy and reseeds the
// welcome turn. Asking the user to confirm is the caller's job.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkAttachedLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.turns = nil
	s.mu.Unlock()

	s.store.Clear(ctx)
	s.view.ClearTranscript()
	s.view.HideHistoryControls()
	s.seedWelcome(ctx)
	return nil
}

// complete calls the client, turning a panic into an error so the failure
// path still runs.
func (s *Session) complete(ctx context.Context, req models.ChatRequest) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("chat: completion panicked: %v", r)
		}
	}()
	return s.client.Complete(ctx, req)
}

// rollback pops the user turn added by a failed send, if it is still last.
func (s *Session) rollback(ctx context.Context, index int, turn models.Turn) {
	s.mu.Lock()
	last := len(s.turns) - 1
	if last != index || s.turns[last] != turn {
		s.mu.Unlock()
		return
	}
	s.turns = s.turns[:last]
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.store.Save(ctx, snapshot)
	s.view.RemoveLastUserRender()
}

func (s *Session) seedWelcome(ctx context.Context) {
	s.mu.Lock()
	s.turns = append(s.turns, models.Turn{Role: models.RoleAssistant, Content: s.welcome})
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.store.Save(ctx, snapshot)
	s.view.ReseedWelcome(s.welcome)
}

func (s *Session) checkAttachedLocked() error {
	switch s.state {
	case created:
		return ErrNotAttached
	case detached:
		return ErrDetached
	}
	return nil
}

func (s *Session) snapshotLocked() []models.Turn {
	out := make([]models.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// tail returns the last n turns.
func tail(turns []models.Turn, n int) []models.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
