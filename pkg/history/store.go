package history

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/folio-site/folio/pkg/models"
)

// Default limits.
const (
	DefaultKey           = "chatbot-history"
	DefaultMaxTurns      = 50
	DefaultFallbackTurns = 25
)

// Store persists a transcript under a single key.
type Store struct {
	backend       Backend
	key           string
	maxTurns      int
	fallbackTurns int
}

// Option configures a Store.
type Option func(*Store)

// WithKey sets the storage key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithLimits sets how many turns are kept, and how many are kept on the
// retry after the backend runs out of room.
func WithLimits(maxTurns, fallbackTurns int) Option {
	return func(s *Store) {
		s.maxTurns = maxTurns
		s.fallbackTurns = fallbackTurns
	}
}

// NewStore wraps backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:       backend,
		key:           DefaultKey,
		maxTurns:      DefaultMaxTurns,
		fallbackTurns: DefaultFallbackTurns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes the most recent turns. On ErrQuotaExceeded it retries once
// with the fallback bound; any other outcome is logged and dropped.
func (s *Store) Save(ctx context.Context, turns []models.Turn) {
	err := s.write(ctx, tail(turns, s.maxTurns))
	if errors.Is(err, ErrQuotaExceeded) {
		log.Debug().Str("component", "history").Int("turns", len(turns)).
			Msg("quota exceeded, retrying with fewer turns")
		err = s.write(ctx, tail(turns, s.fallbackTurns))
	}
	if err != nil {
		log.Debug().Err(err).Str("component", "history").Msg("dropping transcript save")
	}
}

func (s *Store) write(ctx context.Context, turns []models.Turn) error {
	if turns == nil {
		turns = []models.Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return errors.Wrap(err, "encode transcript")
	}
	return s.backend.Set(ctx, s.key, data)
}

// Load returns the stored transcript, or an empty one when nothing usable
// is stored.
func (s *Store) Load(ctx context.Context) []models.Turn {
	data, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		log.Debug().Err(err).Str("component", "history").Msg("transcript unreadable")
		return []models.Turn{}
	}
	if !ok {
		return []models.Turn{}
	}

	var stored []models.Turn
	if err := json.Unmarshal(data, &stored); err != nil {
		log.Debug().Err(err).Str("component", "history").Msg("transcript corrupt")
		return []models.Turn{}
	}

	turns := make([]models.Turn, 0, len(stored))
	for _, t := range stored {
		if t.ValidRole() {
			turns = append(turns, t)
		}
	}
	return turns
}

// Clear deletes the stored transcript.
func (s *Store) Clear(ctx context.Context) {
	if err := s.backend.Delete(ctx, s.key); err != nil {
		log.Debug().Err(err).Str("component", "history").Msg("transcript delete failed")
	}
}

// tail returns the last n turns of turns.
func tail(turns []models.Turn, n int) []models.Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
