// Package session keeps the mapping from upstream conversation ids to
// their message histories.
package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/hooks"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/soyeahso/xiaoji/internal/metrics"
)

// Minter issues new conversation ids. The upstream client implements it.
type Minter interface {
	CreateConversation(ctx context.Context) (string, error)
}

// Registry creates conversations and records their turns.
type Registry struct {
	minter Minter
	store  Store
	hooks  *hooks.Manager
	log    *logging.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithHooks emits conversation_created and turn_completed through h.
func WithHooks(h *hooks.Manager) Option {
	return func(r *Registry) { r.hooks = h }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry. A nil store means a fresh MemoryStore.
func NewRegistry(minter Minter, store Store, log *logging.Logger, opts ...Option) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registry{
		minter: minter,
		store:  store,
		log:    log.Sub("session"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create asks the upstream platform for a new conversation id and stores
// an empty session under it.
func (r *Registry) Create(ctx context.Context) (string, error) {
	id, err := r.minter.CreateConversation(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", &domain.UpstreamError{Op: "conversation.create", Err: errors.New("no conversation_id in response")}
	}

	err = r.store.Insert(domain.Session{ID: id, CreatedAt: r.now(), Messages: []domain.Message{}})
	if errors.Is(err, ErrExists) {
		return "", &domain.UpstreamError{Op: "conversation.create", Err: errors.Errorf("conversation_id %q issued twice", id)}
	}
	if err != nil {
		return "", errors.Wrap(err, "store session")
	}

	r.refreshGauge()
	r.log.Info().Str("conversation_id", id).Msg("conversation created")
	r.hooks.EmitAsync(ctx, hooks.EventConversationCreated, map[string]any{"conversation_id": id})
	return id, nil
}

// AppendTurn records a user message and the assistant reply as a
// contiguous pair. Unknown ids are ignored.
func (r *Registry) AppendTurn(id, userText, assistantText string) {
	ok, err := r.store.Append(id, domain.Turn(userText, assistantText, r.now())...)
	switch {
	case err != nil:
		r.log.Error().Err(err).Str("conversation_id", id).Msg("failed to append turn")
		return
	case !ok:
		r.log.Debug().Str("conversation_id", id).Msg("append to unknown conversation ignored")
		return
	}

	metrics.TurnsTotal.Inc()
	r.hooks.EmitAsync(context.Background(), hooks.EventTurnCompleted, map[string]any{
		"conversation_id": id,
		"reply_length":    len([]rune(assistantText)),
	})
}

// History returns a copy of the session with the given id.
func (r *Registry) History(id string) (domain.Session, error) {
	s, ok, err := r.store.Get(id)
	if err != nil {
		return domain.Session{}, errors.Wrap(err, "load session")
	}
	if !ok {
		return domain.Session{}, &domain.NotFoundError{Kind: "conversation", ID: id}
	}
	return s, nil
}

// Count returns the number of known sessions, or 0 if the store fails.
func (r *Registry) Count() int {
	n, err := r.store.Count()
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to count sessions")
		return 0
	}
	return n
}

func (r *Registry) refreshGauge() {
	metrics.ConversationsActive.Set(float64(r.Count()))
}
