// Package hooks fans conversation and gateway lifecycle events out to
// named handlers.
package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/soyeahso/xiaoji/internal/metrics"
)

const (
	EventGatewayStart        = "gateway_start"
	EventGatewayStop         = "gateway_stop"
	EventConversationCreated = "conversation_created"
	EventTurnCompleted       = "turn_completed"
	EventSpeechRecognized    = "speech_recognized"
	EventUpstreamError       = "upstream_error"
)

// AllEvents is every event the server emits.
var AllEvents = []string{
	EventGatewayStart,
	EventGatewayStop,
	EventConversationCreated,
	EventTurnCompleted,
	EventSpeechRecognized,
	EventUpstreamError,
}

// Payload is what a handler receives.
type Payload struct {
	Event string         `json:"event"`
	At    time.Time      `json:"at"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to one event. A returned error is logged and counted,
// later handlers still run.
type Handler func(ctx context.Context, p Payload) error

type subscription struct {
	name string
	fn   Handler
}

// Manager holds the handler table. The zero *Manager (nil) drops every
// event, so components take one unconditionally.
type Manager struct {
	mu   sync.RWMutex
	subs map[string][]subscription
	wg   sync.WaitGroup
	log  *logging.Logger
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{subs: make(map[string][]subscription), log: log.Sub("hooks")}
}

// On appends a handler for event. Handlers run in registration order.
func (m *Manager) On(event, name string, fn Handler) {
	m.mu.Lock()
	m.subs[event] = append(m.subs[event], subscription{name: name, fn: fn})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// OnAll registers fn for every event in AllEvents.
func (m *Manager) OnAll(name string, fn Handler) {
	for _, e := range AllEvents {
		m.On(e, name, fn)
	}
}

// Count reports how many handlers event has.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[event])
}

// Emit runs the handlers of event one after another and returns when all
// are done.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	m.dispatch(ctx, event, data, false)
}

// EmitAsync starts each handler in its own goroutine. Drain waits for them.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	m.dispatch(ctx, event, data, true)
}

func (m *Manager) dispatch(ctx context.Context, event string, data map[string]any, async bool) {
	if m == nil {
		return
	}
	m.mu.RLock()
	subs := append([]subscription(nil), m.subs[event]...)
	m.mu.RUnlock()

	p := Payload{Event: event, At: time.Now(), Data: data}
	for _, s := range subs {
		if !async {
			m.run(ctx, s, p)
			continue
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.run(ctx, s, p)
		}()
	}
}

func (m *Manager) run(ctx context.Context, s subscription, p Payload) {
	if err := s.fn(ctx, p); err != nil {
		metrics.RecordHookFailure(p.Event, s.name)
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", s.name).Msg("hook failed")
	}
}

// Drain waits for handlers started by EmitAsync, or for ctx.
func (m *Manager) Drain(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AuditLog logs each event with its data fields at info level.
func AuditLog(log *logging.Logger) Handler {
	return func(_ context.Context, p Payload) error {
		ev := log.Info().Str("event", p.Event)
		for k, v := range p.Data {
			ev = ev.Interface(k, v)
		}
		ev.Msg("lifecycle event")
		return nil
	}
}
