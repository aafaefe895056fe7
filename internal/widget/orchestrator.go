// Package widget drives the chat widget: the submit/auto-reply/resolve
// state machine, voice capture, and the HTML and terminal renderers.
package widget

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/logging"
)

// State is the orchestrator's request state.
type State int

const (
	Idle State = iota
	AwaitingResponse
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting_response"
	default:
		return "unknown"
	}
}

// Default timings.
const (
	DefaultImmediateDelay = 200 * time.Millisecond
	DefaultDelayedDelay   = 15 * time.Second
	DefaultToastDuration  = 3 * time.Second
)

// ChatAPI is the server surface the orchestrator needs.
type ChatAPI interface {
	CreateConversation(ctx context.Context) (string, error)
	Chat(ctx context.Context, conversationID, query string) (string, error)
}

// Renderer receives UI side effects. Calls are serialized by the
// orchestrator and must not call back into it.
type Renderer interface {
	AddMessage(m domain.Message)
	ClearMessages()
	SetInput(text string)
	SetBusy(busy bool)
	SetSendEnabled(enabled bool)
	ShowError(message string)
	HideError()
}

// Orchestrator owns the input state, the transcript side effects and the
// auto-reply timers of one widget.
type Orchestrator struct {
	api   ChatAPI
	ui    Renderer
	clock clock.Clock
	log   *logging.Logger

	immediate      []string
	delayed        []string
	immediateDelay time.Duration
	delayedDelay   time.Duration
	toastDuration  time.Duration

	mu             sync.Mutex
	rng            *rand.Rand
	state          State
	conversationID string
	input          string
	turn           uint64
	immediateTimer *clock.Timer
	delayedTimer   *clock.Timer
	toastTimer     *clock.Timer
	toastSeq       uint64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the timer source.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithRand sets the reply picker's random source.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) { o.rng = r }
}

// WithPools replaces the auto-reply pools. Empty pools are ignored.
func WithPools(immediate, delayed []string) Option {
	return func(o *Orchestrator) {
		if len(immediate) > 0 {
			o.immediate = immediate
		}
		if len(delayed) > 0 {
			o.delayed = delayed
		}
	}
}

// WithDelays overrides the auto-reply and toast timings. Zero keeps the default.
func WithDelays(immediate, delayed, toast time.Duration) Option {
	return func(o *Orchestrator) {
		if immediate > 0 {
			o.immediateDelay = immediate
		}
		if delayed > 0 {
			o.delayedDelay = delayed
		}
		if toast > 0 {
			o.toastDuration = toast
		}
	}
}

// WithConfig applies the widget timings from cfg.
func WithConfig(cfg config.WidgetConfig) Option {
	return WithDelays(
		time.Duration(cfg.ImmediateDelayMs)*time.Millisecond,
		time.Duration(cfg.DelayedDelayMs)*time.Millisecond,
		time.Duration(cfg.ToastMs)*time.Millisecond,
	)
}

// New creates an idle orchestrator with no conversation.
func New(api ChatAPI, ui Renderer, log *logging.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:            api,
		ui:             ui,
		clock:          clock.New(),
		log:            log.Sub("widget"),
		immediate:      ImmediateReplies,
		delayed:        DelayedReplies,
		immediateDelay: DefaultImmediateDelay,
		delayedDelay:   DefaultDelayedDelay,
		toastDuration:  DefaultToastDuration,
		rng:            rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current request state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ConversationID returns the active conversation id, empty before Start.
func (o *Orchestrator) ConversationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conversationID
}

// Start renders the greeting and creates the first conversation.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.ui.AddMessage(o.assistantLocked(Greeting))
	o.mu.Unlock()

	if err := o.newConversation(ctx); err != nil {
		o.mu.Lock()
		o.showErrorLocked(MsgInitFailed)
		o.mu.Unlock()
		return err
	}
	return nil
}

// Clear resets the transcript to the greeting and starts a new conversation.
func (o *Orchestrator) Clear(ctx context.Context) error {
	o.mu.Lock()
	o.ui.ClearMessages()
	o.ui.AddMessage(o.assistantLocked(Greeting))
	o.mu.Unlock()

	if err := o.newConversation(ctx); err != nil {
		o.mu.Lock()
		o.showErrorLocked(MsgClearFailed)
		o.mu.Unlock()
		return err
	}
	return nil
}

func (o *Orchestrator) newConversation(ctx context.Context) error {
	o.mu.Lock()
	o.ui.SetBusy(true)
	o.ui.SetSendEnabled(false)
	o.mu.Unlock()

	id, err := o.api.CreateConversation(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.log.Error().Err(err).Msg("create conversation failed")
	} else {
		o.conversationID = id
		o.log.Info().Str("conversation_id", id).Msg("conversation created")
	}
	if o.state == Idle {
		o.ui.SetBusy(false)
		o.ui.SetSendEnabled(o.sendableLocked())
	}
	return err
}

// SetInput records an edit of the input box.
func (o *Orchestrator) SetInput(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.input = text
	o.ui.SetInput(text)
	o.ui.SetSendEnabled(o.sendableLocked())
}

// Input returns the current input box text.
func (o *Orchestrator) Input() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.input
}

// ErrNotAccepted is returned by Ask when text could not start a turn.
var ErrNotAccepted = errors.New("message not accepted")

// Submit sends text as the next user turn and blocks until the reply is
// rendered. It returns false without side effects when text is blank, no
// conversation exists, or a turn is already in flight.
func (o *Orchestrator) Submit(ctx context.Context, text string) bool {
	accepted, _ := o.send(ctx, text)
	return accepted
}

// Ask is Submit for callers that act on the outcome. It returns the chat
// error of a failed turn, or ErrNotAccepted when no turn was started.
func (o *Orchestrator) Ask(ctx context.Context, text string) error {
	accepted, err := o.send(ctx, text)
	if !accepted {
		return ErrNotAccepted
	}
	return err
}

func (o *Orchestrator) send(ctx context.Context, text string) (bool, error) {
	text = strings.TrimSpace(text)

	o.mu.Lock()
	if text == "" || o.conversationID == "" || o.state == AwaitingResponse {
		o.mu.Unlock()
		return false, nil
	}
	o.state = AwaitingResponse
	o.turn++
	turn, id := o.turn, o.conversationID

	o.ui.AddMessage(domain.Message{Role: domain.RoleUser, Content: text, Timestamp: o.clock.Now()})
	o.input = ""
	o.ui.SetInput("")
	o.ui.SetBusy(true)
	o.ui.SetSendEnabled(false)
	o.immediateTimer = o.clock.AfterFunc(o.immediateDelay, func() { o.fireImmediate(turn) })
	o.mu.Unlock()

	reply, err := o.api.Chat(ctx, id, text)
	o.resolve(reply, err)
	return true, err
}

// fireImmediate shows an immediate filler reply and arms the delayed one.
func (o *Orchestrator) fireImmediate(turn uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != AwaitingResponse || o.turn != turn {
		return
	}
	o.delayedTimer = o.clock.AfterFunc(o.delayedDelay, func() { o.fireDelayed(turn) })
	o.ui.AddMessage(o.assistantLocked(o.pickLocked(o.immediate)))
}

func (o *Orchestrator) fireDelayed(turn uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != AwaitingResponse || o.turn != turn {
		return
	}
	o.ui.AddMessage(o.assistantLocked(o.pickLocked(o.delayed)))
}

// resolve ends the in-flight turn with the chat outcome.
func (o *Orchestrator) resolve(reply string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopTimersLocked()
	o.state = Idle

	if err != nil {
		o.log.Error().Err(err).Str("conversation_id", o.conversationID).Msg("chat failed")
		o.showErrorLocked(MsgSendFailed)
	} else {
		if strings.TrimSpace(reply) == "" {
			o.log.Warn().Str("conversation_id", o.conversationID).Msg("empty reply")
			reply = Apology
		}
		o.ui.AddMessage(o.assistantLocked(reply))
	}

	o.ui.SetBusy(false)
	o.ui.SetSendEnabled(o.sendableLocked())
}

func (o *Orchestrator) stopTimersLocked() {
	if o.immediateTimer != nil {
		o.immediateTimer.Stop()
		o.immediateTimer = nil
	}
	if o.delayedTimer != nil {
		o.delayedTimer.Stop()
		o.delayedTimer = nil
	}
}

// showError surfaces a toast that hides itself after the toast duration.
func (o *Orchestrator) showError(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.showErrorLocked(message)
}

func (o *Orchestrator) showErrorLocked(message string) {
	if o.toastTimer != nil {
		o.toastTimer.Stop()
	}
	o.toastSeq++
	seq := o.toastSeq
	o.ui.ShowError(message)
	o.toastTimer = o.clock.AfterFunc(o.toastDuration, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.toastSeq == seq {
			o.ui.HideError()
		}
	})
}

func (o *Orchestrator) sendableLocked() bool {
	return o.state == Idle && strings.TrimSpace(o.input) != ""
}

func (o *Orchestrator) assistantLocked(text string) domain.Message {
	return domain.Message{Role: domain.RoleAssistant, Content: text, Timestamp: o.clock.Now()}
}

func (o *Orchestrator) pickLocked(pool []string) string {
	return pool[o.rng.IntN(len(pool))]
}
