package widget

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/soyeahso/xiaoji/internal/domain"
)

// Input placeholders.
const (
	PlaceholderIdle = "请输入您的问题..."
	PlaceholderBusy = "对方正在输入..."
)

const avatarHTML = `<img src="icon.png" alt="集美发展集团停车场助理">`

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// EscapeHTML escapes & < > " and ' for insertion into widget markup.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// FormatTime renders at relative to now the way message bubbles show it.
func FormatTime(at, now time.Time) string {
	diff := now.Sub(at)
	switch {
	case diff < time.Minute:
		return "刚刚"
	case diff < time.Hour:
		return fmt.Sprintf("%d分钟前", int(diff/time.Minute))
	}
	at = at.In(now.Location())
	if y, m, d := at.Date(); y == now.Year() && m == now.Month() && d == now.Day() {
		return at.Format("15:04")
	}
	return fmt.Sprintf("%d月%d日 %s", int(at.Month()), at.Day(), at.Format("15:04"))
}

// RenderMessage returns the markup of one message bubble.
func RenderMessage(m domain.Message, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="message %s">`, m.Role)
	if m.Role == domain.RoleAssistant {
		fmt.Fprintf(&b, `<div class="message-avatar">%s</div>`, avatarHTML)
	}
	fmt.Fprintf(&b, `<div class="message-content"><div class="message-text">%s</div><div class="message-time">%s</div></div>`,
		EscapeHTML(m.Content), FormatTime(m.Timestamp, now))
	b.WriteString(`</div>`)
	return b.String()
}

// View is a snapshot of the widget controls.
type View struct {
	Messages    []domain.Message
	Input       string
	Placeholder string
	InputLocked bool
	SendEnabled bool
	Loading     bool
	Toast       string // empty when hidden
}

// HTMLRenderer keeps the widget state and renders the transcript as markup.
type HTMLRenderer struct {
	clock clock.Clock

	mu   sync.Mutex
	view View
}

// NewHTMLRenderer creates an empty renderer. A nil clock uses wall time.
func NewHTMLRenderer(c clock.Clock) *HTMLRenderer {
	if c == nil {
		c = clock.New()
	}
	return &HTMLRenderer{clock: c, view: View{Placeholder: PlaceholderIdle}}
}

func (r *HTMLRenderer) AddMessage(m domain.Message) {
	if m.Content == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.Messages = append(r.view.Messages, m)
}

func (r *HTMLRenderer) ClearMessages() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.Messages = nil
}

func (r *HTMLRenderer) SetInput(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.Input = text
}

func (r *HTMLRenderer) SetBusy(busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.Loading = busy
	r.view.InputLocked = busy
	if busy {
		r.view.Placeholder = PlaceholderBusy
	} else {
		r.view.Placeholder = PlaceholderIdle
	}
}

func (r *HTMLRenderer) SetSendEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.SendEnabled = enabled
}

func (r *HTMLRenderer) ShowError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.Toast = message
}

func (r *HTMLRenderer) HideError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.view.Toast = ""
}

// Snapshot returns a copy of the current view.
func (r *HTMLRenderer) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.view
	v.Messages = append([]domain.Message(nil), r.view.Messages...)
	return v
}

// HTML renders the transcript with timestamps relative to now.
func (r *HTMLRenderer) HTML() string {
	v := r.Snapshot()
	now := r.clock.Now()
	var b strings.Builder
	for _, m := range v.Messages {
		b.WriteString(RenderMessage(m, now))
		b.WriteByte('\n')
	}
	return b.String()
}
