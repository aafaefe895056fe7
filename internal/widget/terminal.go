package widget

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/soyeahso/xiaoji/internal/domain"
)

var (
	userLabelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	assistantLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	timeStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	busyStyle           = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#AFAFAF"))
	errorStyle          = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	ruleStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
)

// TerminalRenderer prints the conversation to a terminal, styled when the
// writer is a TTY.
type TerminalRenderer struct {
	mu     sync.Mutex
	w      io.Writer
	styled bool
}

// NewTerminalRenderer creates a renderer writing to w.
func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	return &TerminalRenderer{w: w, styled: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *TerminalRenderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r *TerminalRenderer) AddMessage(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	label := r.style(userLabelStyle, "您")
	if m.Role == domain.RoleAssistant {
		label = r.style(assistantLabelStyle, "小集")
	}
	stamp := r.style(timeStyle, m.Timestamp.Format("15:04"))
	fmt.Fprintf(r.w, "%s %s: %s\n", stamp, label, m.Content)
}

func (r *TerminalRenderer) ClearMessages() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, r.style(ruleStyle, "──────── 对话已清空 ────────"))
}

// SetInput is a no-op: the terminal owns its input line.
func (r *TerminalRenderer) SetInput(string) {}

func (r *TerminalRenderer) SetBusy(busy bool) {
	if !busy {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, r.style(busyStyle, PlaceholderBusy))
}

func (r *TerminalRenderer) SetSendEnabled(bool) {}

func (r *TerminalRenderer) ShowError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, r.style(errorStyle, "✗ "+message))
}

func (r *TerminalRenderer) HideError() {}
