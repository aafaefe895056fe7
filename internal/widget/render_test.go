package widget

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- HTML tests ---

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain 文本", "plain 文本"},
		{"a & b", "a &amp; b"},
		{"<script>", "&lt;script&gt;"},
		{`say "hi"`, "say &quot;hi&quot;"},
		{"it's", "it&#039;s"},
		{"&amp;", "&amp;amp;"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapeHTML(tt.in), tt.in)
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Date(2026, 6, 15, 14, 30, 0, 0, time.Local)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"just now", now.Add(-30 * time.Second), "刚刚"},
		{"future", now.Add(time.Minute), "刚刚"},
		{"minutes", now.Add(-5 * time.Minute), "5分钟前"},
		{"59 minutes", now.Add(-59*time.Minute - 59*time.Second), "59分钟前"},
		{"today", time.Date(2026, 6, 15, 8, 5, 0, 0, time.Local), "08:05"},
		{"earlier day", time.Date(2026, 6, 14, 23, 59, 0, 0, time.Local), "6月14日 23:59"},
		{"last year", time.Date(2025, 1, 2, 3, 4, 0, 0, time.Local), "1月2日 03:04"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTime(tt.at, now))
		})
	}
}

func TestRenderMessage(t *testing.T) {
	now := time.Now()

	user := RenderMessage(domain.Message{Role: domain.RoleUser, Content: "a<b", Timestamp: now}, now)
	assert.True(t, strings.HasPrefix(user, `<div class="message user">`))
	assert.Contains(t, user, `<div class="message-text">a&lt;b</div>`)
	assert.Contains(t, user, `<div class="message-time">刚刚</div>`)
	assert.NotContains(t, user, "message-avatar")

	bot := RenderMessage(domain.Message{Role: domain.RoleAssistant, Content: "您好", Timestamp: now}, now)
	assert.Contains(t, bot, `<div class="message assistant">`)
	assert.Contains(t, bot, `<div class="message-avatar"><img src="icon.png"`)
}

func TestHTMLRendererState(t *testing.T) {
	mock := clock.NewMock()
	r := NewHTMLRenderer(mock)

	r.AddMessage(domain.Message{Role: domain.RoleUser, Content: "hi", Timestamp: mock.Now()})
	r.AddMessage(domain.Message{Role: domain.RoleAssistant, Content: "", Timestamp: mock.Now()})
	r.SetBusy(true)
	r.ShowError("boom")

	v := r.Snapshot()
	assert.Len(t, v.Messages, 1)
	assert.True(t, v.Loading)
	assert.Equal(t, PlaceholderBusy, v.Placeholder)
	assert.Equal(t, "boom", v.Toast)

	mock.Add(10 * time.Minute)
	assert.Contains(t, r.HTML(), "10分钟前")

	r.ClearMessages()
	r.HideError()
	r.SetBusy(false)
	v = r.Snapshot()
	assert.Empty(t, v.Messages)
	assert.Empty(t, v.Toast)
	assert.Equal(t, PlaceholderIdle, v.Placeholder)
}

func TestSnapshotDoesNotAlias(t *testing.T) {
	r := NewHTMLRenderer(nil)
	r.AddMessage(domain.Message{Role: domain.RoleUser, Content: "a"})

	v := r.Snapshot()
	v.Messages[0].Content = "changed"
	assert.Equal(t, "a", r.Snapshot().Messages[0].Content)
}

// --- terminal tests ---

func TestTerminalRendererPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	r := NewTerminalRenderer(&buf)
	at := time.Date(2026, 1, 1, 9, 7, 0, 0, time.Local)

	r.AddMessage(domain.Message{Role: domain.RoleUser, Content: "几点关门", Timestamp: at})
	r.SetBusy(true)
	r.SetBusy(false)
	r.AddMessage(domain.Message{Role: domain.RoleAssistant, Content: "晚上十点", Timestamp: at})
	r.ShowError(MsgSendFailed)
	r.ClearMessages()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "09:07 您: 几点关门", lines[0])
	assert.Equal(t, PlaceholderBusy, lines[1])
	assert.Equal(t, "09:07 小集: 晚上十点", lines[2])
	assert.Equal(t, "✗ "+MsgSendFailed, lines[3])
	assert.Contains(t, lines[4], "对话已清空")
	assert.NotContains(t, buf.String(), "\x1b[")
}
