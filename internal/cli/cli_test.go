package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/gateway"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/soyeahso/xiaoji/internal/session"
	"github.com/soyeahso/xiaoji/internal/upstream"
	"github.com/soyeahso/xiaoji/internal/widget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMinter struct{ n *atomic.Int32 }

func (m stubMinter) CreateConversation(context.Context) (string, error) {
	return fmt.Sprintf("conv-cli-%d", m.n.Add(1)), nil
}

type stubChatter struct{}

func (stubChatter) SendQuery(_ context.Context, _, query string) (upstream.Reply, error) {
	return upstream.Reply{Text: "收到: " + query}, nil
}

type failingChatter struct{}

func (failingChatter) SendQuery(context.Context, string, string) (upstream.Reply, error) {
	return upstream.Reply{}, &domain.UpstreamError{Op: "conversation.run", Status: 502, Err: errors.New("bad gateway")}
}

type stubRecognizer struct{}

func (stubRecognizer) Recognize(context.Context, []byte, string) (string, error) {
	return "月租多少钱", nil
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XIAOJI_HOME", t.TempDir())

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testServer(t *testing.T) string {
	t.Helper()
	return serverWith(t, stubChatter{})
}

func serverWith(t *testing.T, chat gateway.Chatter) string {
	t.Helper()
	log := logging.New(nil, "silent")
	srv := gateway.New(config.Defaults(), session.NewRegistry(stubMinter{n: new(atomic.Int32)}, nil, log), chat, stubRecognizer{}, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// --- command tests ---

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "xiaoji "))

	out, err = run(t, "", "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)
}

func TestLogFileFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	_, err := run(t, "", "--log-file="+path, "version")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestConfigPathCmd(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "custom.yaml")
	out, err := run(t, "", "--config", cfgPath, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, cfgPath+"\n", out)
}

func TestConfigShowRedacts(t *testing.T) {
	t.Setenv("QIANFAN_API_KEY", "bce-v3/ALTAK-secret")
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("upstream:\n  appId: app-9\n"), 0o600))

	out, err := run(t, "", "--config", cfgPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "app-9")
	assert.Contains(t, out, "bce-********")
	assert.NotContains(t, out, "ALTAK-secret")

	out, err = run(t, "", "--config", cfgPath, "config", "show", "--reveal")
	require.NoError(t, err)
	assert.Contains(t, out, "ALTAK-secret")
}

func TestConfigShowInvalidFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("gateway: [oops"), 0o600))

	_, err := run(t, "", "--config", cfgPath, "config", "show")
	require.Error(t, err)
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Setenv("QIANFAN_API_KEY", "")
	t.Setenv("QIANFAN_APP_ID", "")
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	_, err := run(t, "", "--config", cfgPath, "serve", "--port", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestStatusCmd(t *testing.T) {
	url := testServer(t)

	out, err := run(t, "", "status", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "Gateway:  port=3000")
	assert.Contains(t, out, "healthy")

	out, err = run(t, "", "status", "--server", "http://127.0.0.1:1")
	require.NoError(t, err)
	assert.Contains(t, out, "unreachable")
}

// --- chat tests ---

func TestChatOneShot(t *testing.T) {
	url := testServer(t)

	out, err := run(t, "", "chat", "--server", url, "-m", "几点关门")
	require.NoError(t, err)
	assert.Contains(t, out, "您: 几点关门")
	assert.Contains(t, out, "小集: 收到: 几点关门")
}

func TestChatOneShotFailureExitsNonZero(t *testing.T) {
	url := serverWith(t, failingChatter{})

	out, err := run(t, "", "chat", "--server", url, "-m", "几点关门")
	require.Error(t, err)
	assert.Contains(t, err.Error(), gateway.MsgChatFailed)
	assert.Contains(t, out, widget.MsgSendFailed)
}

func TestChatExportTranscript(t *testing.T) {
	url := testServer(t)
	path := filepath.Join(t.TempDir(), "transcript.html")

	out, err := run(t, "<b>几点</b>\n/export "+path+"\n/quit\n", "chat", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "transcript saved to "+path)

	page, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(page), `<div class="message user">`)
	assert.Contains(t, string(page), "&lt;b&gt;几点&lt;/b&gt;")
	assert.Contains(t, string(page), `<div class="message assistant">`)
	assert.Contains(t, string(page), "刚刚")

	out, err = run(t, "/export "+filepath.Join(t.TempDir(), "missing", "x.html")+"\n", "chat", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "export failed")
}

func TestChatLoop(t *testing.T) {
	url := testServer(t)

	out, err := run(t, "怎么缴费\n/history\n/clear\n/quit\n不会发送\n", "chat", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "小集: 收到: 怎么缴费")
	assert.Contains(t, out, "conversation conv-cli-1, 2 messages")
	assert.Contains(t, out, "对话已清空")
	assert.NotContains(t, out, "不会发送")
}

func TestChatAudioNeedsEnter(t *testing.T) {
	url := testServer(t)
	clip := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(clip, []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00"), 0o600))

	out, err := run(t, "\n", "chat", "--server", url, "--audio", clip)
	require.NoError(t, err)
	assert.Contains(t, out, "识别结果: 月租多少钱")
	assert.Contains(t, out, "小集: 收到: 月租多少钱")
}

func TestChatServerDown(t *testing.T) {
	_, err := run(t, "", "chat", "--server", "http://127.0.0.1:1", "-m", "hi")
	require.Error(t, err)
}
