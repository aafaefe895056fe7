package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/gateway"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/soyeahso/xiaoji/internal/session"
	"github.com/soyeahso/xiaoji/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMinter struct{ err error }

func (s stubMinter) CreateConversation(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "conv-42", nil
}

type stubChatter struct{ reply string }

func (s stubChatter) SendQuery(context.Context, string, string) (upstream.Reply, error) {
	return upstream.Reply{Text: s.reply}, nil
}

type stubRecognizer struct {
	gotFormat string
}

func (s *stubRecognizer) Recognize(_ context.Context, audio []byte, format string) (string, error) {
	s.gotFormat = format
	if len(audio) == 0 {
		return "", &domain.SpeechRecognitionError{Message: "empty"}
	}
	return "月卡怎么办理", nil
}

// liveServer runs the real gateway handler against stubbed upstreams.
func liveServer(t *testing.T, minter session.Minter, rec *stubRecognizer) *Client {
	t.Helper()
	log := logging.New(nil, "silent")
	srv := gateway.New(config.Defaults(), session.NewRegistry(minter, nil, log), stubChatter{reply: "您好"}, rec, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL, 5*time.Second, log)
}

// --- conversation tests ---

func TestConversationRoundTrip(t *testing.T) {
	c := liveServer(t, stubMinter{}, &stubRecognizer{})
	ctx := context.Background()

	id, err := c.CreateConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "conv-42", id)

	reply, err := c.Chat(ctx, id, "怎么缴费")
	require.NoError(t, err)
	assert.Equal(t, "您好", reply)

	conv, err := c.History(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "conv-42", conv.ID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, domain.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "您好", conv.Messages[1].Content)
}

func TestCreateConversationFailure(t *testing.T) {
	c := liveServer(t, stubMinter{err: &domain.UpstreamError{Op: upstream.OpCreate, Status: 500}}, &stubRecognizer{})

	_, err := c.CreateConversation(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, gateway.MsgCreateFailed, apiErr.Message)
}

func TestChatMissingParams(t *testing.T) {
	c := liveServer(t, stubMinter{}, &stubRecognizer{})

	_, err := c.Chat(context.Background(), "", "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, gateway.MsgMissingParams, apiErr.Message)
}

func TestHistoryNotFound(t *testing.T) {
	c := liveServer(t, stubMinter{}, &stubRecognizer{})

	_, err := c.History(context.Background(), "unknown")
	assert.True(t, domain.IsNotFound(err))
}

func TestHealth(t *testing.T) {
	c := liveServer(t, stubMinter{}, &stubRecognizer{})

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, gateway.MsgHealthy, h.Message)
	assert.Zero(t, h.ConversationsCount)
}

// --- speech tests ---

func TestRecognize(t *testing.T) {
	rec := &stubRecognizer{}
	c := liveServer(t, stubMinter{}, rec)

	text, err := c.Recognize(context.Background(), []byte("opus frames"), "audio/ogg")
	require.NoError(t, err)
	assert.Equal(t, "月卡怎么办理", text)
	assert.Equal(t, "ogg", rec.gotFormat)
}

func TestRecognizeRejectedUpload(t *testing.T) {
	c := liveServer(t, stubMinter{}, &stubRecognizer{})

	_, err := c.Recognize(context.Background(), []byte("hello"), "text/plain")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, gateway.MsgNoAudio, apiErr.Message)
}

// --- transport tests ---

func TestErrorDetailIsKept(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"success":false,"message":"对话失败","error":{"code":"Throttled"}}`)
	}))
	defer ts.Close()

	c := New(ts.URL, 0, logging.New(nil, "silent"))
	_, err := c.Chat(context.Background(), "c", "q")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.JSONEq(t, `{"code":"Throttled"}`, string(apiErr.Detail))
	assert.Contains(t, apiErr.Error(), "Throttled")
}

func TestNonJSONResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>bad gateway</html>")
	}))
	defer ts.Close()

	c := New(ts.URL, 0, logging.New(nil, "silent"))
	_, err := c.CreateConversation(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestSuccessFalseIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "nope"})
	}))
	defer ts.Close()

	c := New(ts.URL, 0, logging.New(nil, "silent"))
	_, err := c.Chat(context.Background(), "c", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestUnreachableServer(t *testing.T) {
	c := New("http://127.0.0.1:1", time.Second, logging.New(nil, "silent"))
	_, err := c.CreateConversation(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}
