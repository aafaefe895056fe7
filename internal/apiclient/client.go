// Package apiclient is the widget's client for the xiaoji HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/logging"
)

// APIError is a failure envelope returned by the server.
type APIError struct {
	Status  int
	Message string
	Detail  json.RawMessage
}

func (e *APIError) Error() string {
	if len(e.Detail) > 0 {
		return fmt.Sprintf("api status %d: %s: %s", e.Status, e.Message, e.Detail)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// envelope mirrors every /api response body.
type envelope struct {
	Success        bool            `json:"success"`
	Message        string          `json:"message"`
	Error          json.RawMessage `json:"error,omitempty"`
	ConversationID string          `json:"conversation_id"`
	Result         string          `json:"result"`
	Text           string          `json:"text"`
	Conversation   *domain.Session `json:"conversation"`
}

// Health is the body of GET /api/health.
type Health struct {
	Status             string  `json:"status"`
	Message            string  `json:"message"`
	Timestamp          string  `json:"timestamp"`
	Uptime             float64 `json:"uptime"`
	Version            string  `json:"version"`
	ConversationsCount int     `json:"conversations_count"`
}

// Client calls the conversation and speech endpoints.
type Client struct {
	http *resty.Client
	log  *logging.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, timeout time.Duration, log *logging.Logger) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &Client{http: c, log: log.Sub("apiclient")}
}

// CreateConversation starts a new conversation and returns its id.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	env, err := c.do(c.http.R().SetContext(ctx).SetHeader("Content-Type", "application/json"), http.MethodPost, "/api/conversation/create")
	if err != nil {
		return "", err
	}
	if env.ConversationID == "" {
		return "", errors.New("server returned no conversation_id")
	}
	c.log.Debug().Str("conversation_id", env.ConversationID).Msg("conversation created")
	return env.ConversationID, nil
}

// Chat sends one query and returns the reply text, which may be empty.
func (c *Client) Chat(ctx context.Context, conversationID, query string) (string, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"conversation_id": conversationID, "query": query})
	env, err := c.do(req, http.MethodPost, "/api/conversation/chat")
	if err != nil {
		return "", err
	}
	return env.Result, nil
}

// History returns the recorded turns of a conversation.
func (c *Client) History(ctx context.Context, conversationID string) (domain.Session, error) {
	req := c.http.R().SetContext(ctx).SetPathParam("id", conversationID)
	env, err := c.do(req, http.MethodGet, "/api/conversation/{id}/history")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return domain.Session{}, &domain.NotFoundError{Kind: "conversation", ID: conversationID}
		}
		return domain.Session{}, err
	}
	if env.Conversation == nil {
		return domain.Session{}, errors.New("server returned no conversation")
	}
	return *env.Conversation, nil
}

// Recognize uploads audio of the given MIME type and returns the transcript.
func (c *Client) Recognize(ctx context.Context, audio []byte, mime string) (string, error) {
	req := c.http.R().
		SetContext(ctx).
		SetMultipartField("audio", "recording", mime, bytes.NewReader(audio))
	env, err := c.do(req, http.MethodPost, "/api/speech/recognize")
	if err != nil {
		return "", err
	}
	return env.Text, nil
}

// Health fetches the server health report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	resp, err := c.http.R().SetContext(ctx).SetResult(&h).Get("/api/health")
	if err != nil {
		return Health{}, errors.Wrap(err, "health request")
	}
	if resp.IsError() {
		return Health{}, &APIError{Status: resp.StatusCode(), Message: resp.Status()}
	}
	return h, nil
}

// do executes req and decodes the envelope, mapping failures to *APIError.
func (c *Client) do(req *resty.Request, method, path string) (envelope, error) {
	var env envelope
	resp, err := req.Execute(method, path)
	if err != nil {
		return env, errors.Wrapf(err, "%s %s", method, path)
	}
	if uerr := json.Unmarshal(resp.Body(), &env); uerr != nil {
		return env, &APIError{Status: resp.StatusCode(), Message: "invalid response body"}
	}
	if resp.IsError() || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode(), Message: env.Message, Detail: env.Error}
		c.log.Debug().Err(apiErr).Str("path", path).Msg("api call failed")
		return env, apiErr
	}
	return env, nil
}
