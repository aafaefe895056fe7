// Package upstream talks to the Qianfan app conversation API and the
// Baidu speech recognition API.
package upstream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/soyeahso/xiaoji/internal/metrics"
	"github.com/soyeahso/xiaoji/internal/telemetry"
)

const (
	OpCreate    = "conversation.create"
	OpRun       = "conversation.run"
	OpRecognize = "speech.recognize"
)

// Reply is the outcome of one conversation run.
type Reply struct {
	Text     string          // normalized reply text
	Raw      json.RawMessage // upstream response body as received
	Fallback bool            // no recognized field; Text is the re-indented body
}

// Client calls the conversation API. It implements session.Minter.
type Client struct {
	http   *resty.Client
	appID  string
	log    *logging.Logger
	tracer trace.Tracer
}

// NewClient creates a conversation API client.
func NewClient(cfg config.UpstreamConfig, log *logging.Logger) *Client {
	return &Client{
		http:   newHTTP(cfg.BaseURL, cfg.APIKey, cfg.TimeoutSeconds),
		appID:  cfg.AppID,
		log:    log.Sub("upstream"),
		tracer: telemetry.Tracer(),
	}
}

func newHTTP(baseURL, apiKey string, timeoutSeconds int) *resty.Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeoutSeconds > 0 {
		c.SetTimeout(time.Duration(timeoutSeconds) * time.Second)
	}
	return c
}

// CreateConversation asks the platform for a new conversation id.
// An empty id with a nil error means the response carried none.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	body, err := c.post(ctx, OpCreate, "/conversation", map[string]any{"app_id": c.appID})
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "conversation_id").String()
	c.log.Debug().Str("conversation_id", id).Msg("conversation minted")
	return id, nil
}

// SendQuery runs one non-streaming turn in an existing conversation.
func (c *Client) SendQuery(ctx context.Context, conversationID, query string) (Reply, error) {
	body, err := c.post(ctx, OpRun, "/conversation/runs", map[string]any{
		"app_id":          c.appID,
		"query":           query,
		"conversation_id": conversationID,
		"stream":          false,
	})
	if err != nil {
		return Reply{}, err
	}

	text, found := ExtractReply(body)
	if !found {
		metrics.ReplyFallbackTotal.Inc()
		c.log.Warn().
			Str("conversation_id", conversationID).
			RawJSON("body", jsonOrQuoted(body)).
			Msg("no reply field in upstream response, returning raw body")
	}
	return Reply{Text: text, Raw: json.RawMessage(body), Fallback: !found}, nil
}

// post sends a JSON body and returns the raw response body of a 2xx reply.
func (c *Client) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	return call(ctx, c.tracer, c.log, op, func(ctx context.Context) (*resty.Response, error) {
		return c.http.R().SetContext(ctx).SetBody(payload).Post(path)
	})
}

// call performs one instrumented request and maps failures to
// *domain.UpstreamError.
func call(ctx context.Context, tracer trace.Tracer, log *logging.Logger, op string, do func(context.Context) (*resty.Response, error)) ([]byte, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	start := time.Now()

	resp, err := do(ctx)
	elapsed := time.Since(start)

	var uerr *domain.UpstreamError
	switch {
	case err != nil:
		uerr = &domain.UpstreamError{Op: op, Err: errors.Wrap(err, "request failed")}
	case resp.IsError():
		uerr = &domain.UpstreamError{Op: op, Status: resp.StatusCode(), Body: resp.Body()}
	}

	if uerr != nil {
		span.SetAttributes(attribute.Int("http.status_code", uerr.Status))
		span.RecordError(uerr)
		span.SetStatus(codes.Error, uerr.Error())
		metrics.RecordUpstream(op, "error", elapsed.Seconds())
		log.Error().Err(uerr).Str("op", op).Dur("elapsed", elapsed).Msg("upstream call failed")
		return nil, uerr
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	metrics.RecordUpstream(op, "success", elapsed.Seconds())
	log.Debug().Str("op", op).Int("status", resp.StatusCode()).Dur("elapsed", elapsed).Msg("upstream call ok")
	return resp.Body(), nil
}

// jsonOrQuoted returns b if it is valid JSON, otherwise b as a JSON string.
func jsonOrQuoted(b []byte) []byte {
	if json.Valid(b) {
		return b
	}
	q, _ := json.Marshal(string(b))
	return q
}
