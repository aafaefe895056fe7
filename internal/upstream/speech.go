package upstream

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/soyeahso/xiaoji/internal/config"
	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/logging"
	"github.com/soyeahso/xiaoji/internal/telemetry"
)

// DefaultSpeechError is reported when the service gives no err_msg.
const DefaultSpeechError = "语音识别失败"

const (
	speechRate    = 16000
	speechChannel = 1
)

// SpeechClient calls the speech recognition API.
type SpeechClient struct {
	http   *resty.Client
	cuid   string
	devPID int
	log    *logging.Logger
	tracer trace.Tracer
}

// NewSpeechClient creates a speech client. The upstream API key is used
// when no dedicated speech key is configured.
func NewSpeechClient(cfg config.Config, log *logging.Logger) *SpeechClient {
	return &SpeechClient{
		http:   newHTTP(cfg.Speech.BaseURL, cfg.SpeechAPIKey(), cfg.Upstream.TimeoutSeconds),
		cuid:   cfg.Speech.CUID,
		devPID: cfg.Speech.DevPID,
		log:    log.Sub("speech"),
		tracer: telemetry.Tracer(),
	}
}

// Recognize transcribes 16kHz mono audio. format is one of the values
// returned by FormatFromMIME.
func (s *SpeechClient) Recognize(ctx context.Context, audio []byte, format string) (string, error) {
	payload := map[string]any{
		"format":  format,
		"rate":    speechRate,
		"channel": speechChannel,
		"cuid":    s.cuid,
		"token":   "",
		"dev_pid": s.devPID,
		"speech":  base64.StdEncoding.EncodeToString(audio),
		"len":     len(audio),
	}

	s.log.Debug().Int("bytes", len(audio)).Str("format", format).Msg("recognizing speech")
	body, err := call(ctx, s.tracer, s.log, OpRecognize, func(ctx context.Context) (*resty.Response, error) {
		return s.http.R().SetContext(ctx).SetBody(payload).Post("")
	})
	if err != nil {
		return "", err
	}

	res := gjson.ParseBytes(body)
	errNo := res.Get("err_no")
	text := res.Get("result.0").String()
	if !errNo.Exists() || errNo.Int() != 0 || text == "" {
		msg := res.Get("err_msg").String()
		if msg == "" {
			msg = DefaultSpeechError
		}
		serr := &domain.SpeechRecognitionError{Code: int(errNo.Int()), Message: msg}
		s.log.Warn().Err(serr).Msg("speech not recognized")
		return "", serr
	}
	return text, nil
}

// FormatFromMIME maps an upload's content type to the speech API format.
func FormatFromMIME(mime string) string {
	mime = strings.ToLower(mime)
	switch {
	case strings.Contains(mime, "webm"):
		return "webm"
	case strings.Contains(mime, "ogg"):
		return "ogg"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"):
		return "m4a"
	case strings.Contains(mime, "pcm"):
		return "pcm"
	default:
		return "wav"
	}
}
