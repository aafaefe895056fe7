package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/hooks"
	"github.com/soyeahso/xiaoji/internal/metrics"
	"github.com/soyeahso/xiaoji/internal/upstream"
	"github.com/soyeahso/xiaoji/internal/version"
)

// User-facing messages of the HTTP surface.
const (
	MsgCreated        = "会话创建成功"
	MsgCreateFailed   = "创建会话失败"
	MsgMissingParams  = "缺少必要参数: conversation_id 或 query"
	MsgChatFailed     = "对话失败"
	MsgNoSession      = "会话不存在"
	MsgNoAudio        = "未接收到音频文件"
	MsgAudioTooLarge  = "音频文件超过5MB限制"
	MsgRecognized     = "语音识别成功"
	MsgRecognizeFail  = "语音识别失败"
	MsgHealthy        = "集美发展集团停车场助理服务正常运行"
	MsgNotFound       = "接口不存在"
	MsgInternalError  = "服务器内部错误"
	audioFormField    = "audio"
	multipartOverhead = 1 << 20
)

// envelope is the JSON body of every /api response.
type envelope map[string]any

// HealthResponse is returned by GET /api/health and the health RPC.
type HealthResponse struct {
	Success            bool    `json:"success"`
	Status             string  `json:"status"`
	Message            string  `json:"message"`
	Timestamp          string  `json:"timestamp"`
	Uptime             float64 `json:"uptime"`
	Version            string  `json:"version"`
	ConversationsCount int     `json:"conversations_count"`
}

type chatRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Query          string `json:"query" validate:"required"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeFailure(w http.ResponseWriter, status int, message string, detail any) {
	body := envelope{"success": false, "message": message}
	if detail != nil {
		body["error"] = detail
	}
	writeJSON(w, status, body)
}

// errorDetail renders err for the "error" field. Upstream JSON bodies are
// passed through as JSON.
func errorDetail(err error) any {
	var ue *domain.UpstreamError
	if errors.As(err, &ue) && len(ue.Body) > 0 && json.Valid(ue.Body) {
		return json.RawMessage(ue.Body)
	}
	var se *domain.SpeechRecognitionError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

// check validates v's struct tags. The first failing field is reported
// as a *domain.ValidationError under its json name.
func (s *Server) check(v any) error {
	err := s.validate.Struct(v)
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		return &domain.ValidationError{Field: fields[0].Field(), Message: "failed " + fields[0].Tag() + " validation"}
	}
	return err
}

// decodeJSON decodes a request body into v and validates it.
func (s *Server) decodeJSON(body io.Reader, v any) error {
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return &domain.ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	return s.check(v)
}

// statusFor maps err onto an HTTP status.
func statusFor(err error) int {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// rpcCode maps err onto an RPC error code.
func rpcCode(err error) string {
	var (
		ve *domain.ValidationError
		ue *domain.UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		return CodeInvalidParams
	case domain.IsNotFound(err):
		return CodeNotFound
	case errors.As(err, &ue):
		return CodeUpstream
	}
	return CodeInternal
}

func (s *Server) health() HealthResponse {
	return HealthResponse{
		Success:            true,
		Status:             "healthy",
		Message:            MsgHealthy,
		Timestamp:          time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Uptime:             time.Since(s.startedAt).Seconds(),
		Version:            version.Version,
		ConversationsCount: s.registry.Count(),
	}
}

// createConversation mints a conversation and announces it. A non-empty
// watcher is subscribed before the announcement.
func (s *Server) createConversation(ctx context.Context, watcher string) (string, error) {
	id, err := s.registry.Create(ctx)
	if err != nil {
		s.upstreamFailed(ctx, upstream.OpCreate, err)
		return "", err
	}
	if watcher != "" {
		s.hub.Subscribe(watcher, id)
	}
	s.publish(id, EventConversationCreated, CreatedEvent{ConversationID: id})
	return id, nil
}

// runTurn forwards one query upstream and records the turn.
func (s *Server) runTurn(ctx context.Context, id, query string) (upstream.Reply, error) {
	s.log.Info().Str("conversation_id", id).Int("query_length", len([]rune(query))).Msg("chat turn")

	reply, err := s.chat.SendQuery(ctx, id, query)
	if err != nil {
		s.upstreamFailed(ctx, upstream.OpRun, err)
		return upstream.Reply{}, err
	}

	s.registry.AppendTurn(id, query, reply.Text)
	s.publish(id, EventConversationTurn, TurnEvent{ConversationID: id, Query: query, Result: reply.Text})
	return reply, nil
}

func (s *Server) upstreamFailed(ctx context.Context, op string, err error) {
	s.log.Error().Err(err).Str("op", op).Msg("upstream request failed")
	s.hooks.EmitAsync(ctx, hooks.EventUpstreamError, map[string]any{
		"op":    op,
		"error": err.Error(),
	})
}

// --- HTTP handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.health())
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, err := s.createConversation(r.Context(), "")
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, MsgCreateFailed, errorDetail(err))
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"success":         true,
		"conversation_id": id,
		"message":         MsgCreated,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := s.decodeJSON(r.Body, &req); err != nil {
		s.log.Debug().Err(err).Msg("rejected chat request")
		writeFailure(w, statusFor(err), MsgMissingParams, nil)
		return
	}

	reply, err := s.runTurn(r.Context(), req.ConversationID, req.Query)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, MsgChatFailed, errorDetail(err))
		return
	}

	body := envelope{
		"success":         true,
		"result":          reply.Text,
		"conversation_id": req.ConversationID,
	}
	if s.cfg.Development() {
		body["debug_data"] = reply.Raw
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conv, err := s.registry.History(r.PathValue("id"))
	switch {
	case domain.IsNotFound(err):
		writeFailure(w, http.StatusNotFound, MsgNoSession, nil)
		return
	case err != nil:
		writeFailure(w, http.StatusInternalServerError, MsgInternalError, errorDetail(err))
		return
	}
	writeJSON(w, http.StatusOK, envelope{"success": true, "conversation": conv})
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Gateway.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	audio, mime, err := readAudio(r, limit)
	switch {
	case errors.Is(err, errAudioTooLarge):
		writeFailure(w, http.StatusBadRequest, MsgAudioTooLarge, nil)
		return
	case err != nil:
		s.log.Debug().Err(err).Msg("rejected speech upload")
		writeFailure(w, http.StatusBadRequest, MsgNoAudio, nil)
		return
	}

	format := upstream.FormatFromMIME(mime)
	s.log.Info().Int("bytes", len(audio)).Str("mime", mime).Str("format", format).Msg("speech recognition request")
	metrics.RecordUpload(format, len(audio))

	text, err := s.speech.Recognize(r.Context(), audio, format)
	if err != nil {
		s.upstreamFailed(r.Context(), upstream.OpRecognize, err)
		writeFailure(w, http.StatusInternalServerError, MsgRecognizeFail, errorDetail(err))
		return
	}

	s.hooks.EmitAsync(r.Context(), hooks.EventSpeechRecognized, map[string]any{
		"format": format,
		"bytes":  len(audio),
	})
	writeJSON(w, http.StatusOK, envelope{
		"success": true,
		"text":    text,
		"message": MsgRecognized,
	})
}

// handleFallback serves static widget files for GET requests outside /api
// when a static directory is configured, and the JSON 404 otherwise.
func (s *Server) handleFallback(static http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if static != nil && !strings.HasPrefix(r.URL.Path, "/api/") &&
			(r.Method == http.MethodGet || r.Method == http.MethodHead) {
			static.ServeHTTP(w, r)
			return
		}
		handleNotFound(w, r)
	}
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeFailure(w, http.StatusNotFound, MsgNotFound, nil)
}

var (
	errAudioTooLarge = errors.New("audio file too large")
	errNotAudio      = errors.New("upload is not audio")
)

// readAudio extracts the "audio" multipart file. The declared part content
// type is trusted unless it is missing or generic, in which case the bytes
// are sniffed.
func readAudio(r *http.Request, limit int64) ([]byte, string, error) {
	if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, "", errAudioTooLarge
		}
		return nil, "", err
	}

	file, header, err := r.FormFile(audioFormField)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	if header.Size > limit {
		return nil, "", errAudioTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > limit {
		return nil, "", errAudioTooLarge
	}
	if len(data) == 0 {
		return nil, "", errNotAudio
	}

	mime := declaredType(header)
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	if !isAudioType(mime) {
		return nil, "", errNotAudio
	}
	return data, mime, nil
}

func declaredType(h *multipart.FileHeader) string {
	ct := strings.ToLower(strings.TrimSpace(h.Header.Get("Content-Type")))
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		return ""
	}
	return ct
}

func isAudioType(mime string) bool {
	return strings.HasPrefix(mime, "audio/") || strings.HasPrefix(mime, "video/webm")
}
