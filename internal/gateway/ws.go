package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/version"
)

const (
	maxWSPayload     = 1024 * 1024
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

// withKeepAlive overrides the pong deadline and ping interval.
func withKeepAlive(pong, ping time.Duration) ServerOption {
	return func(s *Server) {
		s.pongWait, s.pingPeriod = pong, ping
	}
}

// MethodHandler serves one RPC method.
type MethodHandler func(c *Call)

// Call is one RPC request in flight.
type Call struct {
	Ctx    context.Context
	Sub    *Subscriber
	Frame  Frame
	Server *Server
}

// OK answers the call with payload.
func (c *Call) OK(payload any) {
	if err := c.Sub.Reply(c.Frame.ID, payload); err != nil {
		c.Server.log.Warn().Err(err).Str("method", c.Frame.Method).Msg("failed to send response")
	}
}

// Fail answers the call with an error. The optional detail goes to
// ErrorShape.Details.
func (c *Call) Fail(code, message string, detail ...any) {
	shape := ErrorShape{Code: code, Message: message}
	if len(detail) > 0 {
		shape.Details = detail[0]
	}
	if err := c.Sub.Fail(c.Frame.ID, shape); err != nil {
		c.Server.log.Warn().Err(err).Str("method", c.Frame.Method).Msg("failed to send error")
	}
}

// Bind decodes the params into target and validates its struct tags.
// Failures are *domain.ValidationError.
func (c *Call) Bind(target any) error {
	if len(c.Frame.Params) > 0 {
		if err := json.Unmarshal(c.Frame.Params, target); err != nil {
			return &domain.ValidationError{Message: "invalid params: " + err.Error()}
		}
	}
	return c.Server.check(target)
}

// FailWith answers the call with the code err maps to. Validation
// failures name the offending field in the details.
func (c *Call) FailWith(message string, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		c.Fail(CodeInvalidParams, message, map[string]string{"field": ve.Field, "reason": ve.Message})
		return
	}
	c.Fail(rpcCode(err), message, errorDetail(err))
}

// handleWebSocket upgrades GET /api/ws and serves the subscriber until it
// disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxWSPayload)

	sub, err := s.handshake(ws)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		ws.Close()
		return
	}

	s.hub.Join(sub)
	defer func() {
		s.hub.Leave(sub.ID)
		sub.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.keepAlive(ctx, sub)

	var inflight sync.WaitGroup
	s.serveSubscriber(ctx, sub, &inflight)
	cancel()
	inflight.Wait()
}

// handshake expects a connect request as the first frame and answers it
// with HelloOK.
func (s *Server) handshake(ws *websocket.Conn) (*Subscriber, error) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))

	var first Frame
	if err := ws.ReadJSON(&first); err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	if first.Type != FrameTypeRequest || first.Method != MethodConnect {
		reject(ws, first.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", first.Type, first.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(first.Params, &params); err != nil {
		reject(ws, first.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.MinProtocol > ProtocolVersion {
		reject(ws, first.ID, CodeProtocol, "unsupported protocol version")
		return nil, fmt.Errorf("client requires protocol %d", params.MinProtocol)
	}

	sub := newSubscriber(ws, params.Client)
	build := version.Get()
	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: build.Version, Commit: build.Commit, ConnID: sub.ID},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventConversationCreated, EventConversationTurn},
		},
		Policy: ServerPolicy{MaxPayload: maxWSPayload},
	}
	if err := sub.Reply(first.ID, hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	wait := s.pongWait
	ws.SetReadDeadline(time.Now().Add(wait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wait))
	})
	return sub, nil
}

// keepAlive pings the subscriber until ctx ends.
func (s *Server) keepAlive(ctx context.Context, sub *Subscriber) {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sub.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug().Err(err).Str("connId", sub.ID).Msg("ping failed")
				return
			}
		}
	}
}

// serveSubscriber reads frames until the socket fails. Each request runs
// on its own goroutine tracked by inflight so the read loop keeps handling
// pongs while a slow turn is pending.
func (s *Server) serveSubscriber(ctx context.Context, sub *Subscriber, inflight *sync.WaitGroup) {
	for {
		frame, err := sub.ReadFrame()
		if errors.Is(err, errBadFrame) {
			sub.Fail("", ErrorShape{Code: CodeProtocol, Message: err.Error()})
			continue
		}
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", sub.ID).Msg("subscriber closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", sub.ID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}

		handler, ok := s.methods[frame.Method]
		if !ok {
			sub.Fail(frame.ID, ErrorShape{Code: CodeMethodNotFound, Message: "unknown method: " + frame.Method})
			continue
		}
		call := &Call{Ctx: ctx, Sub: sub, Frame: frame, Server: s}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			handler(call)
		}()
	}
}

// publish sends an event to the subscribers of one conversation.
func (s *Server) publish(conversationID, event string, payload any) {
	s.hub.Publish(conversationID, event, payload, s.eventSeq.Add(1))
}

// reject answers a bad handshake and closes the socket.
func reject(ws *websocket.Conn, reqID, code, message string) {
	ws.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
