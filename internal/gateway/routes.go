package gateway

import (
	"net/http"

	"github.com/soyeahso/xiaoji/internal/domain"
	"github.com/soyeahso/xiaoji/internal/metrics"
)

// Events published to /api/ws subscribers of a conversation.
const (
	EventConversationCreated = "conversation.created"
	EventConversationTurn    = "conversation.turn"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversation/create", s.handleCreate)
	mux.HandleFunc("POST /api/conversation/chat", s.handleChat)
	mux.HandleFunc("GET /api/conversation/{id}/history", s.handleHistory)
	mux.HandleFunc("POST /api/speech/recognize", s.handleRecognize)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	if s.cfg.Gateway.Metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var static http.Handler
	if dir := s.cfg.Gateway.StaticDir; dir != "" {
		static = http.FileServer(http.Dir(dir))
	}
	// Catch-all: static widget files or the JSON 404
	mux.HandleFunc("/", s.handleFallback(static))
}

// registerRPCHandlers sets up all /api/ws method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle(MethodHealth, s.rpcHealth)
	s.Handle(MethodCreate, s.rpcCreate)
	s.Handle(MethodChat, s.rpcChat)
	s.Handle(MethodHistory, s.rpcHistory)
	s.Handle(MethodSubscribe, s.rpcSubscribe)
}

type conversationParams struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

func (s *Server) rpcHealth(c *Call) {
	c.OK(s.health())
}

// rpcCreate mints a conversation and subscribes the caller to it.
func (s *Server) rpcCreate(c *Call) {
	id, err := s.createConversation(c.Ctx, c.Sub.ID)
	if err != nil {
		c.Fail(CodeUpstream, MsgCreateFailed, errorDetail(err))
		return
	}
	c.OK(map[string]any{"conversation_id": id})
}

// rpcChat runs a turn. A caller chatting in a known conversation is
// subscribed to it first so it sees its own turn event.
func (s *Server) rpcChat(c *Call) {
	var p chatRequest
	if err := c.Bind(&p); err != nil {
		c.FailWith(MsgMissingParams, err)
		return
	}

	if _, err := s.registry.History(p.ConversationID); err == nil {
		s.hub.Subscribe(c.Sub.ID, p.ConversationID)
	}
	reply, err := s.runTurn(c.Ctx, p.ConversationID, p.Query)
	if err != nil {
		c.Fail(CodeUpstream, MsgChatFailed, errorDetail(err))
		return
	}
	c.OK(map[string]any{
		"result":          reply.Text,
		"conversation_id": p.ConversationID,
	})
}

func (s *Server) rpcHistory(c *Call) {
	var p conversationParams
	if err := c.Bind(&p); err != nil {
		c.FailWith("conversation_id is required", err)
		return
	}

	conv, err := s.registry.History(p.ConversationID)
	switch {
	case domain.IsNotFound(err):
		c.Fail(CodeNotFound, MsgNoSession)
	case err != nil:
		c.FailWith(MsgInternalError, err)
	default:
		c.OK(map[string]any{"conversation": conv})
	}
}

// rpcSubscribe routes a known conversation's events to the caller.
func (s *Server) rpcSubscribe(c *Call) {
	var p conversationParams
	if err := c.Bind(&p); err != nil {
		c.FailWith("conversation_id is required", err)
		return
	}
	if _, err := s.registry.History(p.ConversationID); err != nil {
		c.Fail(CodeNotFound, MsgNoSession)
		return
	}
	s.hub.Subscribe(c.Sub.ID, p.ConversationID)
	c.OK(map[string]any{
		"conversation_id": p.ConversationID,
		"watchers":        s.hub.Watchers(p.ConversationID),
	})
}
