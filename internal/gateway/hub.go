package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/xiaoji/internal/logging"
)

var errBadFrame = errors.New("malformed frame")

// Subscriber is one /api/ws connection past the connect handshake.
type Subscriber struct {
	ID          string
	Info        ClientInfo
	ConnectedAt time.Time

	ws     *websocket.Conn
	mu     sync.Mutex // serializes writes
	closed bool
}

func newSubscriber(ws *websocket.Conn, info ClientInfo) *Subscriber {
	return &Subscriber{
		ID:          uuid.NewString(),
		Info:        info,
		ConnectedAt: time.Now(),
		ws:          ws,
	}
}

// Send writes one frame.
func (s *Subscriber) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClientClosed
	}
	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteJSON(f)
}

// Reply answers request reqID with payload.
func (s *Subscriber) Reply(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return s.Send(f)
}

// Fail answers request reqID with an error.
func (s *Subscriber) Fail(reqID string, shape ErrorShape) error {
	return s.Send(NewErrorResponse(reqID, shape))
}

// ReadFrame blocks for the next inbound frame.
func (s *Subscriber) ReadFrame() (Frame, error) {
	var f Frame
	_, msg, err := s.ws.ReadMessage()
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(msg, &f); err != nil {
		return f, fmt.Errorf("%w: %v", errBadFrame, err)
	}
	return f, nil
}

// Close closes the socket once.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.ws.Close()
}

// Hub fans conversation events out to the subscribers watching each
// conversation. A subscriber whose write fails is dropped.
type Hub struct {
	mu    sync.Mutex
	subs  map[string]*Subscriber
	rooms map[string]map[string]*Subscriber // conversation id → subscriber id → subscriber
	log   *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		subs:  make(map[string]*Subscriber),
		rooms: make(map[string]map[string]*Subscriber),
		log:   log,
	}
}

// Join registers a connected subscriber.
func (h *Hub) Join(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s.ID] = s
	h.log.Info().Str("connId", s.ID).Str("client", s.Info.ID).Str("platform", s.Info.Platform).Msg("subscriber joined")
}

// Leave unregisters a subscriber and its conversation subscriptions.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
	h.log.Info().Str("connId", id).Msg("subscriber left")
}

func (h *Hub) removeLocked(id string) {
	delete(h.subs, id)
	for conv, room := range h.rooms {
		delete(room, id)
		if len(room) == 0 {
			delete(h.rooms, conv)
		}
	}
}

// Subscribe routes events of conversationID to the subscriber. Unknown
// subscribers are ignored.
func (h *Hub) Subscribe(subscriberID, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[subscriberID]
	if !ok {
		return
	}
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Subscriber)
		h.rooms[conversationID] = room
	}
	room[s.ID] = s
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Watchers returns how many subscribers follow conversationID.
func (h *Hub) Watchers(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[conversationID])
}

// Publish sends an event frame to every subscriber of conversationID.
func (h *Hub) Publish(conversationID, event string, payload any, seq int64) {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}

	h.mu.Lock()
	room := make([]*Subscriber, 0, len(h.rooms[conversationID]))
	for _, s := range h.rooms[conversationID] {
		room = append(room, s)
	}
	h.mu.Unlock()

	// a slow peer can hold Send for writeWait; never under h.mu
	var failed []*Subscriber
	for _, s := range room {
		if err := s.Send(f); err != nil {
			h.log.Warn().Err(err).Str("connId", s.ID).Str("conversation_id", conversationID).Msg("event send failed, dropping subscriber")
			failed = append(failed, s)
		}
	}
	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	for _, s := range failed {
		if h.subs[s.ID] == s {
			h.removeLocked(s.ID)
		}
	}
	h.mu.Unlock()
	for _, s := range failed {
		s.Close()
	}
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		s.Close()
		h.removeLocked(id)
	}
}
