package gateway

import "encoding/json"

// ProtocolVersion is the /api/ws protocol spoken by this server.
const ProtocolVersion = 1

// Frame kinds.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RPC methods.
const (
	MethodConnect   = "connect"
	MethodHealth    = "health"
	MethodCreate    = "conversation.create"
	MethodChat      = "conversation.chat"
	MethodHistory   = "conversation.history"
	MethodSubscribe = "conversation.subscribe"
)

// Error codes carried in ErrorShape.Code.
const (
	CodeProtocol       = "protocol_error"
	CodeInvalidParams  = "invalid_params"
	CodeMethodNotFound = "method_not_found"
	CodeNotFound       = "not_found"
	CodeUpstream       = "upstream_error"
	CodeInternal       = "internal_error"
)

// Frame is one /api/ws message. Type selects which fields are set:
// req carries ID/Method/Params, res carries ID/OK/Payload or Error, and
// event carries Event/Seq/Payload.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ConnectParams open every /api/ws session.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Locale      string     `json:"locale,omitempty"`
}

// ClientInfo identifies the connecting widget.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"` // "web" | "terminal"
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features lists the callable methods and the events a subscriber may see.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

type ServerPolicy struct {
	MaxPayload int `json:"maxPayload"`
}

// TurnEvent is the payload of conversation.turn.
type TurnEvent struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	Result         string `json:"result"`
}

// CreatedEvent is the payload of conversation.created.
type CreatedEvent struct {
	ConversationID string `json:"conversation_id"`
}

func boolPtr(b bool) *bool { return &b }

// withBody marshals body into the field of f that into points at.
func withBody(f *Frame, body any, into *json.RawMessage) (Frame, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Frame{}, err
	}
	*into = raw
	return *f, nil
}

// NewRequest builds a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	f := Frame{Type: FrameTypeRequest, ID: id, Method: method}
	return withBody(&f, params, &f.Params)
}

// NewResponse builds a success response to request id.
func NewResponse(id string, payload any) (Frame, error) {
	f := Frame{Type: FrameTypeResponse, ID: id, OK: boolPtr(true)}
	return withBody(&f, payload, &f.Payload)
}

// NewErrorResponse builds a failed response to request id.
func NewErrorResponse(id string, shape ErrorShape) Frame {
	return Frame{Type: FrameTypeResponse, ID: id, OK: boolPtr(false), Error: &shape}
}

// NewEvent builds an event frame with sequence number seq.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	f := Frame{Type: FrameTypeEvent, Event: event, Seq: seq}
	return withBody(&f, payload, &f.Payload)
}
