package domain

import "time"

// Session tracks one conversation with the upstream AI application.
// The ID is issued by the upstream platform, never by us.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// Clone returns a copy whose message slice does not alias the receiver's.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

// Turn returns the user/assistant message pair for one chat round trip.
// Both messages share the same timestamp.
func Turn(userText, assistantText string, at time.Time) []Message {
	return []Message{
		{Role: RoleUser, Content: userText, Timestamp: at},
		{Role: RoleAssistant, Content: assistantText, Timestamp: at},
	}
}
