package domain

import (
	"errors"
	"fmt"
)

// UpstreamError reports a failed call to the conversational-AI or speech
// platform: transport failure, auth failure or a non-2xx status.
type UpstreamError struct {
	Op     string // "conversation.create", "conversation.run", "speech.recognize"
	Status int    // HTTP status, 0 when the request never completed
	Body   []byte // raw upstream response body, if any
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("upstream %s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("upstream %s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("upstream %s failed", e.Op)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NotFoundError reports a lookup of an unknown identifier.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// SpeechRecognitionError is returned when the speech service answers but
// reports a non-zero domain error code or no transcript.
type SpeechRecognitionError struct {
	Code    int
	Message string
}

func (e *SpeechRecognitionError) Error() string {
	return fmt.Sprintf("speech recognition failed (err_no=%d): %s", e.Code, e.Message)
}

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
