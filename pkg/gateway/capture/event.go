package capture

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Speech provider event types this system depends on. Everything else the
// provider emits is ignored upstream.
const (
	EventSpeechStart   = "speech_start"
	EventSpeechEnd     = "speech_end"
	EventTranscript    = "transcript"
	EventResponseStart = "response_start"
	EventResponseEnd   = "response_end"
)

const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// Event is one typed speech-provider event, client-reported or relayed.
type Event struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	Speaker    string    `json:"speaker,omitempty"`
	Text       string    `json:"text,omitempty"`
	Final      bool      `json:"final,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// DecodeError reports a malformed event. Malformed events are dropped and
// counted; they never crash the router.
type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Param == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badEvent(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// DecodeEvent parses and validates one raw event frame.
func DecodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, badEvent("invalid event json", "")
	}
	return ev, ValidateEvent(&ev)
}

// ValidateEvent checks required fields per event type.
func ValidateEvent(ev *Event) error {
	if strings.TrimSpace(ev.SessionID) == "" {
		return badEvent("session_id is required", "session_id")
	}

	switch ev.Type {
	case EventSpeechStart, EventSpeechEnd, EventResponseStart, EventResponseEnd:
		return nil
	case EventTranscript:
		switch ev.Speaker {
		case SpeakerUser, SpeakerAssistant:
		default:
			return badEvent("speaker must be user or assistant", "speaker")
		}
		if ev.Confidence < 0 || ev.Confidence > 1 {
			return badEvent("confidence must be within [0, 1]", "confidence")
		}
		return nil
	default:
		return badEvent("unknown event type", "type")
	}
}
