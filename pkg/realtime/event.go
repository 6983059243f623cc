package realtime

import (
	"encoding/json"
	"fmt"
)

// EventKind classifies an event delivered to the owner of a Client
type EventKind int

const (
	// EventInfo is any server message without a dedicated kind. New server
	// message types land here instead of failing.
	EventInfo EventKind = iota
	EventOpen
	EventSessionCreated
	EventAudioDelta
	EventResponseDone
	EventItemCreated
	EventSpeechStarted
	EventError
	EventTransportError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventInfo:
		return "info"
	case EventOpen:
		return "open"
	case EventSessionCreated:
		return "session_created"
	case EventAudioDelta:
		return "audio_delta"
	case EventResponseDone:
		return "response_done"
	case EventItemCreated:
		return "item_created"
	case EventSpeechStarted:
		return "speech_started"
	case EventError:
		return "error"
	case EventTransportError:
		return "transport_error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a classified inbound message or a transport state change
type Event struct {
	Kind EventKind
	Type string // raw "type" discriminant, empty for transport events

	Delta    string            // EventAudioDelta: base64 audio, passed through untouched
	Session  *SessionInfo      // EventSessionCreated
	Response *ResponseInfo     // EventResponseDone
	Item     *ConversationItem // EventItemCreated
	APIError *APIError         // EventError
	Err      error             // EventTransportError, EventClosed
}

// ParseEvent classifies a raw server message by its "type" field
func ParseEvent(data []byte) (Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("invalid realtime message: %w", err)
	}

	ev := Event{Type: msg.Type}
	switch msg.Type {
	case TypeSessionCreated:
		ev.Kind = EventSessionCreated
		ev.Session = msg.Session
	case TypeAudioDelta:
		ev.Kind = EventAudioDelta
		ev.Delta = msg.Delta
	case TypeResponseDone:
		ev.Kind = EventResponseDone
		ev.Response = msg.Response
	case TypeItemCreated:
		ev.Kind = EventItemCreated
		ev.Item = msg.Item
	case TypeSpeechStarted:
		ev.Kind = EventSpeechStarted
	case TypeError:
		ev.Kind = EventError
		ev.APIError = msg.Error
		if ev.APIError == nil {
			ev.APIError = &APIError{Type: "unknown"}
		}
	default:
		ev.Kind = EventInfo
	}
	return ev, nil
}
