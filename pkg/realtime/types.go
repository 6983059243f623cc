package realtime

import (
	"fmt"
	"strings"
)

// Audio formats understood by the Realtime API
const (
	AudioFormatG711Ulaw = "g711_ulaw"
	AudioFormatG711Alaw = "g711_alaw"
	AudioFormatPCM16    = "pcm16"
)

// Modalities
const (
	ModalityAudio = "audio"
	ModalityText  = "text"
)

// Message types. The first three are sent, the rest are received.
const (
	TypeSessionUpdate    = "session.update"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeResponseCreate   = "response.create"
	TypeSessionCreated   = "session.created"
	TypeAudioDelta       = "response.audio.delta"
	TypeResponseDone     = "response.done"
	TypeItemCreated      = "conversation.item.created"
	TypeSpeechStarted    = "input_audio_buffer.speech_started"
	TypeError            = "error"
)

// TurnDetection holds the server-side voice activity detection settings
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// SessionConfig describes how the model behaves for one call. It is sent once
// per connection as the body of a session.update command.
type SessionConfig struct {
	Modalities        []string       `json:"modalities"`
	Instructions      string         `json:"instructions"`
	Voice             string         `json:"voice"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`
	ToolChoice        string         `json:"tool_choice,omitempty"`
	Temperature       float64        `json:"temperature"`
}

// DefaultSessionConfig returns the telephony profile: μ-law in and out,
// server VAD, no tools.
func DefaultSessionConfig(instructions, voice string) SessionConfig {
	if voice == "" {
		voice = "alloy"
	}
	return SessionConfig{
		Modalities:        []string{ModalityAudio, ModalityText},
		Instructions:      instructions,
		Voice:             voice,
		InputAudioFormat:  AudioFormatG711Ulaw,
		OutputAudioFormat: AudioFormatG711Ulaw,
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
		ToolChoice:  "none",
		Temperature: 0.8,
	}
}

// ResponseOptions is the body of a response.create command
type ResponseOptions struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type responseCreate struct {
	Type     string          `json:"type"`
	Response ResponseOptions `json:"response"`
}

// serverMessage is the union of the inbound fields we read. The "type" field
// is the discriminant.
type serverMessage struct {
	Type     string            `json:"type"`
	EventID  string            `json:"event_id,omitempty"`
	Delta    string            `json:"delta,omitempty"`
	Session  *SessionInfo      `json:"session,omitempty"`
	Response *ResponseInfo     `json:"response,omitempty"`
	Item     *ConversationItem `json:"item,omitempty"`
	Error    *APIError         `json:"error,omitempty"`
}

// SessionInfo is the subset of the server session object we log
type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

// ResponseInfo is the subset of a finished response we log
type ResponseInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ContentPart is one element of a conversation item's content
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ConversationItem is an item added to the conversation
type ConversationItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// Text joins the textual content parts of the item with a space.
// Audio parts are skipped.
func (i *ConversationItem) Text() string {
	if i == nil {
		return ""
	}
	var parts []string
	for _, c := range i.Content {
		if c.Type != "input_text" && c.Type != "text" {
			continue
		}
		s := c.Text
		if s == "" {
			s = c.Transcript
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// APIError is an application error reported by the service in an error event
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("realtime %s: %s", e.Type, e.Message)
}
