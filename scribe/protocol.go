package scribe

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Outbound and inbound envelopes share a single "message_type" discriminator.
// Audio is base64 little-endian 16-bit PCM at 16 kHz mono.
const (
	msgConfigure  = "configure"
	msgAudioChunk = "input_audio_chunk"

	msgSessionStarted = "session_started"
	msgPartial        = "partial_transcript"
	msgCommitted      = "committed_transcript"
	msgInputError     = "input_error"

	wireEncoding = "pcm_16000"
)

type configureMsg struct {
	MessageType  string `json:"message_type"`
	ModelID      string `json:"model_id"`
	LanguageCode string `json:"language_code,omitempty"`
	Encoding     string `json:"encoding"`
}

type audioChunkMsg struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base_64"`
}

func encodeConfigure(model, language string) ([]byte, error) {
	return json.Marshal(configureMsg{
		MessageType:  msgConfigure,
		ModelID:      model,
		LanguageCode: language,
		Encoding:     wireEncoding,
	})
}

func encodeAudioChunk(pcm []byte) ([]byte, error) {
	return json.Marshal(audioChunkMsg{
		MessageType: msgAudioChunk,
		AudioBase64: base64.StdEncoding.EncodeToString(pcm),
	})
}

// EventKind discriminates inbound transcript events.
type EventKind int

const (
	EventSessionStarted EventKind = iota
	EventPartial
	EventCommitted
	EventInputError
)

func (k EventKind) String() string {
	switch k {
	case EventSessionStarted:
		return "session_started"
	case EventPartial:
		return "partial_transcript"
	case EventCommitted:
		return "committed_transcript"
	case EventInputError:
		return "input_error"
	}
	return "unknown"
}

// Event is one decoded inbound message. Partials are replaceable previews:
// each supersedes the previous partial within the current segment. Committed
// text is final and appends.
type Event struct {
	Kind       EventKind
	SessionID  string
	Text       string
	Confidence float64
	Timestamp  time.Time
	Message    string
}

type inboundMsg struct {
	MessageType string  `json:"message_type"`
	SessionID   string  `json:"session_id"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Timestamp   string  `json:"timestamp"`
	Message     string  `json:"message"`
}

func decodeEvent(data []byte) (Event, error) {
	var m inboundMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return Event{}, fmt.Errorf("scribe: malformed event: %w", err)
	}

	ev := Event{
		SessionID:  m.SessionID,
		Text:       m.Text,
		Confidence: m.Confidence,
		Message:    m.Message,
	}
	if m.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
			ev.Timestamp = ts
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	switch m.MessageType {
	case msgSessionStarted:
		ev.Kind = EventSessionStarted
	case msgPartial:
		ev.Kind = EventPartial
	case msgCommitted:
		ev.Kind = EventCommitted
	case msgInputError:
		ev.Kind = EventInputError
	default:
		return Event{}, fmt.Errorf("scribe: unknown message_type %q", m.MessageType)
	}
	return ev, nil
}
