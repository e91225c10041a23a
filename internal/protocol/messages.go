package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeAudio    MessageType = "audio"
	TypeGetStats MessageType = "get_stats"

	TypeInfo          MessageType = "info"
	TypeSTTResult     MessageType = "stt_result"
	TypeAudioResponse MessageType = "audio_response"
	TypeStats         MessageType = "stats"
	TypeError         MessageType = "error"
)

var (
	ErrInvalidMessage  = errors.New("invalid message")
	ErrUnsupportedType = errors.New("unsupported message type")
)

type envelope struct {
	Type MessageType `json:"type"`
}

// Audio carries one complete base64-encoded audio blob for a turn.
// Older clients send the payload under "audio_data"; both names are accepted.
type Audio struct {
	Type       MessageType `json:"type"`
	Data       string      `json:"data,omitempty"`
	LegacyData string      `json:"audio_data,omitempty"`
}

// Payload returns the audio payload regardless of which field carried it.
func (a Audio) Payload() string {
	if a.Data != "" {
		return a.Data
	}
	return a.LegacyData
}

type GetStats struct {
	Type MessageType `json:"type"`
}

type Info struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	SessionID string      `json:"session_id,omitempty"`
}

type STTResult struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// StageTimings reports per-stage wall-clock latency for one turn.
type StageTimings struct {
	DecodeMS int64 `json:"decode_ms"`
	STTMS    int64 `json:"stt_ms"`
	LLMMS    int64 `json:"llm_ms"`
	TTSMS    int64 `json:"tts_ms"`
	TotalMS  int64 `json:"total_ms"`
}

type AudioResponse struct {
	Type        MessageType  `json:"type"`
	Text        string       `json:"text"`
	AudioBase64 string       `json:"audio"`
	UserInput   string       `json:"user_input"`
	Timings     StageTimings `json:"timings"`
}

type Stats struct {
	Type    MessageType    `json:"type"`
	Session map[string]any `json:"session"`
	User    map[string]any `json:"user"`
	Index   map[string]any `json:"index"`
}

type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ParseClientMessage decodes one inbound text frame into a closed variant.
// The envelope is decoded exactly once here; handlers never see raw JSON.
func ParseClientMessage(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrInvalidMessage
	}
	if strings.TrimSpace(string(env.Type)) == "" {
		return nil, ErrInvalidMessage
	}

	switch env.Type {
	case TypeAudio:
		var msg Audio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, ErrInvalidMessage
		}
		if strings.TrimSpace(msg.Payload()) == "" {
			return nil, errors.New("audio message has no payload")
		}
		return msg, nil
	case TypeGetStats:
		return GetStats{Type: TypeGetStats}, nil
	default:
		return nil, ErrUnsupportedType
	}
}
