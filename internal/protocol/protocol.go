package protocol

import (
	"encoding/json"
	"fmt"
)

// Client channel frame types
const (
	ClientTypeAudioData = "audio_data"
	ClientTypePing      = "ping"
	ClientTypePong      = "pong"
)

// Scrape ingress frame types
const (
	ScrapeTypeEditorUpdate      = "editor_update"
	ScrapeTypeDescriptionUpdate = "description_update"
	ScrapeTypeTitleUpdate       = "title_update"
)

// Upstream event types (Azure Voice Live realtime protocol)
const (
	UpstreamTypeSessionUpdate     = "session.update"
	UpstreamTypeAudioBufferAppend = "input_audio_buffer.append"
	UpstreamTypeItemCreate        = "conversation.item.create"
	UpstreamTypeResponseCreate    = "response.create"
)

// ClientFrame is a JSON text frame received on the client channel.
// Audio is base64 PCM as produced by the extension; it is forwarded to the
// upstream without decoding.
type ClientFrame struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

// PongFrame is the only control reply emitted on the client channel.
type PongFrame struct {
	Type string `json:"type"`
}

// ScrapeFrame is a JSON text frame received on the scrape ingress.
// The ingress is fire-and-forget: no outbound frames are defined.
type ScrapeFrame struct {
	Type string     `json:"type"`
	Data ScrapeData `json:"data"`
}

// ScrapeData carries the scraped page content.
type ScrapeData struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SessionUpdate is the session-configuration event sent as the first frame
// after connect. EventID is always present and empty on this variant.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
	EventID string        `json:"event_id"`
}

// InstructionsUpdate is the session.update variant used for mid-conversation
// context injection. It carries only replacement instructions and, unlike the
// handshake, no event_id key.
type InstructionsUpdate struct {
	Type    string              `json:"type"`
	Session InstructionsSession `json:"session"`
}

// InstructionsSession holds the replacement instructions for an injection.
type InstructionsSession struct {
	Instructions string `json:"instructions"`
}

// SessionConfig is the full session object of the configuration handshake.
type SessionConfig struct {
	Instructions            string             `json:"instructions"`
	InputAudioTranscription AudioTranscription `json:"input_audio_transcription"`
	TurnDetection           TurnDetection      `json:"turn_detection"`
	InputAudioNoiseReduct   NoiseReduction     `json:"input_audio_noise_reduction"`
	InputAudioEchoCancel    EchoCancellation   `json:"input_audio_echo_cancellation"`
	Voice                   VoiceConfig        `json:"voice"`
}

// AudioTranscription selects the upstream transcription model.
type AudioTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language"`
}

// TurnDetection configures Azure semantic VAD turn taking.
type TurnDetection struct {
	Type                    string                  `json:"type"`
	Threshold               float64                 `json:"threshold"`
	PrefixPaddingMS         int                     `json:"prefix_padding_ms"`
	SilenceDurationMS       int                     `json:"silence_duration_ms"`
	RemoveFillerWords       bool                    `json:"remove_filler_words"`
	EndOfUtteranceDetection EndOfUtteranceDetection `json:"end_of_utterance_detection"`
}

// EndOfUtteranceDetection tunes the semantic end-of-utterance model.
type EndOfUtteranceDetection struct {
	Model     string  `json:"model"`
	Threshold float64 `json:"threshold"`
	Timeout   int     `json:"timeout"`
}

// NoiseReduction selects the upstream noise suppression mode.
type NoiseReduction struct {
	Type string `json:"type"`
}

// EchoCancellation selects the upstream echo cancellation mode.
type EchoCancellation struct {
	Type string `json:"type"`
}

// VoiceConfig selects the synthesis voice.
type VoiceConfig struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Temperature float64 `json:"temperature"`
	Rate        string  `json:"rate"`
}

// AudioAppend wraps one base64 audio chunk for the upstream.
type AudioAppend struct {
	Type    string `json:"type"`
	Audio   string `json:"audio"`
	EventID string `json:"event_id"`
}

// ItemCreate submits a user text turn to the conversation.
type ItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ConversationItem is the message body of an ItemCreate.
type ConversationItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ItemContent `json:"content"`
}

// ItemContent is one content block of a conversation item.
type ItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseCreate asks the upstream to produce a spoken response to the
// conversation state.
type ResponseCreate struct {
	Type     string         `json:"type"`
	Response ResponseConfig `json:"response"`
}

// ResponseConfig constrains the requested response.
type ResponseConfig struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions"`
}

// NewAudioAppend builds an upstream append frame for one base64 audio chunk.
func NewAudioAppend(audio string) AudioAppend {
	return AudioAppend{
		Type:    UpstreamTypeAudioBufferAppend,
		Audio:   audio,
		EventID: "",
	}
}

// NewPong builds the reply to a client ping.
func NewPong() PongFrame {
	return PongFrame{Type: ClientTypePong}
}

// ParseClientFrame decodes a client channel text frame.
func ParseClientFrame(data []byte) (*ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse client frame: %w", err)
	}

	if frame.Type == "" {
		return nil, fmt.Errorf("client frame missing type")
	}

	return &frame, nil
}

// ParseScrapeFrame decodes a scrape ingress text frame.
func ParseScrapeFrame(data []byte) (*ScrapeFrame, error) {
	var frame ScrapeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse scrape frame: %w", err)
	}

	if frame.Type == "" {
		return nil, fmt.Errorf("scrape frame missing type")
	}

	return &frame, nil
}
