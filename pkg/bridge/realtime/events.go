// Package realtime models the conversational AI realtime protocol: JSON
// events tagged by a "type" field flowing over a single WebSocket, audio as
// base64 PCM16 inside event payloads.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// Server event types.
	TypeSessionCreated               = "session.created"
	TypeSessionUpdated               = "session.updated"
	TypeSpeechStarted                = "input_audio_buffer.speech_started"
	TypeSpeechStopped                = "input_audio_buffer.speech_stopped"
	TypeInputCommitted               = "input_audio_buffer.committed"
	TypeResponseCreated              = "response.created"
	TypeAudioDelta                   = "response.audio.delta"
	TypeAudioDone                    = "response.audio.done"
	TypeTextDelta                    = "response.text.delta"
	TypeTextDone                     = "response.text.done"
	TypeAudioTranscriptDelta         = "response.audio_transcript.delta"
	TypeAudioTranscriptDone          = "response.audio_transcript.done"
	TypeInputTranscriptionDelta      = "conversation.item.input_audio_transcription.delta"
	TypeInputTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	TypeOutputItemAdded              = "response.output_item.added"
	TypeOutputItemDone               = "response.output_item.done"
	TypeFunctionCallArgumentsDelta   = "response.function_call_arguments.delta"
	TypeFunctionCallArgumentsDone    = "response.function_call_arguments.done"
	TypeResponseDone                 = "response.done"
	TypeError                        = "error"
	TypeRateLimitsUpdated            = "rate_limits.updated"

	// Client event types.
	TypeSessionUpdate          = "session.update"
	TypeInputAudioBufferAppend = "input_audio_buffer.append"
	TypeInputAudioBufferCommit = "input_audio_buffer.commit"
	TypeInputAudioBufferClear  = "input_audio_buffer.clear"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badEvent(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_event", Message: message, Param: param}
}

// EventType extracts the event discriminator without decoding the payload.
func EventType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", badEvent("invalid json event", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return "", badEvent("missing type", "type")
	}
	return typ, nil
}

// Session mirrors the mutable session object carried by session.created,
// session.updated and session.update events.
type Session struct {
	ID                      string          `json:"id,omitempty"`
	Model                   string          `json:"model,omitempty"`
	Modalities              []string        `json:"modalities,omitempty"`
	Instructions            string          `json:"instructions,omitempty"`
	Voice                   string          `json:"voice,omitempty"`
	InputAudioFormat        string          `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string          `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription  `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection  `json:"turn_detection,omitempty"`
	Tools                   []Tool          `json:"tools,omitempty"`
	Temperature             float64         `json:"temperature,omitempty"`
	MaxResponseOutputTokens json.RawMessage `json:"max_response_output_tokens,omitempty"`
}

type Transcription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

// Tool declares a function the model may call during a response.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type SessionCreated struct {
	Type    string  `json:"type"`
	EventID string  `json:"event_id,omitempty"`
	Session Session `json:"session"`
}

type SpeechStarted struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id,omitempty"`
	AudioStartMS int64  `json:"audio_start_ms,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
}

type ResponseCreated struct {
	Type     string   `json:"type"`
	EventID  string   `json:"event_id,omitempty"`
	Response Response `json:"response"`
}

// AudioDelta carries one chunk of base64 PCM16 assistant audio.
type AudioDelta struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id,omitempty"`
	ResponseID   string `json:"response_id,omitempty"`
	ItemID       string `json:"item_id,omitempty"`
	OutputIndex  int    `json:"output_index,omitempty"`
	ContentIndex int    `json:"content_index,omitempty"`
	Delta        string `json:"delta"`
}

type AudioDone struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
}

type TextDelta struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta"`
}

type TextDone struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	Text       string `json:"text"`
}

type TranscriptDelta struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta"`
}

type TranscriptDone struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Transcript string `json:"transcript"`
}

type InputTranscriptionDelta struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	Delta   string `json:"delta"`
}

type InputTranscriptionCompleted struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Transcript string `json:"transcript"`
}

// Item is a conversation item inside output_item events. For function calls
// Name and CallID identify the invocation.
type Item struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Status    string `json:"status,omitempty"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type OutputItemAdded struct {
	Type        string `json:"type"`
	EventID     string `json:"event_id,omitempty"`
	ResponseID  string `json:"response_id,omitempty"`
	OutputIndex int    `json:"output_index,omitempty"`
	Item        Item   `json:"item"`
}

type FunctionCallArgumentsDelta struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	CallID     string `json:"call_id"`
	Delta      string `json:"delta"`
}

type FunctionCallArgumentsDone struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	CallID     string `json:"call_id"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments"`
}

type Usage struct {
	TotalTokens  int `json:"total_tokens,omitempty"`
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

type Response struct {
	ID            string `json:"id,omitempty"`
	Status        string `json:"status,omitempty"`
	StatusDetails any    `json:"status_details,omitempty"`
	Usage         *Usage `json:"usage,omitempty"`
}

type ResponseDone struct {
	Type     string   `json:"type"`
	EventID  string   `json:"event_id,omitempty"`
	Response Response `json:"response"`
}

type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

type ErrorEvent struct {
	Type    string      `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Error   ErrorDetail `json:"error"`
}

type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds,omitempty"`
}

type RateLimitsUpdated struct {
	Type       string      `json:"type"`
	EventID    string      `json:"event_id,omitempty"`
	RateLimits []RateLimit `json:"rate_limits"`
}

