package realtime

import "encoding/json"

// SessionUpdate configures the model session. The bridge always negotiates
// pcm16 on both directions and transcodes to the telephony codec itself.
type SessionUpdate struct {
	Type    string  `json:"type"`
	Session Session `json:"session"`
}

type InputAudioBufferAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type InputAudioBufferCommit struct {
	Type string `json:"type"`
}

type ResponseCreate struct {
	Type     string          `json:"type"`
	Response *ResponseConfig `json:"response,omitempty"`
}

type ResponseConfig struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// NewSessionUpdate builds the initial session configuration event.
func NewSessionUpdate(session Session) SessionUpdate {
	return SessionUpdate{Type: TypeSessionUpdate, Session: session}
}

// NewAudioAppend wraps base64 PCM16 caller audio for the input buffer.
func NewAudioAppend(audioB64 string) InputAudioBufferAppend {
	return InputAudioBufferAppend{Type: TypeInputAudioBufferAppend, Audio: audioB64}
}

func NewAudioCommit() InputAudioBufferCommit {
	return InputAudioBufferCommit{Type: TypeInputAudioBufferCommit}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: TypeResponseCreate}
}

// NewSystemMessage creates a conversation item with system-role guidance,
// used to seed the opening greeting.
func NewSystemMessage(text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    "system",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// NewFunctionCallOutput relays a tool result back to the model. The output
// must be a JSON document serialized to a string.
func NewFunctionCallOutput(callID string, output json.RawMessage) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: string(output),
		},
	}
}
