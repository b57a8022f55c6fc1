// Package telephony implements the media stream wire protocol spoken by the
// phone-side WebSocket: JSON frames tagged by an "event" field, with audio
// carried as base64 payloads inside "media" frames.
package telephony

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventDTMF      = "dtmf"
	EventMark      = "mark"
	EventClear     = "clear"
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

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// MediaFormat describes the audio shape of the inbound stream as announced
// by the start frame. Phone audio is 8 kHz mono µ-law in practice.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type Connected struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`
}

type StartInfo struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	CallSID          string            `json:"callSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type Start struct {
	Event          string    `json:"event"`
	SequenceNumber string    `json:"sequenceNumber,omitempty"`
	StreamSID      string    `json:"streamSid"`
	Start          StartInfo `json:"start"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type Media struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSID      string       `json:"streamSid"`
	Media          MediaPayload `json:"media"`
}

type StopInfo struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
}

type Stop struct {
	Event          string   `json:"event"`
	SequenceNumber string   `json:"sequenceNumber,omitempty"`
	StreamSID      string   `json:"streamSid"`
	Stop           StopInfo `json:"stop"`
}

type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

type DTMF struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSID      string      `json:"streamSid"`
	DTMF           DTMFPayload `json:"dtmf"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

// Mark is sent by the platform once it finishes playing all audio queued
// before a mark frame we sent, echoing the mark's name back.
type Mark struct {
	Event          string      `json:"event"`
	SequenceNumber string      `json:"sequenceNumber,omitempty"`
	StreamSID      string      `json:"streamSid"`
	Mark           MarkPayload `json:"mark"`
}

// EventName extracts the frame discriminator without decoding the full frame.
func EventName(data []byte) (string, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", badFrame("invalid json frame", "")
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return "", badFrame("missing event", "event")
	}
	return event, nil
}

// DecodeMessage parses one inbound telephony frame into its typed form.
func DecodeMessage(data []byte) (any, error) {
	event, err := EventName(data)
	if err != nil {
		return nil, err
	}

	switch event {
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid connected frame", "")
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid start frame", "")
		}
		if strings.TrimSpace(msg.Start.StreamSID) == "" && strings.TrimSpace(msg.StreamSID) == "" {
			return nil, badFrame("start.streamSid is required", "start.streamSid")
		}
		if strings.TrimSpace(msg.Start.StreamSID) == "" {
			msg.Start.StreamSID = msg.StreamSID
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid media frame", "")
		}
		if strings.TrimSpace(msg.Media.Payload) == "" {
			return nil, badFrame("media.payload is required", "media.payload")
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid stop frame", "")
		}
		return msg, nil
	case EventDTMF:
		var msg DTMF
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid dtmf frame", "")
		}
		if strings.TrimSpace(msg.DTMF.Digit) == "" {
			return nil, badFrame("dtmf.digit is required", "dtmf.digit")
		}
		return msg, nil
	case EventMark:
		var msg Mark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid mark frame", "")
		}
		if strings.TrimSpace(msg.Mark.Name) == "" {
			return nil, badFrame("mark.name is required", "mark.name")
		}
		return msg, nil
	default:
		return nil, badFrame("unsupported event", "event")
	}
}

type OutboundMediaPayload struct {
	Payload string `json:"payload"`
}

type OutboundMedia struct {
	Event     string               `json:"event"`
	StreamSID string               `json:"streamSid"`
	Media     OutboundMediaPayload `json:"media"`
}

type OutboundMark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      MarkPayload `json:"mark"`
}

// Clear asks the platform to drop any audio it has buffered but not yet
// played, cutting off assistant speech when the caller barges in.
type Clear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// NewOutboundMedia wraps already µ-law-encoded, base64 audio for playback.
func NewOutboundMedia(streamSID, payloadB64 string) OutboundMedia {
	return OutboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     OutboundMediaPayload{Payload: payloadB64},
	}
}

func NewOutboundMark(streamSID, name string) OutboundMark {
	return OutboundMark{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      MarkPayload{Name: name},
	}
}

func NewClear(streamSID string) Clear {
	return Clear{Event: EventClear, StreamSID: streamSID}
}
