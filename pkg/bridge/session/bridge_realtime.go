package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxbridge/voxbridge/pkg/bridge/realtime"
	"github.com/voxbridge/voxbridge/pkg/bridge/telephony"
)

func (b *Bridge) buildAIHandlers() map[string]frameHandler {
	return map[string]frameHandler{
		realtime.TypeSessionCreated: b.onSessionCreated,
		realtime.TypeSessionUpdated: b.onSessionUpdated,

		realtime.TypeSpeechStarted:  b.onSpeechStarted,
		realtime.TypeSpeechStopped:  b.onSpeechStopped,
		realtime.TypeInputCommitted: b.onInputCommitted,

		realtime.TypeResponseCreated: b.onResponseCreated,
		realtime.TypeResponseDone:    b.onResponseDone,

		realtime.TypeAudioDelta: b.onAudioDelta,
		realtime.TypeAudioDone:  b.onAudioDone,

		realtime.TypeTextDelta:                   b.onAssistantTextDelta,
		realtime.TypeAudioTranscriptDelta:        b.onAssistantTextDelta,
		realtime.TypeAudioTranscriptDone:         b.onAssistantTranscriptDone,
		realtime.TypeInputTranscriptionDelta:     b.onCallerTranscriptDelta,
		realtime.TypeInputTranscriptionCompleted: b.onCallerTranscriptDone,

		realtime.TypeOutputItemAdded:            b.onOutputItemAdded,
		realtime.TypeFunctionCallArgumentsDelta: b.onFunctionArgsDelta,
		realtime.TypeFunctionCallArgumentsDone:  b.onFunctionArgsDone,

		realtime.TypeError:             b.onAIError,
		realtime.TypeRateLimitsUpdated: b.onRateLimits,
	}
}

// onSessionCreated marks the AI session live and seeds the opening turn.
func (b *Bridge) onSessionCreated(data []byte) error {
	var msg realtime.SessionCreated
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode session.created: %w", err)
	}

	b.mu.Lock()
	already := b.session.SessionInitialized
	b.session.SessionInitialized = true
	b.mu.Unlock()

	b.logger.Info("ai session created", "session_id", msg.Session.ID)
	if already {
		return nil
	}

	if greeting := strings.TrimSpace(b.profile.Greeting); greeting != "" {
		if err := b.sendAI(realtime.NewSystemMessage(greeting)); err != nil {
			return fmt.Errorf("send greeting item: %w", err)
		}
	}
	if err := b.sendAI(realtime.NewResponseCreate()); err != nil {
		return fmt.Errorf("trigger opening turn: %w", err)
	}
	return nil
}

func (b *Bridge) onSessionUpdated(data []byte) error {
	var msg realtime.SessionCreated
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode session.updated: %w", err)
	}
	b.logger.Debug("ai session updated", "session_id", msg.Session.ID)
	return nil
}

// onSpeechStarted flags caller speech and, when enabled, cuts off buffered
// assistant playback so the caller can barge in.
func (b *Bridge) onSpeechStarted(data []byte) error {
	var msg realtime.SpeechStarted
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode speech_started: %w", err)
	}

	b.mu.Lock()
	b.session.SpeechDetected = true
	streamSID := b.session.StreamSID
	b.mu.Unlock()

	b.logger.Debug("caller speech started", "audio_start_ms", msg.AudioStartMS)
	if !b.cfg.BargeInClear || streamSID == "" {
		return nil
	}
	if err := b.sendTelephony(telephony.NewClear(streamSID)); err != nil {
		return fmt.Errorf("send clear: %w", err)
	}
	return nil
}

func (b *Bridge) onSpeechStopped(data []byte) error {
	b.mu.Lock()
	b.session.SpeechDetected = false
	b.mu.Unlock()
	b.logger.Debug("caller speech stopped")
	return nil
}

func (b *Bridge) onInputCommitted(data []byte) error {
	b.logger.Debug("input audio committed")
	return nil
}

func (b *Bridge) onResponseCreated(data []byte) error {
	var msg realtime.ResponseCreated
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode response.created: %w", err)
	}

	b.mu.Lock()
	previous := b.session.ActiveResponseID
	b.session.ActiveResponseID = msg.Response.ID
	b.mu.Unlock()

	if previous != "" && previous != msg.Response.ID {
		b.logger.Warn("new response created while another was active",
			"active", previous,
			"created", msg.Response.ID)
	}
	b.logger.Debug("response created", "response_id", msg.Response.ID)
	return nil
}

// onAudioDelta transcodes one assistant audio chunk down to the telephony
// codec and plays it to the caller. Chunks racing the session teardown or
// arriving before the stream starts are dropped quietly.
func (b *Bridge) onAudioDelta(data []byte) error {
	var msg realtime.AudioDelta
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode audio delta: %w", err)
	}
	pcm, err := base64.StdEncoding.DecodeString(msg.Delta)
	if err != nil {
		return fmt.Errorf("decode audio delta payload: %w", err)
	}

	b.mu.Lock()
	streamSID := b.session.StreamSID
	b.mu.Unlock()
	if streamSID == "" || b.isClosed() {
		b.logger.Debug("dropping assistant audio", "bytes", len(pcm))
		return nil
	}

	mulaw, err := b.transcoder.ModelToTelephony(pcm)
	if err != nil {
		b.metrics.RecordTranscodeError()
		b.logger.Warn("skipping assistant audio chunk", "error", err)
		return nil
	}

	frame := telephony.NewOutboundMedia(streamSID, base64.StdEncoding.EncodeToString(mulaw))
	if err := b.sendTelephony(frame); err != nil {
		return fmt.Errorf("send assistant audio: %w", err)
	}
	b.metrics.RecordAudio("outbound", len(mulaw))
	return nil
}

// onAudioDone marks the end of one assistant audio segment with a uniquely
// named playback mark.
func (b *Bridge) onAudioDone(data []byte) error {
	b.mu.Lock()
	streamSID := b.session.StreamSID
	var name string
	if streamSID != "" {
		name = b.session.nextMarkName()
	}
	b.mu.Unlock()

	if name == "" {
		return nil
	}
	if err := b.sendTelephony(telephony.NewOutboundMark(streamSID, name)); err != nil {
		return fmt.Errorf("send mark: %w", err)
	}
	b.logger.Debug("audio segment complete", "mark", name)
	return nil
}

func (b *Bridge) onAssistantTextDelta(data []byte) error {
	var msg realtime.TranscriptDelta
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode assistant text delta: %w", err)
	}
	b.outputText.Append(msg.Delta)
	return nil
}

func (b *Bridge) onAssistantTranscriptDone(data []byte) error {
	var msg realtime.TranscriptDone
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode assistant transcript: %w", err)
	}
	text := b.outputText.Flush()
	if text == "" {
		text = msg.Transcript
	}
	if text != "" {
		b.logger.Info("assistant said", "text", text)
	}
	return nil
}

func (b *Bridge) onCallerTranscriptDelta(data []byte) error {
	var msg realtime.InputTranscriptionDelta
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode caller transcript delta: %w", err)
	}
	b.inputText.Append(msg.Delta)
	return nil
}

func (b *Bridge) onCallerTranscriptDone(data []byte) error {
	var msg realtime.InputTranscriptionCompleted
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode caller transcript: %w", err)
	}
	text := b.inputText.Flush()
	if text == "" {
		text = msg.Transcript
	}
	if text != "" {
		b.logger.Info("caller said", "text", text)
	}
	return nil
}

func (b *Bridge) onOutputItemAdded(data []byte) error {
	var msg realtime.OutputItemAdded
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode output item: %w", err)
	}
	if msg.Item.Type != "function_call" {
		return nil
	}
	b.calls.Upsert(msg.Item.CallID, msg.Item.Name)
	b.logger.Debug("function call announced",
		"function", msg.Item.Name,
		"call_id", msg.Item.CallID)
	return nil
}

func (b *Bridge) onFunctionArgsDelta(data []byte) error {
	var msg realtime.FunctionCallArgumentsDelta
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode function args delta: %w", err)
	}
	b.calls.AppendArguments(msg.CallID, msg.Delta)
	return nil
}

// onFunctionArgsDone seals the streamed call and executes it off the read
// loop so a slow tool backend cannot stall AI event handling.
func (b *Bridge) onFunctionArgsDone(data []byte) error {
	var msg realtime.FunctionCallArgumentsDone
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode function args done: %w", err)
	}
	call, err := b.calls.Complete(msg.CallID, msg.Name, msg.Arguments)
	if err != nil {
		b.metrics.RecordFunctionCall(msg.Name, "invalid")
		return fmt.Errorf("complete function call: %w", err)
	}
	b.logger.Info("function call complete",
		"function", call.Name,
		"call_id", call.CallID)
	go b.invokeFunction(call)
	return nil
}

// invokeFunction runs one tool call and relays its result to the model.
func (b *Bridge) invokeFunction(call CompletedCall) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ToolTimeout)
	defer cancel()

	result, err := b.invoker.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		b.metrics.RecordFunctionCall(call.Name, "error")
		b.logger.Warn("function call failed", "function", call.Name, "error", err)
		result = json.RawMessage(fmt.Sprintf(`{"error":%q}`, err.Error()))
	} else {
		b.metrics.RecordFunctionCall(call.Name, "ok")
	}
	if b.isClosed() {
		return
	}
	if err := b.sendAI(realtime.NewFunctionCallOutput(call.CallID, result)); err != nil {
		b.logger.Warn("function result relay failed", "function", call.Name, "error", err)
		return
	}
	if err := b.sendAI(realtime.NewResponseCreate()); err != nil {
		b.logger.Warn("post-function response trigger failed", "function", call.Name, "error", err)
	}
}

func (b *Bridge) onResponseDone(data []byte) error {
	var msg realtime.ResponseDone
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode response.done: %w", err)
	}

	b.mu.Lock()
	active := b.session.ActiveResponseID
	if active == msg.Response.ID {
		b.session.ActiveResponseID = ""
	}
	b.mu.Unlock()

	if active != "" && active != msg.Response.ID {
		b.logger.Warn("response.done for inactive response",
			"active", active,
			"done", msg.Response.ID)
		return nil
	}
	fields := []any{"response_id", msg.Response.ID, "status", msg.Response.Status}
	if msg.Response.Usage != nil {
		fields = append(fields, "total_tokens", msg.Response.Usage.TotalTokens)
	}
	b.logger.Debug("response done", fields...)
	return nil
}

// onAIError logs an application-level error from the model. These are not
// transport failures; the call continues.
func (b *Bridge) onAIError(data []byte) error {
	var msg realtime.ErrorEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode error event: %w", err)
	}
	b.logger.Error("ai endpoint error",
		"code", msg.Error.Code,
		"message", msg.Error.Message,
		"param", msg.Error.Param)
	return nil
}

func (b *Bridge) onRateLimits(data []byte) error {
	var msg realtime.RateLimitsUpdated
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode rate limits: %w", err)
	}
	for _, limit := range msg.RateLimits {
		b.logger.Debug("rate limit updated",
			"name", limit.Name,
			"remaining", limit.Remaining,
			"limit", limit.Limit)
	}
	return nil
}
