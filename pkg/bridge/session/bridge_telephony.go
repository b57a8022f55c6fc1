package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/voxbridge/voxbridge/pkg/bridge/realtime"
	"github.com/voxbridge/voxbridge/pkg/bridge/telephony"
)

func (b *Bridge) buildTelephonyHandlers() map[string]frameHandler {
	return map[string]frameHandler{
		telephony.EventConnected: b.onTelephonyConnected,
		telephony.EventStart:     b.onTelephonyStart,
		telephony.EventMedia:     b.onTelephonyMedia,
		telephony.EventStop:      b.onTelephonyStop,
		telephony.EventDTMF:      b.onTelephonyDTMF,
		telephony.EventMark:      b.onTelephonyMark,
	}
}

func (b *Bridge) onTelephonyConnected(data []byte) error {
	var msg telephony.Connected
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode connected: %w", err)
	}
	b.logger.Info("telephony stream connected",
		"protocol", msg.Protocol,
		"version", msg.Version)
	return nil
}

// onTelephonyStart records the call identifiers and configures the AI
// session on the first start frame of the call.
func (b *Bridge) onTelephonyStart(data []byte) error {
	decoded, err := telephony.DecodeMessage(data)
	if err != nil {
		return fmt.Errorf("decode start: %w", err)
	}
	msg, ok := decoded.(telephony.Start)
	if !ok {
		return fmt.Errorf("start frame decoded to %T", decoded)
	}

	b.mu.Lock()
	b.session.StreamSID = msg.Start.StreamSID
	b.session.AccountSID = msg.Start.AccountSID
	b.session.CallSID = msg.Start.CallSID
	b.session.MediaFormat = msg.Start.MediaFormat.Encoding
	initialized := b.session.SessionInitialized
	b.mu.Unlock()

	b.logger.Info("call stream started",
		"stream_sid", msg.Start.StreamSID,
		"call_sid", msg.Start.CallSID,
		"encoding", msg.Start.MediaFormat.Encoding,
		"sample_rate", msg.Start.MediaFormat.SampleRate)

	if initialized {
		return nil
	}
	update := realtime.NewSessionUpdate(b.profile.SessionConfig())
	if err := b.sendAI(update); err != nil {
		return fmt.Errorf("send session.update: %w", err)
	}
	return nil
}

// onTelephonyMedia buffers one inbound audio chunk and forwards a batch to
// the AI endpoint when the threshold is reached.
func (b *Bridge) onTelephonyMedia(data []byte) error {
	var msg telephony.Media
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode media: %w", err)
	}
	chunk, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		return fmt.Errorf("decode media payload: %w", err)
	}
	if len(chunk) == 0 {
		return nil
	}

	b.mu.Lock()
	full := b.session.bufferAudio(chunk, b.cfg.MediaBatchSize)
	var batch []byte
	if full {
		batch = b.session.drainAudio()
	}
	b.mu.Unlock()

	if !full {
		return nil
	}
	return b.forwardCallerAudio(batch)
}

// forwardCallerAudio transcodes one batch of µ-law phone audio and appends
// it to the AI input buffer.
func (b *Bridge) forwardCallerAudio(mulaw []byte) error {
	if len(mulaw) == 0 {
		return nil
	}
	pcm := b.transcoder.TelephonyToModel(mulaw)
	encoded := base64.StdEncoding.EncodeToString(pcm)
	if err := b.sendAI(realtime.NewAudioAppend(encoded)); err != nil {
		return fmt.Errorf("send audio append: %w", err)
	}

	b.mu.Lock()
	b.session.AudioChunksSent++
	b.session.TotalAudioBytesSent += int64(len(pcm))
	b.mu.Unlock()
	b.metrics.RecordAudio("inbound", len(pcm))
	return nil
}

// onTelephonyStop flushes remaining caller audio, asks the model for a
// final turn, and tears the bridge down.
func (b *Bridge) onTelephonyStop(data []byte) error {
	var msg telephony.Stop
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode stop: %w", err)
	}
	b.logger.Info("call stream stopped", "call_sid", msg.Stop.CallSID)

	b.mu.Lock()
	remainder := b.session.drainAudio()
	b.mu.Unlock()

	if len(remainder) > 0 {
		if err := b.forwardCallerAudio(remainder); err != nil {
			b.logger.Warn("final audio flush failed", "error", err)
		}
	}
	if err := b.sendAI(realtime.NewAudioCommit()); err != nil {
		b.logger.Warn("final commit failed", "error", err)
	}
	if err := b.sendAI(realtime.NewResponseCreate()); err != nil {
		b.logger.Warn("final response trigger failed", "error", err)
	}

	b.Close()
	return nil
}

func (b *Bridge) onTelephonyDTMF(data []byte) error {
	var msg telephony.DTMF
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode dtmf: %w", err)
	}
	// Logged only. Routing keypresses into the conversation is left to
	// future IVR work.
	b.logger.Info("dtmf received", "digit", msg.DTMF.Digit, "track", msg.DTMF.Track)
	return nil
}

// onTelephonyMark handles the peer's acknowledgment of a mark we sent: the
// named audio segment has finished playing on the phone.
func (b *Bridge) onTelephonyMark(data []byte) error {
	var msg telephony.Mark
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode mark: %w", err)
	}
	b.logger.Debug("playback mark confirmed", "name", msg.Mark.Name)
	return nil
}
