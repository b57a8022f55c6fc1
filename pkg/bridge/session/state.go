package session

import "fmt"

// markName derives the playback mark name for the nth assistant audio
// segment of a call.
func markName(n int64) string {
	return fmt.Sprintf("segment-%d", n)
}

// CallSession is the mutable record of one bridged call. All fields are
// guarded by the owning Bridge's mutex: both receive loops mutate it.
type CallSession struct {
	StreamSID  string
	AccountSID string
	CallSID    string

	// MediaFormat is the codec identifier announced by the telephony start
	// frame, kept for diagnostics.
	MediaFormat string

	// SessionInitialized flips once the AI endpoint confirms session
	// creation; it gates the opening assistant turn.
	SessionInitialized bool

	// SpeechDetected mirrors the AI endpoint's voice-activity state.
	SpeechDetected bool

	// ActiveResponseID tracks the single in-flight model response. A
	// response.done for any other id is logged and otherwise ignored.
	ActiveResponseID string

	// inboundAudio holds raw telephony-codec chunks awaiting a batched
	// transcode and forward.
	inboundAudio [][]byte

	AudioChunksSent     int64
	TotalAudioBytesSent int64

	// markCounter names playback marks; strictly increasing per session.
	markCounter int64
}

// bufferAudio appends one raw telephony chunk and reports whether the batch
// threshold has been reached.
func (s *CallSession) bufferAudio(chunk []byte, batchSize int) bool {
	s.inboundAudio = append(s.inboundAudio, chunk)
	return len(s.inboundAudio) >= batchSize
}

// drainAudio concatenates and clears the buffered chunks.
func (s *CallSession) drainAudio() []byte {
	if len(s.inboundAudio) == 0 {
		return nil
	}
	total := 0
	for _, chunk := range s.inboundAudio {
		total += len(chunk)
	}
	out := make([]byte, 0, total)
	for _, chunk := range s.inboundAudio {
		out = append(out, chunk...)
	}
	s.inboundAudio = s.inboundAudio[:0]
	return out
}

// nextMarkName mints the next unique playback mark name.
func (s *CallSession) nextMarkName() string {
	s.markCounter++
	return markName(s.markCounter)
}
