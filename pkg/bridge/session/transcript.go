package session

import (
	"strings"
	"sync"
)

// TranscriptAccumulator collects streamed transcript deltas for one speaker
// until the final text is flushed. Safe for concurrent use.
type TranscriptAccumulator struct {
	mu    sync.Mutex
	parts []string
}

func (t *TranscriptAccumulator) Append(delta string) {
	if delta == "" {
		return
	}
	t.mu.Lock()
	t.parts = append(t.parts, delta)
	t.mu.Unlock()
}

// Flush returns the accumulated text and resets the accumulator.
func (t *TranscriptAccumulator) Flush() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	text := strings.Join(t.parts, "")
	t.parts = t.parts[:0]
	return text
}

func (t *TranscriptAccumulator) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.parts {
		n += len(p)
	}
	return n
}
