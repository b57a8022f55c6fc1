package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/pkg/bridge/agent"
)

type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	closes    int
	readCh    chan []byte
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{readCh: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.readCh
	if !ok {
		return 0, nil, errors.New("fake conn closed")
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.writes = append(c.writes, buf)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (c *fakeConn) SetReadLimit(limit int64)           {}
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.readCh) })
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// writtenValues decodes every written frame by the given discriminator.
func (c *fakeConn) writtenValues(discriminator string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, data := range c.writes {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}
		var name string
		if raw, ok := envelope[discriminator]; ok {
			_ = json.Unmarshal(raw, &name)
		}
		out = append(out, name)
	}
	return out
}

func (c *fakeConn) writtenFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// waitForWrites polls until the conn has at least n written frames.
func (c *fakeConn) waitForWrites(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		have := len(c.writes)
		c.mu.Unlock()
		if have >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes", n)
}

type captureInvoker struct {
	mu    sync.Mutex
	calls []CompletedCall
}

func (i *captureInvoker) Invoke(_ context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	i.mu.Lock()
	i.calls = append(i.calls, CompletedCall{Name: name, Arguments: args})
	i.mu.Unlock()
	return json.RawMessage(`{"ok":true}`), nil
}

func (i *captureInvoker) captured() []CompletedCall {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]CompletedCall, len(i.calls))
	copy(out, i.calls)
	return out
}

func newTestBridge(t *testing.T, cfg Config) (*Bridge, *fakeConn, *fakeConn) {
	t.Helper()
	tel := newFakeConn()
	ai := newFakeConn()
	b, err := New(Dependencies{
		Telephony: tel,
		AI:        ai,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Profile:   agent.Default(),
		Config:    cfg,
		ID:        "test-bridge",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b, tel, ai
}

func mediaFrame(payload []byte) []byte {
	frame := fmt.Sprintf(`{"event":"media","streamSid":"MZ1","media":{"payload":%q}}`,
		base64.StdEncoding.EncodeToString(payload))
	return []byte(frame)
}

const startFrame = `{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`

func TestMediaBatching(t *testing.T) {
	b, _, ai := newTestBridge(t, Config{MediaBatchSize: 10})
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(startFrame))
	base := len(ai.writtenFrames()) // session.update from start

	chunk := make([]byte, 160)
	for i := 0; i < 9; i++ {
		b.dispatch("telephony", b.telephonyHandlers, "event", mediaFrame(chunk))
	}
	if got := len(ai.writtenFrames()); got != base {
		t.Fatalf("appends sent before threshold: %d extra frames", got-base)
	}

	b.dispatch("telephony", b.telephonyHandlers, "event", mediaFrame(chunk))
	frames := ai.writtenFrames()
	if len(frames) != base+1 {
		t.Fatalf("expected exactly one append at threshold, got %d extra frames", len(frames)-base)
	}

	var append10 struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	if err := json.Unmarshal(frames[base], &append10); err != nil {
		t.Fatalf("decode append: %v", err)
	}
	if append10.Type != "input_audio_buffer.append" {
		t.Fatalf("frame type = %q", append10.Type)
	}
	pcm, err := base64.StdEncoding.DecodeString(append10.Audio)
	if err != nil {
		t.Fatalf("append audio not base64: %v", err)
	}
	// 10 chunks of 160 µ-law bytes resampled 8k→24k as 16-bit PCM.
	if want := 10 * 160 * 3 * 2; len(pcm) != want {
		t.Fatalf("append carries %d bytes, want %d", len(pcm), want)
	}
}

func TestStartConfiguresSessionOnce(t *testing.T) {
	b, _, ai := newTestBridge(t, Config{})
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(startFrame))

	types := ai.writtenValues("type")
	if len(types) != 1 || types[0] != "session.update" {
		t.Fatalf("frames after start = %v", types)
	}

	b.mu.Lock()
	if b.session.StreamSID != "MZ1" || b.session.CallSID != "CA1" {
		b.mu.Unlock()
		t.Fatalf("session identifiers not recorded: %+v", b.session)
	}
	b.mu.Unlock()

	// A start frame after the AI session came up must not reconfigure.
	b.dispatch("ai", b.aiHandlers, "type", []byte(`{"type":"session.created","session":{"id":"sess_1"}}`))
	countAfterCreate := len(ai.writtenFrames())
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(startFrame))
	if got := len(ai.writtenFrames()); got != countAfterCreate {
		t.Fatalf("second start sent %d extra frames", got-countAfterCreate)
	}
}

func TestSessionCreatedSeedsOpeningTurn(t *testing.T) {
	b, _, ai := newTestBridge(t, Config{})
	b.dispatch("ai", b.aiHandlers, "type", []byte(`{"type":"session.created","session":{"id":"sess_1"}}`))

	types := ai.writtenValues("type")
	if len(types) != 2 || types[0] != "conversation.item.create" || types[1] != "response.create" {
		t.Fatalf("opening sequence = %v", types)
	}

	// A duplicate created event must not trigger a second opening turn.
	b.dispatch("ai", b.aiHandlers, "type", []byte(`{"type":"session.created","session":{"id":"sess_1"}}`))
	if got := ai.writtenValues("type"); len(got) != 2 {
		t.Fatalf("duplicate session.created added frames: %v", got)
	}
}

func TestAudioDeltaForwarded(t *testing.T) {
	b, tel, _ := newTestBridge(t, Config{})
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(startFrame))

	// 30 samples of 24 kHz PCM become 10 µ-law bytes at 8 kHz.
	pcm := make([]byte, 30*2)
	delta := fmt.Sprintf(`{"type":"response.audio.delta","delta":%q}`,
		base64.StdEncoding.EncodeToString(pcm))
	b.dispatch("ai", b.aiHandlers, "type", []byte(delta))

	frames := tel.writtenFrames()
	if len(frames) != 1 {
		t.Fatalf("telephony frames = %d, want 1", len(frames))
	}
	var media struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(frames[0], &media); err != nil {
		t.Fatalf("decode media frame: %v", err)
	}
	if media.Event != "media" || media.StreamSID != "MZ1" {
		t.Fatalf("media frame = %+v", media)
	}
	mulaw, err := base64.StdEncoding.DecodeString(media.Media.Payload)
	if err != nil {
		t.Fatalf("payload not base64: %v", err)
	}
	if len(mulaw) != 10 {
		t.Fatalf("payload carries %d bytes, want 10", len(mulaw))
	}
}

func TestAudioDeltaDroppedBeforeStart(t *testing.T) {
	b, tel, _ := newTestBridge(t, Config{})
	delta := fmt.Sprintf(`{"type":"response.audio.delta","delta":%q}`,
		base64.StdEncoding.EncodeToString(make([]byte, 480)))
	b.dispatch("ai", b.aiHandlers, "type", []byte(delta))
	if got := len(tel.writtenFrames()); got != 0 {
		t.Fatalf("audio forwarded before stream start: %d frames", got)
	}
}

func TestMarkNamesUniqueAndIncreasing(t *testing.T) {
	b, tel, _ := newTestBridge(t, Config{})
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(startFrame))

	for i := 0; i < 5; i++ {
		b.dispatch("ai", b.aiHandlers, "type", []byte(`{"type":"response.audio.done"}`))
	}

	seen := make(map[string]struct{})
	last := ""
	for i, frame := range tel.writtenFrames() {
		var mark struct {
			Event string `json:"event"`
			Mark  struct {
				Name string `json:"name"`
			} `json:"mark"`
		}
		if err := json.Unmarshal(frame, &mark); err != nil || mark.Event != "mark" {
			continue
		}
		name := mark.Mark.Name
		if _, dup := seen[name]; dup {
			t.Fatalf("duplicate mark name %q", name)
		}
		seen[name] = struct{}{}
		if name <= last {
			t.Fatalf("mark %d name %q not greater than %q", i, name, last)
		}
		last = name
	}
	if len(seen) != 5 {
		t.Fatalf("marks emitted = %d, want 5", len(seen))
	}
}

func TestStopFlushesCommitsAndCloses(t *testing.T) {
	b, _, ai := newTestBridge(t, Config{MediaBatchSize: 10})
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(startFrame))
	base := len(ai.writtenFrames())

	b.dispatch("telephony", b.telephonyHandlers, "event", mediaFrame(make([]byte, 160)))
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`))

	types := ai.writtenValues("type")[base:]
	want := []string{"input_audio_buffer.append", "input_audio_buffer.commit", "response.create"}
	if len(types) != len(want) {
		t.Fatalf("stop sequence = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("stop sequence = %v, want %v", types, want)
		}
	}
	if !b.isClosed() {
		t.Fatal("bridge not closed after stop")
	}
}

func TestFunctionCallLifecycle(t *testing.T) {
	tel := newFakeConn()
	ai := newFakeConn()
	invoker := &captureInvoker{}
	b, err := New(Dependencies{
		Telephony: tel,
		AI:        ai,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Profile:   agent.Default(),
		Invoker:   invoker,
		ID:        "test-bridge",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	b.dispatch("ai", b.aiHandlers, "type", []byte(`{
		"type":"response.output_item.added",
		"item":{"type":"function_call","name":"lookup_order","call_id":"call_1"}
	}`))
	b.dispatch("ai", b.aiHandlers, "type", []byte(`{"type":"response.function_call_arguments.delta","call_id":"call_1","delta":"{\"a\":"}`))
	b.dispatch("ai", b.aiHandlers, "type", []byte(`{"type":"response.function_call_arguments.delta","call_id":"call_1","delta":"1}"}`))
	b.dispatch("ai", b.aiHandlers, "type", []byte(`{"type":"response.function_call_arguments.done","call_id":"call_1","arguments":"{\"a\":1}"}`))

	ai.waitForWrites(t, 2) // function_call_output + response.create

	calls := invoker.captured()
	if len(calls) != 1 {
		t.Fatalf("invocations = %d, want 1", len(calls))
	}
	if calls[0].Name != "lookup_order" || string(calls[0].Arguments) != `{"a":1}` {
		t.Fatalf("invocation = %+v", calls[0])
	}
	if b.calls.PendingCount() != 0 {
		t.Fatal("completed call still pending in aggregator")
	}

	types := ai.writtenValues("type")
	if types[0] != "conversation.item.create" || types[1] != "response.create" {
		t.Fatalf("relay sequence = %v", types)
	}
	var relay struct {
		Item struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"item"`
	}
	if err := json.Unmarshal(ai.writtenFrames()[0], &relay); err != nil {
		t.Fatalf("decode relay: %v", err)
	}
	if relay.Item.Type != "function_call_output" || relay.Item.CallID != "call_1" {
		t.Fatalf("relay item = %+v", relay.Item)
	}
	if relay.Item.Output != `{"ok":true}` {
		t.Fatalf("relay output = %q", relay.Item.Output)
	}
}

func TestCloseIdempotentAndConcurrent(t *testing.T) {
	b, tel, ai := newTestBridge(t, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Close()
		}()
	}
	wg.Wait()

	if tel.closeCount() != 1 {
		t.Fatalf("telephony closed %d times", tel.closeCount())
	}
	if ai.closeCount() != 1 {
		t.Fatalf("ai closed %d times", ai.closeCount())
	}
	select {
	case <-b.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestUnknownFramesDoNotMutateSession(t *testing.T) {
	b, tel, ai := newTestBridge(t, Config{})

	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(`{"event":"ring"}`))
	b.dispatch("ai", b.aiHandlers, "type", []byte(`{"type":"response.content_part.added"}`))
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(`not json`))
	b.dispatch("ai", b.aiHandlers, "type", []byte(`{"delta":"x"}`))

	b.mu.Lock()
	session := b.session
	b.mu.Unlock()
	if session.StreamSID != "" || session.SessionInitialized || session.markCounter != 0 {
		t.Fatalf("session mutated by unknown frames: %+v", session)
	}
	if len(tel.writtenFrames()) != 0 || len(ai.writtenFrames()) != 0 {
		t.Fatal("unknown frames produced output")
	}
	if b.isClosed() {
		t.Fatal("unknown frames closed the bridge")
	}
}

func TestHandlerPanicContained(t *testing.T) {
	b, _, ai := newTestBridge(t, Config{})
	b.telephonyHandlers["boom"] = func([]byte) error {
		panic("handler blew up")
	}

	// A panicking handler must not escape dispatch or end the call.
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(`{"event":"boom"}`))
	if b.isClosed() {
		t.Fatal("panic closed the bridge")
	}

	// The loop keeps working on the next frame.
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(startFrame))
	types := ai.writtenValues("type")
	if len(types) != 1 || types[0] != "session.update" {
		t.Fatalf("frames after panic = %v", types)
	}
}

func TestBadAssistantAudioChunkSkipped(t *testing.T) {
	b, tel, _ := newTestBridge(t, Config{})
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(startFrame))

	// Odd byte count is not valid 16-bit PCM; the chunk is dropped.
	bad := fmt.Sprintf(`{"type":"response.audio.delta","delta":%q}`,
		base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))
	b.dispatch("ai", b.aiHandlers, "type", []byte(bad))
	if got := len(tel.writtenFrames()); got != 0 {
		t.Fatalf("bad chunk produced %d telephony frames", got)
	}
	if b.isClosed() {
		t.Fatal("bad chunk closed the bridge")
	}

	// Playback resumes with the next valid chunk.
	good := fmt.Sprintf(`{"type":"response.audio.delta","delta":%q}`,
		base64.StdEncoding.EncodeToString(make([]byte, 30*2)))
	b.dispatch("ai", b.aiHandlers, "type", []byte(good))
	if events := tel.writtenValues("event"); len(events) != 1 || events[0] != "media" {
		t.Fatalf("frames after bad chunk = %v, want [media]", events)
	}
}

func TestBargeInClear(t *testing.T) {
	b, tel, _ := newTestBridge(t, Config{BargeInClear: true})
	b.dispatch("telephony", b.telephonyHandlers, "event", []byte(startFrame))
	b.dispatch("ai", b.aiHandlers, "type", []byte(`{"type":"input_audio_buffer.speech_started","audio_start_ms":120}`))

	events := tel.writtenValues("event")
	if len(events) != 1 || events[0] != "clear" {
		t.Fatalf("telephony frames = %v, want [clear]", events)
	}

	b.mu.Lock()
	detected := b.session.SpeechDetected
	b.mu.Unlock()
	if !detected {
		t.Fatal("speech detection flag not set")
	}

	b.dispatch("ai", b.aiHandlers, "type", []byte(`{"type":"input_audio_buffer.speech_stopped"}`))
	b.mu.Lock()
	detected = b.session.SpeechDetected
	b.mu.Unlock()
	if detected {
		t.Fatal("speech detection flag not cleared")
	}
}

func TestRunTerminatesWhenTelephonyCloses(t *testing.T) {
	b, tel, _ := newTestBridge(t, Config{PingInterval: time.Hour})

	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()

	tel.readCh <- []byte(startFrame)
	tel.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after telephony close")
	}
}
