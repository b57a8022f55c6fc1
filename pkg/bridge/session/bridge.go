// Package session runs one bridged call: two WebSocket receive loops, a
// shared call state record, and the audio/event relay between the telephony
// peer and the conversational AI endpoint.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/pkg/bridge/agent"
	"github.com/voxbridge/voxbridge/pkg/bridge/audio"
	"github.com/voxbridge/voxbridge/pkg/bridge/metrics"
)

// Conn is the subset of *websocket.Conn the bridge uses, split out so tests
// can run against in-memory fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Invoker executes completed function calls on behalf of the model. The
// returned payload must be a JSON document; it is relayed back verbatim.
type Invoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// LogInvoker is the default tool backend: it logs the call and reports to
// the model that no backend is wired up.
type LogInvoker struct {
	Logger *slog.Logger
}

func (i LogInvoker) Invoke(_ context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	logger := i.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("function call received without a tool backend",
		"function", name,
		"arguments", string(args))
	return json.RawMessage(`{"status":"unavailable","detail":"no tool backend is configured for this call"}`), nil
}

type Config struct {
	// MediaBatchSize is how many telephony media chunks are buffered
	// before one transcode-and-append to the AI endpoint.
	MediaBatchSize int

	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ReadLimitBytes int64
	ToolTimeout    time.Duration

	// BargeInClear sends a clear frame to the telephony peer when the AI
	// endpoint detects the caller speaking over assistant playback.
	BargeInClear bool
}

type Dependencies struct {
	Telephony Conn
	AI        Conn
	Logger    *slog.Logger
	Profile   agent.Profile
	Invoker   Invoker
	Metrics   *metrics.Metrics
	Config    Config
	ID        string
	Now       func() time.Time
}

// Bridge owns both sockets and the CallSession for one call.
type Bridge struct {
	id         string
	telephony  Conn
	ai         Conn
	logger     *slog.Logger
	profile    agent.Profile
	invoker    Invoker
	metrics    *metrics.Metrics
	cfg        Config
	transcoder *audio.Transcoder
	now        func() time.Time

	mu      sync.Mutex
	session CallSession

	calls       *Aggregator
	inputText   TranscriptAccumulator
	outputText  TranscriptAccumulator

	telephonyWriteMu sync.Mutex
	aiWriteMu        sync.Mutex

	telephonyHandlers map[string]frameHandler
	aiHandlers        map[string]frameHandler

	closeOnce sync.Once
	done      chan struct{}
	startTime time.Time
}

type frameHandler func(data []byte) error

// New wires a bridge around an accepted telephony socket and a dialed AI
// socket. The sockets are owned by the bridge from here on.
func New(deps Dependencies) (*Bridge, error) {
	if deps.Telephony == nil {
		return nil, fmt.Errorf("telephony connection is required")
	}
	if deps.AI == nil {
		return nil, fmt.Errorf("ai connection is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Invoker == nil {
		deps.Invoker = LogInvoker{Logger: deps.Logger}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.MediaBatchSize <= 0 {
		deps.Config.MediaBatchSize = 10
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 10 * time.Second
	}
	if deps.Config.PingInterval <= 0 {
		deps.Config.PingInterval = 20 * time.Second
	}
	if deps.Config.ReadLimitBytes <= 0 {
		deps.Config.ReadLimitBytes = 1 << 20
	}
	if deps.Config.ToolTimeout <= 0 {
		deps.Config.ToolTimeout = 10 * time.Second
	}

	b := &Bridge{
		id:         deps.ID,
		telephony:  deps.Telephony,
		ai:         deps.AI,
		logger:     deps.Logger.With("bridge_id", deps.ID),
		profile:    deps.Profile,
		invoker:    deps.Invoker,
		metrics:    deps.Metrics,
		cfg:        deps.Config,
		transcoder: audio.NewTranscoder(),
		now:        deps.Now,
		calls:      NewAggregator(),
		done:       make(chan struct{}),
		startTime:  deps.Now(),
	}
	b.telephony.SetReadLimit(b.cfg.ReadLimitBytes)
	b.ai.SetReadLimit(b.cfg.ReadLimitBytes)
	b.telephonyHandlers = b.buildTelephonyHandlers()
	b.aiHandlers = b.buildAIHandlers()
	return b, nil
}

// Run drives both receive loops plus keepalive pings and blocks until the
// call ends. The bridge is closed when Run returns.
func (b *Bridge) Run(ctx context.Context) {
	b.metrics.RecordSessionStart()
	b.logger.Info("bridge started")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		b.RunTelephonyLoop()
	}()
	go func() {
		defer wg.Done()
		b.RunAIEndpointLoop()
	}()
	go func() {
		defer wg.Done()
		b.keepalive()
	}()

	select {
	case <-ctx.Done():
		b.Close()
	case <-b.done:
	}
	wg.Wait()
}

// RunTelephonyLoop consumes the phone-side socket until it closes.
func (b *Bridge) RunTelephonyLoop() {
	defer b.Close()
	b.readLoop(b.telephony, "telephony", b.telephonyHandlers, "event")
}

// RunAIEndpointLoop consumes the AI-side socket until it closes.
func (b *Bridge) RunAIEndpointLoop() {
	defer b.Close()
	b.readLoop(b.ai, "ai", b.aiHandlers, "type")
}

func (b *Bridge) readLoop(conn Conn, side string, handlers map[string]frameHandler, discriminator string) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !b.isClosed() {
				b.logger.Info("connection closed", "side", side, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		b.dispatch(side, handlers, discriminator, data)
		if b.isClosed() {
			return
		}
	}
}

// dispatch routes one frame by its discriminator field. Unknown frames are
// logged and dropped; a panicking handler is contained to its frame.
func (b *Bridge) dispatch(side string, handlers map[string]frameHandler, discriminator string, data []byte) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		b.logger.Warn("dropping malformed frame", "side", side, "error", err)
		return
	}
	var name string
	if raw, ok := envelope[discriminator]; ok {
		if err := json.Unmarshal(raw, &name); err != nil || name == "" {
			b.logger.Warn("dropping frame with invalid discriminator", "side", side)
			return
		}
	} else {
		b.logger.Warn("dropping frame without discriminator", "side", side, "field", discriminator)
		return
	}

	handler, ok := handlers[name]
	if !ok {
		b.logger.Warn("unhandled frame", "side", side, "name", name)
		return
	}
	b.metrics.RecordEvent(side, name)

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked", "side", side, "name", name, "panic", r)
		}
	}()
	if err := handler(data); err != nil {
		b.logger.Warn("handler failed", "side", side, "name", name, "error", err)
	}
}

func (b *Bridge) keepalive() {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			deadline := b.now().Add(b.cfg.WriteTimeout)
			if err := b.telephony.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				b.logger.Info("telephony ping failed", "error", err)
				b.Close()
				return
			}
			if err := b.ai.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				b.logger.Info("ai ping failed", "error", err)
				b.Close()
				return
			}
		}
	}
}

// sendTelephony marshals and writes one frame to the phone-side socket. A
// write failure tears the bridge down.
func (b *Bridge) sendTelephony(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal telephony frame: %w", err)
	}
	b.telephonyWriteMu.Lock()
	defer b.telephonyWriteMu.Unlock()
	if err := b.telephony.SetWriteDeadline(b.now().Add(b.cfg.WriteTimeout)); err != nil {
		b.Close()
		return fmt.Errorf("telephony write deadline: %w", err)
	}
	if err := b.telephony.WriteMessage(websocket.TextMessage, data); err != nil {
		b.Close()
		return fmt.Errorf("telephony write: %w", err)
	}
	return nil
}

// sendAI marshals and writes one event to the AI socket. Both loops send
// here, so writes serialize on a dedicated mutex.
func (b *Bridge) sendAI(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal ai event: %w", err)
	}
	b.aiWriteMu.Lock()
	defer b.aiWriteMu.Unlock()
	if err := b.ai.SetWriteDeadline(b.now().Add(b.cfg.WriteTimeout)); err != nil {
		b.Close()
		return fmt.Errorf("ai write deadline: %w", err)
	}
	if err := b.ai.WriteMessage(websocket.TextMessage, data); err != nil {
		b.Close()
		return fmt.Errorf("ai write: %w", err)
	}
	return nil
}

// Close tears down both sockets. Safe to call from both loops and an
// external supervisor; only the first call takes effect.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		deadline := b.now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := b.telephony.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			b.logger.Debug("telephony close frame failed", "error", err)
		}
		if err := b.ai.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			b.logger.Debug("ai close frame failed", "error", err)
		}
		if err := b.telephony.Close(); err != nil {
			b.logger.Debug("telephony socket close failed", "error", err)
		}
		if err := b.ai.Close(); err != nil {
			b.logger.Debug("ai socket close failed", "error", err)
		}

		duration := b.now().Sub(b.startTime)
		b.metrics.RecordSessionEnd("closed", duration)

		b.mu.Lock()
		chunks := b.session.AudioChunksSent
		bytesSent := b.session.TotalAudioBytesSent
		b.mu.Unlock()
		b.logger.Info("bridge closed",
			"duration", duration,
			"audio_chunks_sent", chunks,
			"audio_bytes_sent", bytesSent)
	})
}

// Done is closed once the bridge has shut down.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
