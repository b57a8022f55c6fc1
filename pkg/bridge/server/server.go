// Package server exposes the HTTP surface of the bridge: the telephony
// media WebSocket, the call handoff webhook, health and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/pkg/bridge/agent"
	"github.com/voxbridge/voxbridge/pkg/bridge/config"
	"github.com/voxbridge/voxbridge/pkg/bridge/metrics"
	"github.com/voxbridge/voxbridge/pkg/bridge/mw"
	"github.com/voxbridge/voxbridge/pkg/bridge/session"
)

// AIDialer opens the conversational AI WebSocket for one call. The model is
// the agent profile's model, empty for the configured default. Tests inject
// a fake; production uses DialAI.
type AIDialer func(ctx context.Context, model string) (session.Conn, error)

// DialAI connects to the realtime endpoint configured in cfg.
func DialAI(cfg config.Config) AIDialer {
	return func(ctx context.Context, model string) (session.Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+cfg.AIAPIKey)
		header.Set("OpenAI-Beta", "realtime=v1")
		conn, resp, err := dialer.DialContext(ctx, cfg.AIDialURL(model), header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial ai endpoint: %w (status %d)", err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial ai endpoint: %w", err)
		}
		return conn, nil
	}
}

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	mux     *http.ServeMux
	agents  *agent.Registry
	metrics *metrics.Metrics
	invoker session.Invoker
	dialAI  AIDialer

	mu      sync.Mutex
	bridges map[string]*session.Bridge
}

type Options struct {
	Config  config.Config
	Logger  *slog.Logger
	Agents  *agent.Registry
	Metrics *metrics.Metrics
	Invoker session.Invoker
	DialAI  AIDialer
}

func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Agents == nil {
		registry, err := agent.NewRegistry("assistant", agent.Default)
		if err != nil {
			return nil, err
		}
		opts.Agents = registry
	}
	if opts.DialAI == nil {
		opts.DialAI = DialAI(opts.Config)
	}

	s := &Server{
		cfg:     opts.Config,
		logger:  opts.Logger,
		mux:     http.NewServeMux(),
		agents:  opts.Agents,
		metrics: opts.Metrics,
		invoker: opts.Invoker,
		dialAI:  opts.DialAI,
		bridges: make(map[string]*session.Bridge),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	s.mux.HandleFunc("/voice", s.handleVoice)
	s.mux.HandleFunc("/media", s.handleMedia)
	if s.cfg.MetricsEnabled && s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// handleMedia accepts the telephony media stream, dials the AI endpoint and
// runs a bridge until the call ends.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	profileName := r.URL.Query().Get("agent")
	if profileName == "" {
		profileName = s.cfg.AgentProfile
	}
	profile, err := s.agents.New(profileName)
	if err != nil {
		s.logger.Warn("rejecting stream for unknown agent", "agent", profileName)
		http.Error(w, "unknown agent profile", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	telConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// The request context dies with the hijacked connection; the dial gets
	// its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
	aiConn, err := s.dialAI(ctx, profile.Model)
	cancel()
	if err != nil {
		s.logger.Error("ai endpoint unavailable", "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "ai endpoint unavailable")
		_ = telConn.WriteMessage(websocket.CloseMessage, msg)
		_ = telConn.Close()
		return
	}

	id := uuid.NewString()
	b, err := session.New(session.Dependencies{
		Telephony: telConn,
		AI:        aiConn,
		Logger:    s.logger,
		Profile:   profile,
		Invoker:   s.invoker,
		Metrics:   s.metrics,
		ID:        id,
		Config: session.Config{
			MediaBatchSize: s.cfg.MediaBatchSize,
			WriteTimeout:   s.cfg.WSWriteTimeout,
			PingInterval:   s.cfg.WSPingInterval,
			ReadLimitBytes: s.cfg.WSReadLimitBytes,
			BargeInClear:   s.cfg.BargeInClear,
			ToolTimeout:    s.cfg.ToolTimeout,
		},
	})
	if err != nil {
		s.logger.Error("bridge setup failed", "error", err)
		_ = telConn.Close()
		_ = aiConn.Close()
		return
	}

	s.track(id, b)
	defer s.untrack(id)

	// The bridge outlives the HTTP request context deliberately: gorilla
	// hijacks the connection, and shutdown is handled via Shutdown.
	b.Run(context.Background())
}

func (s *Server) track(id string, b *session.Bridge) {
	s.mu.Lock()
	s.bridges[id] = b
	s.mu.Unlock()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.bridges, id)
	s.mu.Unlock()
}

// ActiveBridges reports the number of calls currently in progress.
func (s *Server) ActiveBridges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bridges)
}

// Shutdown closes every in-progress bridge and waits for them to unwind or
// the context to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	open := make([]*session.Bridge, 0, len(s.bridges))
	for _, b := range s.bridges {
		open = append(open, b)
	}
	s.mu.Unlock()

	for _, b := range open {
		b.Close()
	}
	for _, b := range open {
		select {
		case <-b.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
