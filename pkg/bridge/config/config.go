// Package config loads bridge configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicHost is the externally reachable host used when rendering the
	// stream URL in call handoff responses, e.g. "bridge.example.com".
	PublicHost string

	// AI endpoint settings.
	AIEndpointURL string
	AIAPIKey      string
	AIModel       string

	// AgentProfile picks the assistant personality for inbound calls.
	AgentProfile string

	// MediaBatchSize is how many telephony media chunks (20 ms each) are
	// buffered before one transcode-and-forward to the AI endpoint.
	MediaBatchSize int

	// BargeInClear interrupts buffered assistant playback when the AI
	// endpoint detects the caller speaking.
	BargeInClear bool

	WSWriteTimeout   time.Duration
	WSPingInterval   time.Duration
	WSReadLimitBytes int64
	HandshakeTimeout time.Duration
	ToolTimeout      time.Duration

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	MetricsEnabled bool

	LogLevel  string
	LogFormat string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOXBRIDGE_ADDR", ":8080"),
		PublicHost:          envOr("VOXBRIDGE_PUBLIC_HOST", ""),
		AIEndpointURL:       envOr("VOXBRIDGE_AI_URL", "wss://api.openai.com/v1/realtime"),
		AIAPIKey:            strings.TrimSpace(os.Getenv("VOXBRIDGE_AI_API_KEY")),
		AIModel:             envOr("VOXBRIDGE_AI_MODEL", "gpt-4o-realtime-preview"),
		AgentProfile:        envOr("VOXBRIDGE_AGENT_PROFILE", ""),
		MediaBatchSize:      envIntOr("VOXBRIDGE_MEDIA_BATCH_SIZE", 10),
		BargeInClear:        envBoolOr("VOXBRIDGE_BARGE_IN_CLEAR", true),
		WSWriteTimeout:      envDurationOr("VOXBRIDGE_WS_WRITE_TIMEOUT", 10*time.Second),
		WSPingInterval:      envDurationOr("VOXBRIDGE_WS_PING_INTERVAL", 20*time.Second),
		WSReadLimitBytes:    envInt64Or("VOXBRIDGE_WS_READ_LIMIT_BYTES", 1<<20),
		HandshakeTimeout:    envDurationOr("VOXBRIDGE_HANDSHAKE_TIMEOUT", 10*time.Second),
		ToolTimeout:         envDurationOr("VOXBRIDGE_TOOL_TIMEOUT", 10*time.Second),
		ReadHeaderTimeout:   envDurationOr("VOXBRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOXBRIDGE_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		MetricsEnabled:      envBoolOr("VOXBRIDGE_METRICS_ENABLED", true),
		LogLevel:            envOr("VOXBRIDGE_LOG_LEVEL", "info"),
		LogFormat:           envOr("VOXBRIDGE_LOG_FORMAT", "json"),
	}

	if cfg.AIAPIKey == "" {
		return Config{}, fmt.Errorf("VOXBRIDGE_AI_API_KEY must be set")
	}
	u, err := url.Parse(cfg.AIEndpointURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return Config{}, fmt.Errorf("VOXBRIDGE_AI_URL must be a ws:// or wss:// URL")
	}
	if strings.TrimSpace(cfg.AIModel) == "" {
		return Config{}, fmt.Errorf("VOXBRIDGE_AI_MODEL must not be empty")
	}
	if cfg.MediaBatchSize <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_MEDIA_BATCH_SIZE must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSReadLimitBytes <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_WS_READ_LIMIT_BYTES must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_TOOL_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("VOXBRIDGE_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("VOXBRIDGE_LOG_FORMAT must be one of json|text")
	}

	return cfg, nil
}

// AIDialURL is the realtime endpoint with the model attached as a query
// parameter. An empty model means the configured default; agent profiles
// pass their own model here to override it per call.
func (c Config) AIDialURL(model string) string {
	if strings.TrimSpace(model) == "" {
		model = c.AIModel
	}
	u, err := url.Parse(c.AIEndpointURL)
	if err != nil {
		return c.AIEndpointURL
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String()
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

// envDurationOr accepts time.ParseDuration syntax only; a value without a
// unit falls back to the default.
func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
