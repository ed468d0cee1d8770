// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	PublicURL      string
	AllowedOrigins []string
	Webhook        WebhookConfig
	KnowledgeDir   string
	Greeting       string
	DefaultSession string
	Store          StoreConfig
	LLM            LLMConfig
	TTS            TTSConfig
	Room           RoomConfig
	Context        ContextConfig
	Queue          QueueConfig
	Timeout        TimeoutConfig
	Retry          RetryConfig
	CallLog        CallLogConfig
}

// WebhookConfig controls webhook authentication.
type WebhookConfig struct {
	Secret       string
	SecretHeader string
	MaxBodySize  int64
}

// StoreConfig selects and configures the memory store driver.
type StoreConfig struct {
	Driver        string // "sqlite", "supabase", or "redis"
	DBPath        string
	SupabaseURL   string
	SupabaseKey   string
	SupabaseTable string
	RedisURL      string
	RedisTTL      time.Duration
}

// LLMConfig configures the reply generator.
type LLMConfig struct {
	Provider    string // "openai" (any OpenAI-compatible endpoint) or "gemini"
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	Mode             string // "off", "buffered", "streaming", or "managed"
	CartesiaAPIKey   string
	CartesiaVoiceID  string
	CartesiaModel    string
	CartesiaVersion  string
	Encoding         string
	SampleRate       int
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	ElevenLabsModel  string
	TwilioAccountSID string
	TwilioAuthToken  string
}

// RoomConfig configures the audio transport.
type RoomConfig struct {
	Transport         string // "websocket" or "livekit"
	LiveKitURL        string
	LiveKitAPIKey     string
	LiveKitAPISecret  string
	LiveKitRoomPrefix string
	LiveKitIdentity   string
	FrameDuration     time.Duration
}

// ContextConfig bounds the prompt context window.
type ContextConfig struct {
	MaxTurns    int
	TokenBudget int
}

// QueueConfig sizes the dispatch work queue.
type QueueConfig struct {
	Workers int
	Depth   int
}

// TimeoutConfig holds per-call deadlines for external dependencies.
type TimeoutConfig struct {
	Fetch       time.Duration
	Append      time.Duration
	Generate    time.Duration
	Speak       time.Duration
	RoomConnect time.Duration
	HealthCheck time.Duration
	Shutdown    time.Duration
}

// RetryConfig controls database retry behavior.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// CallLogConfig controls NDJSON call transcript logging.
type CallLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CALL_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8000"),
		PublicURL:      strings.TrimRight(getEnv("PUBLIC_URL", ""), "/"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		Webhook: WebhookConfig{
			Secret:       getEnv("WEBHOOK_SECRET", ""),
			SecretHeader: getEnv("WEBHOOK_SECRET_HEADER", "X-Webhook-Secret"),
			MaxBodySize:  int64(getEnvInt("WEBHOOK_MAX_BODY_SIZE", 1<<20)),
		},
		KnowledgeDir:   getEnv("KNOWLEDGE_DIR", "./knowledge"),
		Greeting:       getEnv("GREETING", "Hey... it's Anna. I wasn't sure you'd call."),
		DefaultSession: getEnv("DEFAULT_SESSION_ID", "anna_session_1"),
		Store: StoreConfig{
			Driver:        strings.ToLower(getEnv("MEMORY_STORE", "sqlite")),
			DBPath:        getEnv("DB_PATH", "./data/anna.db"),
			SupabaseURL:   getEnv("SUPABASE_URL", ""),
			SupabaseKey:   getEnv("SUPABASE_KEY", ""),
			SupabaseTable: getEnv("SUPABASE_TABLE", "memories"),
			RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			RedisTTL:      getEnvDuration("REDIS_TTL", 0),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.x.ai/v1"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "grok-4-fast"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 450),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.85),
		},
		TTS: TTSConfig{
			Mode:             strings.ToLower(getEnv("TTS_MODE", "off")),
			CartesiaAPIKey:   getEnv("CARTESIA_API_KEY", ""),
			CartesiaVoiceID:  getEnv("CARTESIA_VOICE_ID", "9c7dc287-1354-4fcc-a706-377f9a44e238"),
			CartesiaModel:    getEnv("CARTESIA_MODEL", "sonic-2"),
			CartesiaVersion:  getEnv("CARTESIA_VERSION", "2025-04-16"),
			Encoding:         getEnv("TTS_ENCODING", "pcm_s16le"),
			SampleRate:       getEnvInt("TTS_SAMPLE_RATE", 44100),
			ElevenLabsAPIKey: getEnv("ELEVENLABS_API_KEY", ""),
			ElevenLabsVoice:  getEnv("ELEVENLABS_VOICE_ID", "Rachel"),
			ElevenLabsModel:  getEnv("ELEVENLABS_MODEL", "eleven_turbo_v2_5"),
			TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		},
		Room: RoomConfig{
			Transport:         strings.ToLower(getEnv("ROOM_TRANSPORT", "websocket")),
			LiveKitURL:        getEnv("LIVEKIT_URL", ""),
			LiveKitAPIKey:     getEnv("LIVEKIT_API_KEY", ""),
			LiveKitAPISecret:  getEnv("LIVEKIT_API_SECRET", ""),
			LiveKitRoomPrefix: getEnv("LIVEKIT_ROOM_PREFIX", "anna-"),
			LiveKitIdentity:   getEnv("LIVEKIT_IDENTITY", "anna-agent"),
			FrameDuration:     getEnvDuration("ROOM_FRAME_DURATION", 20*time.Millisecond),
		},
		Context: ContextConfig{
			MaxTurns:    getEnvInt("CONTEXT_MAX_TURNS", 20),
			TokenBudget: getEnvInt("CONTEXT_TOKEN_BUDGET", 4000),
		},
		Queue: QueueConfig{
			Workers: getEnvInt("DISPATCH_WORKERS", 4),
			Depth:   getEnvInt("DISPATCH_QUEUE_DEPTH", 256),
		},
		Timeout: TimeoutConfig{
			Fetch:       getEnvDuration("FETCH_TIMEOUT", 5*time.Second),
			Append:      getEnvDuration("APPEND_TIMEOUT", 5*time.Second),
			Generate:    getEnvDuration("GENERATE_TIMEOUT", 30*time.Second),
			Speak:       getEnvDuration("SPEAK_TIMEOUT", 60*time.Second),
			RoomConnect: getEnvDuration("ROOM_CONNECT_TIMEOUT", 10*time.Second),
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
		CallLog: CallLogConfig{
			Enabled:       getEnvBool("CALL_LOG_ENABLED", true),
			Dir:           getEnv("CALL_LOG_DIR", "./data/logs/calls"),
			GlobalEnabled: getEnvBool("CALL_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CALL_LOG_GLOBAL_PATH", "./data/logs/calls/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // Flat list of independent checks.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET cannot be empty")
	}
	if c.Webhook.SecretHeader == "" {
		return fmt.Errorf("WEBHOOK_SECRET_HEADER cannot be empty")
	}
	if c.Webhook.MaxBodySize <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_BODY_SIZE must be > 0")
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "supabase":
		if c.Store.SupabaseURL == "" || c.Store.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for the supabase store")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("REDIS_URL cannot be empty")
		}
	default:
		return fmt.Errorf("MEMORY_STORE %q is not supported", c.Store.Driver)
	}

	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY cannot be empty")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}

	switch c.TTS.Mode {
	case "off":
	case "buffered", "streaming":
		if c.TTS.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required for TTS_MODE=%s", c.TTS.Mode)
		}
	case "managed":
		if c.TTS.ElevenLabsAPIKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY is required for TTS_MODE=managed")
		}
		if c.TTS.TwilioAccountSID == "" || c.TTS.TwilioAuthToken == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required for TTS_MODE=managed")
		}
		if c.PublicURL == "" {
			return fmt.Errorf("PUBLIC_URL is required for TTS_MODE=managed")
		}
	default:
		return fmt.Errorf("TTS_MODE %q is not supported", c.TTS.Mode)
	}

	switch c.Room.Transport {
	case "websocket":
	case "livekit":
		if c.Room.LiveKitURL == "" || c.Room.LiveKitAPIKey == "" || c.Room.LiveKitAPISecret == "" {
			return fmt.Errorf("LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required for ROOM_TRANSPORT=livekit")
		}
		// Frames go onto an Opus sample track unchanged.
		if (c.TTS.Mode == "buffered" || c.TTS.Mode == "streaming") && c.TTS.Encoding != "opus" {
			return fmt.Errorf("ROOM_TRANSPORT=livekit publishes Opus frames; TTS_ENCODING must be opus, got %q", c.TTS.Encoding)
		}
	default:
		return fmt.Errorf("ROOM_TRANSPORT %q is not supported", c.Room.Transport)
	}

	if err := c.Timeout.validate(); err != nil {
		return err
	}

	if c.Queue.Workers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be > 0")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("DISPATCH_QUEUE_DEPTH must be > 0")
	}
	if c.Context.MaxTurns <= 0 {
		return fmt.Errorf("CONTEXT_MAX_TURNS must be > 0")
	}
	if c.CallLog.Dir == "" {
		return fmt.Errorf("CALL_LOG_DIR cannot be empty")
	}
	if c.CallLog.GlobalPath == "" {
		return fmt.Errorf("CALL_LOG_GLOBAL_PATH cannot be empty")
	}
	return nil
}

func (t TimeoutConfig) validate() error {
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"FETCH_TIMEOUT", t.Fetch},
		{"APPEND_TIMEOUT", t.Append},
		{"GENERATE_TIMEOUT", t.Generate},
		{"SPEAK_TIMEOUT", t.Speak},
		{"ROOM_CONNECT_TIMEOUT", t.RoomConnect},
		{"HEALTH_CHECK_TIMEOUT", t.HealthCheck},
		{"SHUTDOWN_TIMEOUT", t.Shutdown},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}
	return nil
}

// SpeechEnabled returns true if any TTS strategy is configured.
func (c *Config) SpeechEnabled() bool {
	return c.TTS.Mode != "off"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
