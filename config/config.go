package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Run modes
const (
	ModeRelay    = "relay"
	ModePractice = "practice"
)

// Live transports
const (
	TransportGemini = "gemini"
	TransportRelay  = "relay"
)

// Config holds all process configuration
type Config struct {
	Mode            string // "relay" or "practice"
	Port            int
	LiveTransport   string // "gemini" or "relay"
	RelayURL        string
	GeminiAPIKey    string
	LiveModel       string
	ReviewModel     string
	VoiceName       string
	TargetLanguage  string
	Scenario        string
	RedisURL        string
	RedisPassword   string
	ReviewCacheTTL  time.Duration
	MaxSessions     int
	SessionTimeout  time.Duration
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration
	OutboundQueue   int // Outbound frames buffered per live session
	LogLevel        string
	LogFormat       string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Mode:            ModeRelay,
		Port:            8080,
		LiveTransport:   TransportGemini,
		RelayURL:        "ws://localhost:8080/ws",
		LiveModel:       "models/gemini-2.5-flash-native-audio-preview-12-2025",
		ReviewModel:     "gemini-2.5-flash",
		TargetLanguage:  "Spanish",
		Scenario:        "cafe",
		RedisURL:        "localhost:6379",
		ReviewCacheTTL:  60 * time.Minute,
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		OutboundQueue:   64,
		LogLevel:        "info",
		LogFormat:       "json",
	}

	// Optional: MODE ("relay" or "practice")
	if mode := os.Getenv("MODE"); mode != "" {
		switch mode {
		case ModeRelay, ModePractice:
			config.Mode = mode
		default:
			return nil, fmt.Errorf("invalid MODE: must be 'relay' or 'practice'")
		}
	}

	// Optional: LIVE_TRANSPORT ("gemini" or "relay")
	if transport := os.Getenv("LIVE_TRANSPORT"); transport != "" {
		switch transport {
		case TransportGemini, TransportRelay:
			config.LiveTransport = transport
		default:
			return nil, fmt.Errorf("invalid LIVE_TRANSPORT: must be 'gemini' or 'relay'")
		}
	}

	// GEMINI_API_KEY is required unless a practice client talks through the relay
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" && config.NeedsAPIKey() {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	if relayURL := os.Getenv("RELAY_URL"); relayURL != "" {
		config.RelayURL = relayURL
	}
	if model := os.Getenv("LIVE_MODEL"); model != "" {
		config.LiveModel = model
	}
	if model := os.Getenv("REVIEW_MODEL"); model != "" {
		config.ReviewModel = model
	}
	if voice := os.Getenv("VOICE_NAME"); voice != "" {
		config.VoiceName = voice
	}
	if lang := os.Getenv("TARGET_LANGUAGE"); lang != "" {
		config.TargetLanguage = lang
	}
	if scenario := os.Getenv("SCENARIO"); scenario != "" {
		config.Scenario = scenario
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: REVIEW_CACHE_TTL (in minutes)
	if ttl := os.Getenv("REVIEW_CACHE_TTL"); ttl != "" {
		t, err := strconv.Atoi(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid REVIEW_CACHE_TTL: %w", err)
		}
		config.ReviewCacheTTL = time.Duration(t) * time.Minute
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: OUTBOUND_QUEUE_SIZE (in frames)
	if queue := os.Getenv("OUTBOUND_QUEUE_SIZE"); queue != "" {
		q, err := strconv.Atoi(queue)
		if err != nil {
			return nil, fmt.Errorf("invalid OUTBOUND_QUEUE_SIZE: %w", err)
		}
		if q <= 0 {
			return nil, fmt.Errorf("invalid OUTBOUND_QUEUE_SIZE: must be positive")
		}
		config.OutboundQueue = q
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	// Optional: LOG_FORMAT ("json" or "console")
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		switch format {
		case "json", "console":
			config.LogFormat = format
		default:
			return nil, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'console'")
		}
	}

	return config, nil
}

// NeedsAPIKey reports whether this process talks to Gemini directly
func (c *Config) NeedsAPIKey() bool {
	return c.Mode == ModeRelay || c.LiveTransport == TransportGemini
}
