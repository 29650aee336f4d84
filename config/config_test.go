package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Mode != ModeRelay {
		t.Errorf("expected mode %s, got %s", ModeRelay, cfg.Mode)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.LiveTransport != TransportGemini {
		t.Errorf("expected transport %s, got %s", TransportGemini, cfg.LiveTransport)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Errorf("expected 30m session timeout, got %v", cfg.SessionTimeout)
	}
	if cfg.OutboundQueue != 64 {
		t.Errorf("expected outbound queue 64, got %d", cfg.OutboundQueue)
	}
}

func TestLoadConfig_RequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without GEMINI_API_KEY")
	}
}

func TestLoadConfig_RelayClientWithoutKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("MODE", ModePractice)
	t.Setenv("LIVE_TRANSPORT", TransportRelay)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("relay client should not need an API key: %v", err)
	}
	if cfg.NeedsAPIKey() {
		t.Error("expected NeedsAPIKey to be false")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TIMEOUT", "5")
	t.Setenv("KEEPALIVE_PERIOD", "10")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("TARGET_LANGUAGE", "French")
	t.Setenv("VOICE_NAME", "Kore")
	t.Setenv("REVIEW_CACHE_TTL", "15")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.SessionTimeout != 5*time.Minute {
		t.Errorf("expected 5m, got %v", cfg.SessionTimeout)
	}
	if cfg.KeepAlivePeriod != 10*time.Second {
		t.Errorf("expected 10s, got %v", cfg.KeepAlivePeriod)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("expected 2 origins, got %v", cfg.AllowedOrigins)
	}
	if cfg.TargetLanguage != "French" || cfg.VoiceName != "Kore" {
		t.Errorf("unexpected language/voice: %s/%s", cfg.TargetLanguage, cfg.VoiceName)
	}
	if cfg.ReviewCacheTTL != 15*time.Minute {
		t.Errorf("expected 15m cache ttl, got %v", cfg.ReviewCacheTTL)
	}
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "abc"},
		{"bad mode", "MODE", "desktop"},
		{"bad transport", "LIVE_TRANSPORT", "grpc"},
		{"bad max sessions", "MAX_SESSIONS", "many"},
		{"zero queue", "OUTBOUND_QUEUE_SIZE", "0"},
		{"bad log format", "LOG_FORMAT", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "test-key")
			t.Setenv(tt.key, tt.value)

			if _, err := LoadConfig(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
