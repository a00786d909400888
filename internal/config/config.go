// Package config loads process configuration from environment variables.
//
// All variables are prefixed CAROUSEL_. Secrets (the TikTok client secret and
// the token encryption key) are required; everything else has a sensible
// default so a development server starts with just the secrets set.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full server configuration.
type Config struct {
	ListenAddr string

	// TikTok app registration.
	APIBaseURL   string
	ClientKey    string
	ClientSecret string
	RedirectURI  string
	AppID        string

	// EncryptionKey is the 32-byte AES key protecting stored tokens,
	// supplied as 64 hex characters.
	EncryptionKey []byte

	// Upload retry policy.
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Job registry housekeeping.
	ReaperInterval  time.Duration
	JobRetention    time.Duration
	JobStaleTimeout time.Duration
}

// Load reads configuration from the environment. It returns an error for
// missing secrets or malformed values rather than starting half-configured.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:   envOrDefault("CAROUSEL_LISTEN_ADDR", ":8080"),
		APIBaseURL:   envOrDefault("CAROUSEL_TIKTOK_API_BASE", "https://open.tiktokapis.com"),
		ClientKey:    os.Getenv("CAROUSEL_TIKTOK_CLIENT_KEY"),
		ClientSecret: os.Getenv("CAROUSEL_TIKTOK_CLIENT_SECRET"),
		RedirectURI:  os.Getenv("CAROUSEL_TIKTOK_REDIRECT_URI"),
		AppID:        os.Getenv("CAROUSEL_TIKTOK_APP_ID"),
	}

	if cfg.ClientKey == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("CAROUSEL_TIKTOK_CLIENT_KEY and CAROUSEL_TIKTOK_CLIENT_SECRET are required")
	}

	keyHex := os.Getenv("CAROUSEL_ENCRYPTION_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("CAROUSEL_ENCRYPTION_KEY is required (64 hex characters)")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("CAROUSEL_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CAROUSEL_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.EncryptionKey = key

	if cfg.MaxRetries, err = envInt("CAROUSEL_UPLOAD_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = envDuration("CAROUSEL_UPLOAD_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.ReaperInterval, err = envDuration("CAROUSEL_REAPER_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.JobRetention, err = envDuration("CAROUSEL_JOB_RETENTION", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.JobStaleTimeout, err = envDuration("CAROUSEL_JOB_STALE_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOrDefault(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

func envInt(name string, defaultVal int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return n, nil
}

func envDuration(name string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30m or 1h: %w", name, err)
	}
	return d, nil
}
