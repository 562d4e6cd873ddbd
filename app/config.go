package app

import (
	"os"
	"time"
)

// Config is resolved once at startup from the environment. Every value has a
// development default so the gateway runs with no configuration at all.
type Config struct {
	// ListenAddr is where the gateway serves HTTP.
	ListenAddr string
	// APIBaseURL is the upstream management API server. API_BASE_URL wins;
	// otherwise it is derived from API_PORT on localhost.
	APIBaseURL string
	// JWKSURL optionally enables signature verification of upstream access
	// tokens. Empty disables it; claims are then read without verification.
	JWKSURL string
	// RedisAddr selects the Redis session store when set.
	RedisAddr string
	// StateDir selects the file session store when set (and Redis is not).
	StateDir string
	// SealKey encrypts tokens at rest in the file store. Must be 32 bytes.
	SealKey string
	// CacheTTL bounds the proxied GET response cache.
	CacheTTL time.Duration
	// SessionTTL bounds idle session records in the Redis store.
	SessionTTL time.Duration
}

// LoadConfig reads the environment, falling back to development defaults.
func LoadConfig() Config {
	port := envOr("API_PORT", "8001")
	return Config{
		ListenAddr: envOr("GATEWAY_ADDR", ":3000"),
		APIBaseURL: envOr("API_BASE_URL", "http://127.0.0.1:"+port),
		JWKSURL:    os.Getenv("API_JWKS_URL"),
		RedisAddr:  os.Getenv("REDIS_ADDR"),
		StateDir:   os.Getenv("SESSION_STATE_DIR"),
		SealKey:    os.Getenv("SESSION_SEAL_KEY"),
		CacheTTL:   durationOr("CACHE_TTL", 30*time.Second),
		SessionTTL: durationOr("SESSION_TTL", 24*time.Hour),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
