package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Browser BrowserConfig
	Pool    PoolConfig
	Scrape  ScrapeConfig
	Session SessionConfig
	Health  HealthConfig
	Proxy   ProxyConfig
	Retry   RetryConfig
	API     APIConfig
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8090
	Mode string // "debug", "release", "test"; default: "release"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// BrowserConfig controls the shared Rod browser process.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string
}

// PoolConfig controls context leasing and memory backpressure.
type PoolConfig struct {
	// MaxContexts is the maximum number of concurrently leased contexts.
	MaxContexts int // default: 6

	// AcquireTimeout bounds how long a caller may wait for a free slot.
	AcquireTimeout time.Duration // default: 30s

	// ShutdownTimeout bounds the lease drain during Shutdown.
	ShutdownTimeout time.Duration // default: 30s

	// RelaunchWait bounds how long a deferred relaunch waits for leases
	// to drain before executing anyway.
	RelaunchWait time.Duration // default: 45s

	// MemLowWaterMB: above this resident size a warning is logged but
	// leases are still granted.
	MemLowWaterMB int64 // default: 1024

	// MemHighWaterMB: above this resident size acquisition fails.
	MemHighWaterMB int64 // default: 1536

	// MemCriticalMB: above this resident size acquisition fails and a
	// browser relaunch is scheduled.
	MemCriticalMB int64 // default: 2048
}

// ScrapeConfig controls navigation, scrolling and extraction behavior.
type ScrapeConfig struct {
	// NavigationTimeout is the max time for page.Navigate alone.
	NavigationTimeout time.Duration // default: 25s

	// ContainerTimeouts is the progressive per-selector wait ladder used
	// when locating the results container across fallback selectors.
	ContainerTimeouts []time.Duration // default: [4s, 7s, 10s]

	// MaxScrollAttempts bounds the adaptive scroll loop.
	MaxScrollAttempts int // default: 12

	// ScrollStableThreshold is the number of consecutive non-growing item
	// samples after which adaptive scrolling stops early.
	ScrollStableThreshold int // default: 2

	// ScrollPause is the delay between scroll steps.
	ScrollPause time.Duration // default: 600ms

	// SiteRatePerMinute is the sustained navigation rate per site.
	SiteRatePerMinute float64 // default: 6

	// SiteRateBurst is the navigation burst size per site.
	SiteRateBurst int // default: 2

	// BlockedResourceTypes lists resource types to block during scrapes.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string

	// BlockAds blocks requests to known ad/tracking domains.
	BlockAds bool // default: true
}

// SessionConfig controls stored-session handling.
type SessionConfig struct {
	// EncryptionKey is the hex-encoded 32-byte AES key used to decrypt
	// stored sessions. Empty disables the stored-session provider.
	EncryptionKey string
}

// HealthConfig controls the per-site health registry.
type HealthConfig struct {
	// LongBackoff applies after login-required/challenge failures.
	// Blocked sites back off for twice this window.
	LongBackoff time.Duration // default: 60m

	// ShortBackoff applies after the consecutive-error threshold trips.
	ShortBackoff time.Duration // default: 15m

	// ErrorThreshold is the consecutive transient-error count that trips
	// the short backoff.
	ErrorThreshold int // default: 3

	// ReauthWebhookURL receives one-shot needs-reauth notifications.
	// Empty disables webhook delivery.
	ReauthWebhookURL string

	// WebhookSecret signs webhook payloads with HMAC-SHA256.
	WebhookSecret string
}

// ProxyConfig controls the egress proxy pool.
type ProxyConfig struct {
	// Endpoints is a comma- or semicolon-delimited list of proxy URLs.
	Endpoints string

	// Strategy selects proxies: "round_robin", "least_used", "random".
	Strategy string // default: "round_robin"

	// MaxFailures is the failure count that sends a proxy into cooldown.
	MaxFailures int // default: 3

	// Cooldown is how long a failed proxy is excluded from selection.
	Cooldown time.Duration // default: 10m
}

// RetryConfig controls the scrape retry policy.
type RetryConfig struct {
	MaxAttempts  int           // default: 3
	InitialDelay time.Duration // default: 2s
	MaxDelay     time.Duration // default: 30s
	Factor       float64       // default: 2.0
}

// APIConfig controls authentication and rate limiting on the ops API.
type APIConfig struct {
	// AuthEnabled toggles API key authentication.
	AuthEnabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string

	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("HARVESTER_HOST", "0.0.0.0"),
			Port: envIntOr("HARVESTER_PORT", 8090),
			Mode: envOr("HARVESTER_MODE", "release"),
		},
		Log: LogConfig{
			Level:  envOr("HARVESTER_LOG_LEVEL", "info"),
			Format: envOr("HARVESTER_LOG_FORMAT", "json"),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("HARVESTER_HEADLESS", true),
			NoSandbox:  envBoolOr("HARVESTER_NO_SANDBOX", false),
			BrowserBin: os.Getenv("HARVESTER_BROWSER_BIN"),
		},
		Pool: PoolConfig{
			MaxContexts:     envIntOr("HARVESTER_MAX_CONTEXTS", 6),
			AcquireTimeout:  envDurationOr("HARVESTER_ACQUIRE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: envDurationOr("HARVESTER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RelaunchWait:    envDurationOr("HARVESTER_RELAUNCH_WAIT", 45*time.Second),
			MemLowWaterMB:   envInt64Or("HARVESTER_MEM_LOW_MB", 1024),
			MemHighWaterMB:  envInt64Or("HARVESTER_MEM_HIGH_MB", 1536),
			MemCriticalMB:   envInt64Or("HARVESTER_MEM_CRITICAL_MB", 2048),
		},
		Scrape: ScrapeConfig{
			NavigationTimeout: envDurationOr("HARVESTER_NAV_TIMEOUT", 25*time.Second),
			ContainerTimeouts: envDurationSliceOr("HARVESTER_CONTAINER_TIMEOUTS", []time.Duration{
				4 * time.Second, 7 * time.Second, 10 * time.Second,
			}),
			MaxScrollAttempts:     envIntOr("HARVESTER_MAX_SCROLLS", 12),
			ScrollStableThreshold: envIntOr("HARVESTER_SCROLL_STABLE", 2),
			ScrollPause:           envDurationOr("HARVESTER_SCROLL_PAUSE", 600*time.Millisecond),
			SiteRatePerMinute:     envFloatOr("HARVESTER_SITE_RATE_PER_MIN", 6.0),
			SiteRateBurst:         envIntOr("HARVESTER_SITE_RATE_BURST", 2),
			BlockedResourceTypes: envSliceOr("HARVESTER_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
			BlockAds: envBoolOr("HARVESTER_BLOCK_ADS", true),
		},
		Session: SessionConfig{
			EncryptionKey: os.Getenv("HARVESTER_SESSION_KEY"),
		},
		Health: HealthConfig{
			LongBackoff:      envDurationOr("HARVESTER_BACKOFF_LONG", 60*time.Minute),
			ShortBackoff:     envDurationOr("HARVESTER_BACKOFF_SHORT", 15*time.Minute),
			ErrorThreshold:   envIntOr("HARVESTER_ERROR_THRESHOLD", 3),
			ReauthWebhookURL: os.Getenv("HARVESTER_REAUTH_WEBHOOK"),
			WebhookSecret:    os.Getenv("HARVESTER_WEBHOOK_SECRET"),
		},
		Proxy: ProxyConfig{
			Endpoints:   os.Getenv("HARVESTER_PROXIES"),
			Strategy:    envOr("HARVESTER_PROXY_STRATEGY", "round_robin"),
			MaxFailures: envIntOr("HARVESTER_PROXY_MAX_FAILURES", 3),
			Cooldown:    envDurationOr("HARVESTER_PROXY_COOLDOWN", 10*time.Minute),
		},
		Retry: RetryConfig{
			MaxAttempts:  envIntOr("HARVESTER_RETRY_ATTEMPTS", 3),
			InitialDelay: envDurationOr("HARVESTER_RETRY_INITIAL", 2*time.Second),
			MaxDelay:     envDurationOr("HARVESTER_RETRY_MAX", 30*time.Second),
			Factor:       envFloatOr("HARVESTER_RETRY_FACTOR", 2.0),
		},
		API: APIConfig{
			AuthEnabled:       envBoolOr("HARVESTER_API_AUTH", true),
			APIKeys:           envSliceOr("HARVESTER_API_KEYS", nil),
			RequestsPerSecond: envFloatOr("HARVESTER_API_RATE_RPS", 5.0),
			Burst:             envIntOr("HARVESTER_API_RATE_BURST", 10),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

func envDurationSliceOr(key string, fallback []time.Duration) []time.Duration {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]time.Duration, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				if d, err := time.ParseDuration(trimmed); err == nil {
					result = append(result, d)
				}
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
