package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort        = 3000
	DefaultBaseURL         = "https://api.twitter.com/1.1"
	DefaultRequestTimeout  = 10 * time.Second
	DefaultRateLimitRPS    = 1.0
	DefaultRateLimitBurst  = 5
	DefaultBreakerFailures = 3
	DefaultBreakerTimeout  = 60 * time.Second
	DefaultPageCount       = 10
	DefaultPageSize        = 200
	DefaultTimezone        = "UTC"
	DefaultMaxAttempts     = 3
	DefaultInitialBackoff  = 500 * time.Millisecond
	DefaultMaxBackoff      = 10 * time.Second
	DefaultAccount         = "realDonaldTrump"
	DefaultRefreshInterval = 15 * time.Minute
	DefaultCacheTTL        = time.Hour
	DefaultBroadcast       = 5 * time.Second
	DefaultLogLevel        = "info"

	// MaxPageSize is the largest page the timeline API serves.
	MaxPageSize = 200
)

// handlePattern matches a valid account handle (without the leading @).
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// Config is the top-level configuration. Fields map 1:1 to config.example.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Timeline TimelineConfig `yaml:"timeline"`
	Engine   EngineConfig   `yaml:"engine"`
	Accounts AccountsConfig `yaml:"accounts"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, metrics and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates incoming API requests.
	Auth ServerAuthConfig `yaml:"auth"`

	// BroadcastInterval controls how often cached profiles are pushed to
	// WebSocket clients.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// ServerAuthConfig configures REST API authentication.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the server API key resolved from the environment.
func (a ServerAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a ServerAuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// TimelineConfig describes the upstream post-retrieval API.
type TimelineConfig struct {
	// BaseURL is the API root; the client appends /statuses/user_timeline.json.
	BaseURL string `yaml:"base_url"`

	// Auth configures how the client authenticates to the API.
	Auth AuthConfig `yaml:"auth"`

	// Timeout bounds a single page request.
	Timeout time.Duration `yaml:"timeout"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies the authentication mode for the timeline API.
type AuthConfig struct {
	// Mode is one of: bearer | apikey | basic | none.
	Mode string `yaml:"mode"`

	// Bearer token fields, used when Mode == "bearer".
	// TokenEnv is the name of the environment variable that holds the token.
	TokenEnv string `yaml:"token_env"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header name to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// Basic auth fields, used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options for the timeline API.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this against local mock APIs.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// RateLimitConfig is a token bucket shared by all page requests.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// BreakerConfig configures the circuit breaker around the timeline API.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32 `yaml:"max_failures"`

	// OpenTimeout is how long the breaker stays open before a probe request.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// EngineConfig controls the history fetch.
type EngineConfig struct {
	// PageCount is the maximum number of pages fetched per profile.
	PageCount int `yaml:"page_count"`

	// PageSize is the maximum number of posts requested per page.
	PageSize int `yaml:"page_size"`

	// Timezone is the IANA zone used to derive weekday and hour of day.
	Timezone string `yaml:"timezone"`

	Retry RetryConfig `yaml:"retry"`
}

// Location loads the configured timezone.
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(e.Timezone)
}

// Ceiling is the maximum number of posts one fetch can return.
func (e EngineConfig) Ceiling() int {
	return e.PageCount * e.PageSize
}

// RetryConfig bounds per-page retries before a page is recorded as failed.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// AccountsConfig selects which accounts are served and kept warm.
type AccountsConfig struct {
	// Default is the account served when a request names none.
	Default string `yaml:"default"`

	// Tracked accounts are recomputed in the background every RefreshInterval.
	Tracked []string `yaml:"tracked"`

	// RefreshInterval of zero disables background refresh.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// CacheTTL is how long a computed profile is served from cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel converts Level to a slog.Level. Unknown values map to Info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	normalize(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config pre-populated with default values. It is also the
// configuration used when no config file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcast,
		},
		Timeline: TimelineConfig{
			BaseURL: DefaultBaseURL,
			Auth:    AuthConfig{Mode: "bearer", TokenEnv: "TWITTER_BEARER_TOKEN"},
			Timeout: DefaultRequestTimeout,
			RateLimit: RateLimitConfig{
				RPS:   DefaultRateLimitRPS,
				Burst: DefaultRateLimitBurst,
			},
			Breaker: BreakerConfig{
				MaxFailures: DefaultBreakerFailures,
				OpenTimeout: DefaultBreakerTimeout,
			},
		},
		Engine: EngineConfig{
			PageCount: DefaultPageCount,
			PageSize:  DefaultPageSize,
			Timezone:  DefaultTimezone,
			Retry: RetryConfig{
				MaxAttempts:    DefaultMaxAttempts,
				InitialBackoff: DefaultInitialBackoff,
				MaxBackoff:     DefaultMaxBackoff,
			},
		},
		Accounts: AccountsConfig{
			Default:         DefaultAccount,
			Tracked:         []string{"realDonaldTrump", "POTUS", "VP", "WhiteHouse"},
			RefreshInterval: DefaultRefreshInterval,
			CacheTTL:        DefaultCacheTTL,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// NormalizeHandle strips a leading @ and surrounding whitespace.
func NormalizeHandle(h string) string {
	return strings.TrimPrefix(strings.TrimSpace(h), "@")
}

// ValidHandle reports whether h (already normalized) is a well-formed handle.
func ValidHandle(h string) bool {
	return handlePattern.MatchString(h)
}

func normalize(cfg *Config) {
	cfg.Timeline.BaseURL = strings.TrimRight(cfg.Timeline.BaseURL, "/")
	cfg.Accounts.Default = NormalizeHandle(cfg.Accounts.Default)
	for i, h := range cfg.Accounts.Tracked {
		cfg.Accounts.Tracked[i] = NormalizeHandle(h)
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}

	if cfg.Timeline.BaseURL == "" {
		return fmt.Errorf("timeline.base_url is required")
	}
	switch cfg.Timeline.Auth.Mode {
	case "bearer", "apikey", "basic", "none", "":
	default:
		return fmt.Errorf("timeline.auth.mode %q unknown: want bearer|apikey|basic|none", cfg.Timeline.Auth.Mode)
	}
	if cfg.Timeline.Auth.Mode == "apikey" && cfg.Timeline.Auth.Header == "" {
		return fmt.Errorf("timeline.auth.header is required for apikey mode")
	}
	if cfg.Timeline.Timeout <= 0 {
		return fmt.Errorf("timeline.timeout must be positive")
	}
	if cfg.Timeline.RateLimit.RPS <= 0 {
		return fmt.Errorf("timeline.rate_limit.rps must be positive")
	}
	if cfg.Timeline.RateLimit.Burst <= 0 {
		return fmt.Errorf("timeline.rate_limit.burst must be positive")
	}

	if cfg.Engine.PageCount <= 0 {
		return fmt.Errorf("engine.page_count must be positive")
	}
	if cfg.Engine.PageSize <= 0 || cfg.Engine.PageSize > MaxPageSize {
		return fmt.Errorf("engine.page_size %d is out of range [1, %d]", cfg.Engine.PageSize, MaxPageSize)
	}
	if _, err := cfg.Engine.Location(); err != nil {
		return fmt.Errorf("engine.timezone %q: %w", cfg.Engine.Timezone, err)
	}
	if cfg.Engine.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("engine.retry.max_attempts must be positive")
	}
	if cfg.Engine.Retry.InitialBackoff < 0 || cfg.Engine.Retry.MaxBackoff < cfg.Engine.Retry.InitialBackoff {
		return fmt.Errorf("engine.retry: want 0 <= initial_backoff <= max_backoff")
	}

	if !ValidHandle(cfg.Accounts.Default) {
		return fmt.Errorf("accounts.default %q is not a valid handle", cfg.Accounts.Default)
	}
	for i, h := range cfg.Accounts.Tracked {
		if !ValidHandle(h) {
			return fmt.Errorf("accounts.tracked[%d] %q is not a valid handle", i, h)
		}
	}
	if cfg.Accounts.RefreshInterval < 0 {
		return fmt.Errorf("accounts.refresh_interval must not be negative")
	}
	if cfg.Accounts.CacheTTL <= 0 {
		return fmt.Errorf("accounts.cache_ttl must be positive")
	}
	return nil
}
