package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds all configuration for the storefront edge service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort    int    `env:"STOREFRONT_HTTP_PORT" envDefault:"8090"`

	// Upstreams
	BackendURL       string        `env:"BACKEND_URL" envDefault:"http://localhost:8000"`
	BackendAPIPrefix string        `env:"BACKEND_API_PREFIX" envDefault:"/api/v1"`
	FrontendURL      string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	BackendTimeout   time.Duration `env:"BACKEND_TIMEOUT" envDefault:"15s"`

	// Durable refresh-token storage
	SessionStore  string        `env:"SESSION_STORE" envDefault:"memory"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"168h"`

	// Session lifecycle
	VisitorIdleTTL         time.Duration `env:"VISITOR_IDLE_TTL" envDefault:"30m"`
	SessionInitMaxAttempts int           `env:"SESSION_INIT_MAX_ATTEMPTS" envDefault:"3"`
	SessionInitBaseDelay   time.Duration `env:"SESSION_INIT_BASE_DELAY" envDefault:"1s"`
	LogoutTimeout          time.Duration `env:"LOGOUT_TIMEOUT" envDefault:"5s"`

	// Cookies
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"false"`
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// Kafka session events
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Login rate limiting (per client IP)
	LoginRateLimitRPS   float64 `env:"LOGIN_RATE_LIMIT_RPS" envDefault:"1"`
	LoginRateLimitBurst int     `env:"LOGIN_RATE_LIMIT_BURST" envDefault:"5"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// Operational endpoints
	MetricsAllowedCIDRs []string `env:"METRICS_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16" envSeparator:","`
	PprofAllowedCIDRs   []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("STOREFRONT_HTTP_PORT must be between 1 and 65535, got %d", c.HTTPPort)
	}
	for name, raw := range map[string]string{"BACKEND_URL": c.BackendURL, "FRONTEND_URL": c.FrontendURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if !strings.HasPrefix(c.BackendAPIPrefix, "/") {
		return fmt.Errorf("BACKEND_API_PREFIX must start with '/', got %q", c.BackendAPIPrefix)
	}
	switch c.SessionStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.SessionStore)
	}
	if c.SessionInitMaxAttempts < 1 {
		return fmt.Errorf("SESSION_INIT_MAX_ATTEMPTS must be at least 1, got %d", c.SessionInitMaxAttempts)
	}
	if c.SessionInitBaseDelay < 0 || c.LogoutTimeout <= 0 || c.VisitorIdleTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("session durations must be positive")
	}
	if c.LoginRateLimitRPS <= 0 || c.LoginRateLimitBurst < 1 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_RPS and LOGIN_RATE_LIMIT_BURST must be positive")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be within [0, 1], got %v", c.OTELSampleRate)
	}
	for _, cidr := range append(append([]string{}, c.MetricsAllowedCIDRs...), c.PprofAllowedCIDRs...) {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
	}
	if !c.IsDevelopment() && !c.CookieSecure {
		return fmt.Errorf("COOKIE_SECURE must be true in %s environment", c.Environment)
	}
	return nil
}
