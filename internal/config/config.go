package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Session       SessionConfig       `yaml:"session"`
	GitHub        GitHubConfig        `yaml:"github"`
	Token         TokenConfig         `yaml:"token"`
	Observability ObservabilityConfig `yaml:"observability"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Bootstrap     BootstrapConfig     `yaml:"bootstrap"`

	// Sources lists where values came from, in application order
	Sources []string `yaml:"-"`
}

// RateLimitConfig holds per-client rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxClients        int           `yaml:"max_clients"`
	ClientTTL         time.Duration `yaml:"client_ttl"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	BaseURL         string        `yaml:"base_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LoginQueueSize  int           `yaml:"login_queue_size"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string        `yaml:"cookie_name"`
	Secret         string        `yaml:"secret"`
	CookieSecure   bool          `yaml:"cookie_secure"`
	CookieSameSite string        `yaml:"cookie_same_site"`
	Lifetime       time.Duration `yaml:"lifetime"`
}

// GitHubConfig holds the GitHub OAuth application settings
type GitHubConfig struct {
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	RedirectURL     string        `yaml:"redirect_url"`
	AuthURL         string        `yaml:"auth_url"`
	TokenURL        string        `yaml:"token_url"`
	APIURL          string        `yaml:"api_url"`
	Scopes          []string      `yaml:"scopes"`
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
}

// TokenConfig holds API bearer token settings
type TokenConfig struct {
	Secret string        `yaml:"secret"`
	Issuer string        `yaml:"issuer"`
	TTL    time.Duration `yaml:"ttl"`
}

// ObservabilityConfig holds logging, tracing and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string  `yaml:"log_level"`
	LogFormat      string  `yaml:"log_format"`
	OTELEnabled    bool    `yaml:"otel_enabled"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
}

// BootstrapConfig holds first-run settings
type BootstrapConfig struct {
	AdminLogin string `yaml:"admin_login"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			LoginQueueSize:  256,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "jema",
			Database:        "jema",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Session: SessionConfig{
			CookieName:     "jema_session",
			CookieSameSite: "Lax",
			Lifetime:       31 * 24 * time.Hour,
		},
		GitHub: GitHubConfig{
			AuthURL:         "https://github.com/login/oauth/authorize",
			TokenURL:        "https://github.com/login/oauth/access_token",
			APIURL:          "https://api.github.com",
			Scopes:          []string{"user:email", "public_repo"},
			ExchangeTimeout: 10 * time.Second,
		},
		Token: TokenConfig{
			TTL: 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
			SamplingRate:   1.0,
			ServiceName:    "jema",
			ServiceVersion: "0.1.0",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			MaxClients:        10000,
			ClientTTL:         10 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, then environment variables, and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.Sources = []string{"defaults"}

	if path == "" {
		path = os.Getenv("JEMA_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
		cfg.Sources = append(cfg.Sources, path)
	}

	cfg.applyEnv()
	cfg.Sources = append(cfg.Sources, "environment")
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Server.BaseURL = getEnv("JEMA_BASE_URL", c.Server.BaseURL)
	c.Server.ReadTimeout = parseDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = parseDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = parseDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.RequestTimeout = parseDuration("SERVER_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.ShutdownTimeout = parseDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.LoginQueueSize = parseInt("LOGIN_QUEUE_SIZE", c.Server.LoginQueueSize)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = parseInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = parseInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = parseDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)

	c.Session.CookieName = getEnv("SESSION_COOKIE_NAME", c.Session.CookieName)
	c.Session.Secret = getEnv("SESSION_SECRET", c.Session.Secret)
	c.Session.CookieSecure = parseBool("SESSION_COOKIE_SECURE", c.Session.CookieSecure)
	c.Session.CookieSameSite = getEnv("SESSION_COOKIE_SAME_SITE", c.Session.CookieSameSite)
	c.Session.Lifetime = parseDuration("SESSION_LIFETIME", c.Session.Lifetime)

	c.GitHub.ClientID = getEnv("GITHUB_CLIENT_ID", c.GitHub.ClientID)
	c.GitHub.ClientSecret = getEnv("GITHUB_CLIENT_SECRET", c.GitHub.ClientSecret)
	c.GitHub.RedirectURL = getEnv("GITHUB_REDIRECT_URL", c.GitHub.RedirectURL)
	c.GitHub.AuthURL = getEnv("GITHUB_AUTH_URL", c.GitHub.AuthURL)
	c.GitHub.TokenURL = getEnv("GITHUB_TOKEN_URL", c.GitHub.TokenURL)
	c.GitHub.APIURL = getEnv("GITHUB_API_URL", c.GitHub.APIURL)
	c.GitHub.Scopes = parseList("GITHUB_SCOPES", c.GitHub.Scopes)
	c.GitHub.ExchangeTimeout = parseDuration("GITHUB_EXCHANGE_TIMEOUT", c.GitHub.ExchangeTimeout)

	c.Token.Secret = getEnv("TOKEN_SECRET", c.Token.Secret)
	c.Token.Issuer = getEnv("TOKEN_ISSUER", c.Token.Issuer)
	c.Token.TTL = parseDuration("TOKEN_TTL", c.Token.TTL)

	c.Observability.LogLevel = getEnv("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.OTELEnabled = parseBool("OTEL_ENABLED", c.Observability.OTELEnabled)
	c.Observability.MetricsEnabled = parseBool("METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.SamplingRate = parseFloat("OTEL_SAMPLING_RATE", c.Observability.SamplingRate)
	c.Observability.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Observability.ServiceName)
	c.Observability.ServiceVersion = getEnv("OTEL_SERVICE_VERSION", c.Observability.ServiceVersion)

	c.RateLimit.RequestsPerSecond = parseFloat("RATELIMIT_RPS", c.RateLimit.RequestsPerSecond)
	c.RateLimit.Burst = parseInt("RATELIMIT_BURST", c.RateLimit.Burst)
	c.RateLimit.MaxClients = parseInt("RATELIMIT_MAX_CLIENTS", c.RateLimit.MaxClients)
	c.RateLimit.ClientTTL = parseDuration("RATELIMIT_CLIENT_TTL", c.RateLimit.ClientTTL)

	c.Bootstrap.AdminLogin = getEnv("JEMA_BOOTSTRAP_ADMIN_LOGIN", c.Bootstrap.AdminLogin)
}

// fillDerived computes values that default to other settings
func (c *Config) fillDerived() {
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.GitHub.RedirectURL == "" {
		c.GitHub.RedirectURL = c.Server.BaseURL + "/account/signin/callback"
	}
	if c.Token.Issuer == "" {
		c.Token.Issuer = c.Server.BaseURL
	}
	if c.Token.Secret == "" {
		c.Token.Secret = c.Session.Secret
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if len(c.Session.Secret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("JEMA_BASE_URL must be an absolute http(s) URL")
	}
	return nil
}

// ValidateServe checks the settings only the web server needs
func (c *Config) ValidateServe() error {
	if c.GitHub.ClientID == "" || c.GitHub.ClientSecret == "" {
		return fmt.Errorf("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET are required")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
