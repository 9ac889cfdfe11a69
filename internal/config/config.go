package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/llm-task-router/internal/credentials"
	"github.com/tributary-ai/llm-task-router/internal/middleware"
	"github.com/tributary-ai/llm-task-router/internal/providers/anthropic"
	"github.com/tributary-ai/llm-task-router/internal/providers/gateway"
	"github.com/tributary-ai/llm-task-router/internal/providers/openai"
	"github.com/tributary-ai/llm-task-router/internal/routing"
	"github.com/tributary-ai/llm-task-router/internal/rules"
	"github.com/tributary-ai/llm-task-router/internal/security"
	"github.com/tributary-ai/llm-task-router/internal/server"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "LLM_ROUTER_"

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig       `yaml:"server" toml:"server"`
	Router      routing.Config     `yaml:"router" toml:"router"`
	Rules       rules.Config       `yaml:"rules" toml:"rules"`
	Credentials credentials.Config `yaml:"credentials" toml:"credentials"`
	Gateway     gateway.Config     `yaml:"gateway" toml:"gateway"`
	Providers   ProvidersConfig    `yaml:"providers" toml:"providers"`
	Logging     LoggingConfig      `yaml:"logging" toml:"logging"`
	Security    SecurityConfig     `yaml:"security" toml:"security"`
	Ledger      LedgerConfig       `yaml:"ledger" toml:"ledger"`
	Metrics     MetricsConfig      `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port" toml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" toml:"max_header_bytes"`
}

// ProvidersConfig holds the direct provider executors. A provider without
// an API key is not used; its models go through the gateway instead.
type ProvidersConfig struct {
	OpenAI    *openai.OpenAIConfig       `yaml:"openai" toml:"openai"`
	Anthropic *anthropic.AnthropicConfig `yaml:"anthropic" toml:"anthropic"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "json" or "text"
	Output string `yaml:"output" toml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	APIKeys           []string         `yaml:"api_keys" toml:"api_keys"`
	JWTSecret         string           `yaml:"jwt_secret" toml:"jwt_secret"`
	JWTExpiry         time.Duration    `yaml:"jwt_expiry" toml:"jwt_expiry"`
	RateLimiting      RateLimitConfig  `yaml:"rate_limiting" toml:"rate_limiting"`
	CORS              CORSConfig       `yaml:"cors" toml:"cors"`
	RequestValidation ValidationConfig `yaml:"request_validation" toml:"request_validation"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" toml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_minute" toml:"requests_per_minute"`
	BurstSize      int  `yaml:"burst_size" toml:"burst_size"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// ValidationConfig holds request validation configuration
type ValidationConfig struct {
	MaxRequestSize int64    `yaml:"max_request_size" toml:"max_request_size"`
	IPAllowlist    []string `yaml:"ip_allowlist" toml:"ip_allowlist"`
	IPBlocklist    []string `yaml:"ip_blocklist" toml:"ip_blocklist"`

	// OpenAPI validates request bodies against the embedded API document
	OpenAPI bool `yaml:"openapi" toml:"openapi"`
}

// LedgerConfig controls the SQLite usage ledger
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// LoadConfig builds the configuration from defaults, an optional YAML or
// TOML file, a .env file in the working directory, and the environment
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := config.loadFromEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   180 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
		},
		Router:  routing.DefaultConfig(),
		Rules:   rules.DefaultConfig(),
		Gateway: gateway.Config{Timeout: 120 * time.Second},
		Providers: ProvidersConfig{
			OpenAI:    &openai.OpenAIConfig{Timeout: 120 * time.Second},
			Anthropic: &anthropic.AnthropicConfig{Timeout: 120 * time.Second, ModelAliases: anthropic.DefaultModelAliases()},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			APIKeys:   []string{},
			JWTExpiry: 24 * time.Hour,
			RateLimiting: RateLimitConfig{
				Enabled:        false,
				RequestsPerMin: 60,
				BurstSize:      10,
			},
			RequestValidation: ValidationConfig{
				MaxRequestSize: 1 << 20,
				OpenAPI:        true,
			},
		},
		Ledger: LedgerConfig{
			Enabled: false,
			Path:    "llm-task-router.db",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// loadFromFile decodes a .toml file with BurntSushi/toml and anything else as YAML
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return nil
}

// loadFromEnv applies LLM_ROUTER_* overrides and the provider API keys
func (c *Config) loadFromEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get(EnvPrefix + "PORT"); ok {
		c.Server.Port = v
	}
	if v, ok := get(EnvPrefix + "LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get(EnvPrefix + "LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := get(EnvPrefix + "API_KEYS"); ok {
		c.Security.APIKeys = splitList(v)
	}
	if v, ok := get(EnvPrefix + "JWT_SECRET"); ok {
		c.Security.JWTSecret = v
	}
	if v, ok := get(EnvPrefix + "FALLBACK_MODEL"); ok {
		c.Router.FallbackModel = v
	}
	if v, ok := get(EnvPrefix + "LEDGER_PATH"); ok {
		c.Ledger.Path = v
		c.Ledger.Enabled = true
	}

	bools := map[string]*bool{
		EnvPrefix + "REMOTE_ENABLED":     &c.Router.Remote.Enabled,
		EnvPrefix + "LEDGER_ENABLED":     &c.Ledger.Enabled,
		EnvPrefix + "METRICS_ENABLED":    &c.Metrics.Enabled,
		EnvPrefix + "RATE_LIMIT_ENABLED": &c.Security.RateLimiting.Enabled,
	}
	for name, dst := range bools {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}

	if v, ok := get(EnvPrefix + "REMOTE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sREMOTE_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Router.Remote.Timeout = d
	}

	if v, ok := get("OPENAI_API_KEY"); ok && c.Providers.OpenAI != nil {
		c.Providers.OpenAI.APIKey = v
	}
	if v, ok := get("ANTHROPIC_API_KEY"); ok && c.Providers.Anthropic != nil {
		c.Providers.Anthropic.APIKey = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required when the ledger is enabled")
	}
	if c.Security.RateLimiting.Enabled && c.Security.RateLimiting.RequestsPerMin <= 0 {
		return fmt.Errorf("requests_per_minute must be positive when rate limiting is enabled")
	}
	return nil
}

// ToServerConfig converts to server.ServerConfig
func (c *Config) ToServerConfig() *server.ServerConfig {
	return &server.ServerConfig{
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		MaxHeaderBytes: c.Server.MaxHeaderBytes,
		Security:       c.ToSecurityMiddlewareConfig(),
		Validation:     &middleware.ValidationConfig{Enabled: c.Security.RequestValidation.OpenAPI},
	}
}

// ToSecurityMiddlewareConfig converts to middleware.SecurityMiddlewareConfig
func (c *Config) ToSecurityMiddlewareConfig() *middleware.SecurityMiddlewareConfig {
	return &middleware.SecurityMiddlewareConfig{
		Auth: &security.Config{
			APIKeys:     c.Security.APIKeys,
			JWTSecret:   c.Security.JWTSecret,
			JWTExpiry:   c.Security.JWTExpiry,
			RequireAuth: len(c.Security.APIKeys) > 0 || c.Security.JWTSecret != "",
		},
		RateLimit: &security.RateLimitConfig{
			Enabled:           c.Security.RateLimiting.Enabled,
			RequestsPerMinute: c.Security.RateLimiting.RequestsPerMin,
			BurstSize:         c.Security.RateLimiting.BurstSize,
			CleanupInterval:   5 * time.Minute,
		},
		Validation: &security.ValidationConfig{
			MaxRequestSize: c.Security.RequestValidation.MaxRequestSize,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			ContentTypes:   []string{"application/json"},
			IPAllowlist:    c.Security.RequestValidation.IPAllowlist,
			IPBlocklist:    c.Security.RequestValidation.IPBlocklist,
		},
		AllowedOrigins: c.Security.CORS.AllowedOrigins,
	}
}

// SaveToFile writes the configuration as TOML or YAML, chosen by extension
func (c *Config) SaveToFile(path string) error {
	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		data = buf.Bytes()
	default:
		var err error
		if data, err = yaml.Marshal(c); err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetEnabledProviders lists the providers served by a direct executor
func (c *Config) GetEnabledProviders() []string {
	var providers []string

	if c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "" {
		providers = append(providers, openai.ProviderName)
	}
	if c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "" {
		providers = append(providers, anthropic.ProviderName)
	}

	return providers
}
