package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.Router.FallbackModel)
	assert.True(t, cfg.Router.Remote.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Ledger.Enabled)
	assert.True(t, cfg.Security.RequestValidation.OpenAPI)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_ROUTER_PORT", "9090")
	t.Setenv("LLM_ROUTER_LOG_LEVEL", "debug")
	t.Setenv("LLM_ROUTER_LOG_FORMAT", "text")
	t.Setenv("LLM_ROUTER_API_KEYS", "key-one, key-two,")
	t.Setenv("LLM_ROUTER_REMOTE_ENABLED", "false")
	t.Setenv("LLM_ROUTER_REMOTE_TIMEOUT", "3s")
	t.Setenv("LLM_ROUTER_LEDGER_PATH", "/tmp/usage.db")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.Security.APIKeys)
	assert.False(t, cfg.Router.Remote.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Router.Remote.Timeout)
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, "/tmp/usage.db", cfg.Ledger.Path)
	assert.Equal(t, []string{"openai"}, cfg.GetEnabledProviders())
}

func TestLoadConfig_BadEnvironmentValue(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_ROUTER_LEDGER_ENABLED", "sometimes")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ANTHROPIC_API_KEY=sk-ant-from-dotenv\n"), 0600))
	// godotenv leaves variables that are already set alone
	t.Setenv("ANTHROPIC_API_KEY", "")
	os.Unsetenv("ANTHROPIC_API_KEY")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-from-dotenv", cfg.Providers.Anthropic.APIKey)
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "7070"
  read_timeout: 5s
router:
  fallback_model: openai/gpt-4o
  remote:
    enabled: false
rules:
  task_models:
    classification: openai/gpt-4o-mini
ledger:
  enabled: true
  path: routed.db
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 180*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "openai/gpt-4o", cfg.Router.FallbackModel)
	assert.False(t, cfg.Router.Remote.Enabled)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.Rules.TaskModels["classification"])
	// keys absent from the file keep their defaults
	assert.Equal(t, "anthropic/claude-3-haiku", cfg.Rules.TaskModels["summarization"])
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_TOMLFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
port = "6060"
write_timeout = "1m"

[router]
placeholder_prompt_chars = 50

[router.remote]
timeout = "2s"

[security]
api_keys = ["toml-key"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "6060", cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 50, cfg.Router.PlaceholderPromptChars)
	assert.Equal(t, 2*time.Second, cfg.Router.Remote.Timeout)
	assert.Equal(t, []string{"toml-key"}, cfg.Security.APIKeys)
	assert.True(t, cfg.ToSecurityMiddlewareConfig().Auth.RequireAuth)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unterminated"), 0600))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"no fallback model", func(c *Config) { c.Router.FallbackModel = "" }},
		{"ledger without path", func(c *Config) { c.Ledger.Enabled = true; c.Ledger.Path = "" }},
		{"rate limit without rate", func(c *Config) {
			c.Security.RateLimiting.Enabled = true
			c.Security.RateLimiting.RequestsPerMin = 0
		}},
	}

	require.NoError(t, Default().validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestToServerConfig(t *testing.T) {
	cfg := Default()
	cfg.Security.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Security.RequestValidation.IPBlocklist = []string{"10.0.0.0/8"}

	sc := cfg.ToServerConfig()
	assert.Equal(t, "8080", sc.Port)
	assert.Equal(t, 1<<20, sc.MaxHeaderBytes)
	require.NotNil(t, sc.Validation)
	assert.True(t, sc.Validation.Enabled)

	require.NotNil(t, sc.Security)
	assert.False(t, sc.Security.Auth.RequireAuth)
	assert.Equal(t, []string{"https://app.example.com"}, sc.Security.AllowedOrigins)
	assert.Equal(t, []string{"10.0.0.0/8"}, sc.Security.Validation.IPBlocklist)
	assert.Equal(t, 60, sc.Security.RateLimit.RequestsPerMinute)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := Default()
	cfg.Server.Port = "5050"
	cfg.Router.Remote.Timeout = 7 * time.Second

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "5050", loaded.Server.Port)
	assert.Equal(t, 7*time.Second, loaded.Router.Remote.Timeout)
	assert.Equal(t, cfg.Rules.CodeModels, loaded.Rules.CodeModels)
}
