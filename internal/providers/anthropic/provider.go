package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/providers"
	"github.com/tributary-ai/llm-task-router/internal/types"
)

// ProviderName is the model prefix served by this executor
const ProviderName = "anthropic"

// defaultMaxTokens is used when a call sets no limit; the Messages API requires one
const defaultMaxTokens = 1024

// AnthropicExecutor runs "anthropic/..." models directly against the Anthropic API
type AnthropicExecutor struct {
	client *anthropic.Client
	config *AnthropicConfig
	logger *logrus.Logger
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	APIKey  string        `yaml:"api_key" toml:"api_key"`
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// ModelAliases maps routing names to Anthropic model IDs
	ModelAliases map[string]string `yaml:"model_aliases" toml:"model_aliases"`
}

// DefaultModelAliases resolves the routing table's short names
func DefaultModelAliases() map[string]string {
	return map[string]string{
		"claude-3-haiku":           "claude-3-haiku-20240307",
		"claude-3-5-sonnet-latest": "claude-3-5-sonnet-latest",
		"claude-3-opus-latest":     "claude-3-opus-latest",
	}
}

// NewAnthropicExecutor creates a new Anthropic executor
func NewAnthropicExecutor(config *AnthropicConfig, logger *logrus.Logger) *AnthropicExecutor {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicExecutor{
		client: &client,
		config: config,
		logger: logger,
	}
}

// Execute implements providers.Executor
func (p *AnthropicExecutor) Execute(ctx context.Context, call providers.Call) (string, error) {
	params := p.convertToAnthropicRequest(call)

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		p.logger.WithError(err).WithField("model", call.Model).Warn("Anthropic API call failed")

		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &providers.ModelAPIError{Model: call.Model, StatusCode: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		return "", fmt.Errorf("anthropic api call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	p.logger.WithFields(logrus.Fields{
		"model":         call.Model,
		"duration":      time.Since(start),
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}).Debug("Anthropic completion finished")

	return text.String(), nil
}

func (p *AnthropicExecutor) convertToAnthropicRequest(call providers.Call) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model: anthropic.Model(p.resolveModel(call.Model)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(call.UserMessage())),
		},
		MaxTokens: defaultMaxTokens,
	}

	if call.MaxTokens != nil {
		params.MaxTokens = int64(*call.MaxTokens)
	}
	if call.Temperature != nil {
		params.Temperature = anthropic.Float(*call.Temperature)
	}
	return params
}

func (p *AnthropicExecutor) resolveModel(model string) string {
	bare := types.BareModel(model)
	if alias, ok := p.config.ModelAliases[bare]; ok && alias != "" {
		return alias
	}
	return bare
}

var _ providers.Executor = (*AnthropicExecutor)(nil)
