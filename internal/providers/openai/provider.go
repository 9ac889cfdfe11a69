package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/providers"
	"github.com/tributary-ai/llm-task-router/internal/types"
)

// ProviderName is the model prefix served by this executor
const ProviderName = "openai"

// OpenAIExecutor runs "openai/..." models directly against the OpenAI API
type OpenAIExecutor struct {
	client *openai.Client
	config *OpenAIConfig
	logger *logrus.Logger
}

// OpenAIConfig holds OpenAI-specific configuration
type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key" toml:"api_key"`
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	OrgID   string        `yaml:"org_id" toml:"org_id"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// NewOpenAIExecutor creates a new OpenAI executor
func NewOpenAIExecutor(config *OpenAIConfig, logger *logrus.Logger) *OpenAIExecutor {
	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIExecutor{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

// Execute implements providers.Executor
func (p *OpenAIExecutor) Execute(ctx context.Context, call providers.Call) (string, error) {
	req := p.convertToOpenAIRequest(call)

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		p.logger.WithError(err).WithField("model", call.Model).Warn("OpenAI API call failed")
		return "", p.convertError(call.Model, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response for %s has no choices", call.Model)
	}

	p.logger.WithFields(logrus.Fields{
		"model":             call.Model,
		"duration":          time.Since(start),
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Debug("OpenAI completion finished")

	return resp.Choices[0].Message.Content, nil
}

// convertToOpenAIRequest maps a call onto the SDK request. The SDK drops a
// zero temperature, so an explicit zero is sent as the smallest positive
// float32 instead. Reasoning models take max_completion_tokens and run at
// their fixed temperature.
func (p *OpenAIExecutor) convertToOpenAIRequest(call providers.Call) openai.ChatCompletionRequest {
	model := types.BareModel(call.Model)
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: call.UserMessage()},
		},
	}

	if isReasoningModel(model) {
		if call.MaxTokens != nil {
			req.MaxCompletionTokens = *call.MaxTokens
		}
		if call.Temperature != nil {
			p.logger.WithField("model", call.Model).Debug("Ignoring temperature for reasoning model")
		}
		return req
	}

	if call.MaxTokens != nil {
		req.MaxTokens = *call.MaxTokens
	}
	if call.Temperature != nil {
		temp := float32(*call.Temperature)
		if temp == 0 {
			temp = math.SmallestNonzeroFloat32
		}
		req.Temperature = temp
	}

	return req
}

// isReasoningModel matches the o-series models, which reject max_tokens and
// any temperature other than 1
func isReasoningModel(model string) bool {
	for _, prefix := range reasoningPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

var reasoningPrefixes = []string{"o1", "o3", "o4"}

// convertError keeps the upstream status and body. The SDK decodes JSON error
// bodies into APIError without keeping the raw bytes, so those are
// re-encoded in the standard error envelope.
func (p *OpenAIExecutor) convertError(model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if raw, mErr := json.Marshal(openai.ErrorResponse{Error: apiErr}); mErr == nil {
			body = string(raw)
		}
		return &providers.ModelAPIError{Model: model, StatusCode: apiErr.HTTPStatusCode, Body: body}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := string(reqErr.Body)
		if body == "" && reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &providers.ModelAPIError{Model: model, StatusCode: reqErr.HTTPStatusCode, Body: body}
	}

	return fmt.Errorf("openai api call failed: %w", err)
}

var _ providers.Executor = (*OpenAIExecutor)(nil)
