package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/credentials"
	"github.com/tributary-ai/llm-task-router/internal/providers"
)

// maxErrorBody caps how much of a failed response body is kept
const maxErrorBody = 4096

// Config holds gateway executor settings
type Config struct {
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// Executor sends completions to the routing service's OpenAI-compatible
// chat completions endpoint.
type Executor struct {
	resolver credentials.Resolver
	client   *http.Client
	logger   *logrus.Logger
}

// chatRequest keeps pointer fields so an explicit zero temperature is sent
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewExecutor creates a gateway executor
func NewExecutor(cfg Config, resolver credentials.Resolver, logger *logrus.Logger) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Executor{
		resolver: resolver,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Execute implements providers.Executor
func (e *Executor) Execute(ctx context.Context, call providers.Call) (string, error) {
	creds, err := e.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:       call.Model,
		Messages:    []chatMessage{{Role: openai.ChatMessageRoleUser, Content: call.UserMessage()}},
		MaxTokens:   call.MaxTokens,
		Temperature: call.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	url := strings.TrimRight(creds.APIURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &providers.ModelAPIError{
			Model:      call.Model,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	var completion openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("completion response for %s has no choices", call.Model)
	}

	e.logger.WithFields(logrus.Fields{
		"model":    call.Model,
		"duration": time.Since(start),
		"tokens":   completion.Usage.TotalTokens,
	}).Debug("Gateway completion finished")

	return completion.Choices[0].Message.Content, nil
}

var _ providers.Executor = (*Executor)(nil)
