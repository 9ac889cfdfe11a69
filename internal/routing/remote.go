package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/rules"
	"github.com/tributary-ai/llm-task-router/internal/types"
)

// RemoteConfig controls the routing service client
type RemoteConfig struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	Path    string        `yaml:"path" toml:"path"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// routeRequest is the body sent to the routing service
type routeRequest struct {
	TaskType    string           `json:"task_type"`
	Prompt      string           `json:"prompt"`
	Context     string           `json:"context,omitempty"`
	Preferences routePreferences `json:"preferences"`
}

type routePreferences struct {
	CostPriority float64  `json:"cost_priority"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// routeResponse is what the routing service answers. Optional fields are
// pointers so missing values can be told apart from zeros.
type routeResponse struct {
	SelectedModel string   `json:"selected_model"`
	EstimatedCost *float64 `json:"estimated_cost"`
	Confidence    *float64 `json:"confidence"`
	Reasoning     *string  `json:"reasoning"`
}

// RemoteClient asks the routing service for a decision and falls back to
// the local rule engine whenever that answer is unusable.
type RemoteClient struct {
	client *http.Client
	path   string
	engine *rules.Engine
	logger *logrus.Logger
}

// NewRemoteClient creates a routing service client
func NewRemoteClient(cfg RemoteConfig, engine *rules.Engine, logger *logrus.Logger) *RemoteClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	path := cfg.Path
	if path == "" {
		path = "/route"
	}
	return &RemoteClient{
		client: &http.Client{Timeout: timeout},
		path:   path,
		engine: engine,
		logger: logger,
	}
}

// Route returns the routing service's decision, or the local rule
// engine's decision when the service fails. The service is called once.
func (c *RemoteClient) Route(ctx context.Context, req types.RoutingRequest, creds types.Credentials) types.RoutingDecision {
	decision, err := c.fetch(ctx, req, creds)
	if err == nil {
		return decision
	}

	local := c.engine.Classify(req)
	c.logger.WithFields(logrus.Fields{
		"error":       err.Error(),
		"local_model": local.SelectedModel,
		"layer":       local.Layer,
	}).Warn("Routing service unavailable, using local rules")
	return local
}

func (c *RemoteClient) fetch(ctx context.Context, req types.RoutingRequest, creds types.Credentials) (types.RoutingDecision, error) {
	body, err := json.Marshal(routeRequest{
		TaskType: string(req.TaskType),
		Prompt:   req.Prompt,
		Context:  req.Context,
		Preferences: routePreferences{
			CostPriority: req.CostPriority,
			MaxTokens:    req.MaxTokens,
			Temperature:  req.Temperature,
		},
	})
	if err != nil {
		return types.RoutingDecision{}, routingFailure("encode request: %v", err)
	}

	url := strings.TrimRight(creds.APIURL, "/") + c.path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.RoutingDecision{}, routingFailure("build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return types.RoutingDecision{}, routingFailure("request to %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return types.RoutingDecision{}, routingFailure("status %d from %s", resp.StatusCode, url)
	}

	var rr routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return types.RoutingDecision{}, routingFailure("decode response: %v", err)
	}

	return c.normalize(req, rr)
}

// normalize validates the service answer and fills optional fields
func (c *RemoteClient) normalize(req types.RoutingRequest, rr routeResponse) (types.RoutingDecision, error) {
	model := strings.TrimSpace(rr.SelectedModel)
	if model == "" {
		return types.RoutingDecision{}, routingFailure("response missing selected_model")
	}

	decision := types.RoutingDecision{
		SelectedModel: model,
		Confidence:    1.0,
		Reasoning:     "selected by routing service",
		Layer:         "remote",
		Source:        types.SourceRemote,
	}

	if rr.EstimatedCost != nil {
		if *rr.EstimatedCost < 0 {
			return types.RoutingDecision{}, routingFailure("negative estimated_cost %v", *rr.EstimatedCost)
		}
		decision.EstimatedCost = *rr.EstimatedCost
	} else {
		decision.EstimatedCost = c.engine.EstimateCost(model, req)
	}

	if rr.Confidence != nil {
		if *rr.Confidence < 0 || *rr.Confidence > 1 {
			return types.RoutingDecision{}, routingFailure("confidence %v outside [0,1]", *rr.Confidence)
		}
		decision.Confidence = *rr.Confidence
	}

	if rr.Reasoning != nil && strings.TrimSpace(*rr.Reasoning) != "" {
		decision.Reasoning = *rr.Reasoning
	}

	return decision, nil
}
