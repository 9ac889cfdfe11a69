package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/credentials"
	"github.com/tributary-ai/llm-task-router/internal/ledger"
	"github.com/tributary-ai/llm-task-router/internal/metrics"
	"github.com/tributary-ai/llm-task-router/internal/providers"
	"github.com/tributary-ai/llm-task-router/internal/rules"
	"github.com/tributary-ai/llm-task-router/internal/types"
)

// Config holds the coordinator settings
type Config struct {
	FallbackModel      string  `yaml:"fallback_model" toml:"fallback_model"`
	FallbackCost       float64 `yaml:"fallback_cost" toml:"fallback_cost"`
	FallbackConfidence float64 `yaml:"fallback_confidence" toml:"fallback_confidence"`

	// PlaceholderPromptChars is how much of the prompt the error placeholder echoes
	PlaceholderPromptChars int `yaml:"placeholder_prompt_chars" toml:"placeholder_prompt_chars"`

	Remote RemoteConfig `yaml:"remote" toml:"remote"`
}

// DefaultConfig returns the standard coordinator settings
func DefaultConfig() Config {
	return Config{
		FallbackModel:          "openai/gpt-4o-mini",
		FallbackCost:           0.0001,
		FallbackConfidence:     0.5,
		PlaceholderPromptChars: 100,
		Remote: RemoteConfig{
			Enabled: true,
			Path:    "/route",
			Timeout: 15 * time.Second,
		},
	}
}

// Validate checks the coordinator settings
func (c Config) Validate() error {
	if c.FallbackModel == "" {
		return fmt.Errorf("fallback model cannot be empty")
	}
	if c.FallbackCost < 0 {
		return fmt.Errorf("fallback cost cannot be negative")
	}
	if c.FallbackConfidence < 0 || c.FallbackConfidence > 1 {
		return fmt.Errorf("fallback confidence must be within [0,1], got %.2f", c.FallbackConfidence)
	}
	if c.PlaceholderPromptChars <= 0 {
		return fmt.Errorf("placeholder prompt chars must be positive")
	}
	return nil
}

// Recorder persists finished requests
type Recorder interface {
	Record(ctx context.Context, e *ledger.Entry) error
}

// Dependencies are the collaborators a Router is built from. Remote,
// Ledger and Metrics are optional.
type Dependencies struct {
	Resolver credentials.Resolver
	Engine   *rules.Engine
	Executor providers.Executor
	Remote   *RemoteClient
	Ledger   Recorder
	Metrics  *metrics.Metrics
}

// Router resolves credentials, picks a model, runs the completion and
// falls back to a fixed model when any of that fails.
type Router struct {
	cfg      Config
	resolver credentials.Resolver
	engine   *rules.Engine
	executor providers.Executor
	remote   *RemoteClient
	ledger   Recorder
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewRouter creates a router
func NewRouter(cfg Config, deps Dependencies, logger *logrus.Logger) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid router configuration: %w", err)
	}
	if deps.Resolver == nil || deps.Engine == nil || deps.Executor == nil {
		return nil, errors.New("router requires a resolver, a rule engine and an executor")
	}

	return &Router{
		cfg:      cfg,
		resolver: deps.Resolver,
		engine:   deps.Engine,
		executor: deps.Executor,
		remote:   deps.Remote,
		ledger:   deps.Ledger,
		metrics:  deps.Metrics,
		logger:   logger,
	}, nil
}

// Engine returns the local rule engine
func (r *Router) Engine() *rules.Engine {
	return r.engine
}

// Decide returns the local rule engine's decision without any network calls
func (r *Router) Decide(req types.RoutingRequest) types.RoutingDecision {
	return r.engine.Classify(req)
}

type requestIDKey struct{}

// WithRequestID makes Route reuse id instead of generating one
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Route handles one request end to end. It never fails: any error along
// the way produces a fallback response instead.
func (r *Router) Route(ctx context.Context, req types.RoutingRequest) types.RoutingResponse {
	start := time.Now()
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	resp := r.route(ctx, req, requestID)
	resp.RequestID = requestID
	resp.Latency = time.Since(start)

	r.record(ctx, req, resp)

	r.logger.WithFields(logrus.Fields{
		"request_id":    requestID,
		"task_type":     req.TaskType,
		"model":         resp.SelectedModel,
		"layer":         resp.Layer,
		"source":        resp.Source,
		"cost":          resp.EstimatedCost,
		"confidence":    resp.Confidence,
		"fallback_used": resp.FallbackUsed,
		"duration_ms":   resp.Latency.Milliseconds(),
	}).Info("Request routed")

	return resp
}

func (r *Router) route(ctx context.Context, req types.RoutingRequest, requestID string) types.RoutingResponse {
	if err := req.Validate(); err != nil {
		return r.fallback(ctx, req, requestID, &StageError{Stage: StageValidate, Err: err})
	}

	creds, err := r.resolver.Resolve(ctx)
	r.metrics.RecordCredentials(err)
	if err != nil {
		return r.fallback(ctx, req, requestID, &StageError{Stage: StageCredentials, Err: err})
	}

	decision := r.decide(ctx, req, creds)
	r.metrics.RecordDecision(decision.Layer, string(decision.Source))

	text, err := r.execute(ctx, providers.CallFromRequest(decision.SelectedModel, req))
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"model":      decision.SelectedModel,
			"error":      err.Error(),
		}).Warn("Model execution failed")
		return r.fallback(ctx, req, requestID, &StageError{Stage: StageExecute, Err: err})
	}

	return types.RoutingResponse{
		RoutingDecision: decision,
		Response:        text,
	}
}

func (r *Router) decide(ctx context.Context, req types.RoutingRequest, creds types.Credentials) types.RoutingDecision {
	if r.remote == nil {
		return r.engine.Classify(req)
	}

	decision := r.remote.Route(ctx, req, creds)
	if req.Explain && decision.Source == types.SourceRemote {
		decision.Trace = []types.LayerTrace{{
			Layer:  "remote",
			Fired:  true,
			Model:  decision.SelectedModel,
			Detail: "decided by routing service",
		}}
	}
	return decision
}

func (r *Router) execute(ctx context.Context, call providers.Call) (string, error) {
	start := time.Now()
	text, err := r.executor.Execute(ctx, call)
	r.metrics.RecordExecution(call.Model, err, time.Since(start))
	return text, err
}

func (r *Router) record(ctx context.Context, req types.RoutingRequest, resp types.RoutingResponse) {
	if r.ledger == nil {
		return
	}

	entry := ledger.EntryFromResponse(req, resp)
	if err := r.ledger.Record(context.WithoutCancel(ctx), &entry); err != nil {
		r.metrics.RecordLedgerFailure()
		r.logger.WithError(err).WithField("request_id", resp.RequestID).Warn("Failed to record routed call")
	}
}
