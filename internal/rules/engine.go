package rules

import (
	"fmt"
	"unicode/utf8"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// Layer names, in evaluation order
const (
	LayerCode     = "code_detection"
	LayerSeverity = "severity"
	LayerTask     = "task_type"
	LayerLength   = "length"
)

// Engine is the local, network-free routing decision maker. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	cfg    Config
	prices *PriceTable
}

// NewEngine validates cfg and builds an engine over it
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule configuration: %w", err)
	}
	return &Engine{
		cfg:    cfg,
		prices: NewPriceTable(cfg.Prices, cfg.DefaultCostPer1K),
	}, nil
}

// Prices returns the engine's price table
func (e *Engine) Prices() *PriceTable {
	return e.prices
}

// layerResult is what a single layer reports
type layerResult struct {
	fired      bool
	model      string
	confidence float64
	reasoning  string
	detail     string
}

// Classify picks a model for req. Layers run in order and the first one
// that fires decides.
func (e *Engine) Classify(req types.RoutingRequest) types.RoutingDecision {
	signals := AnalyzeSignals(req.Prompt + "\n" + req.Context)

	layers := []struct {
		name string
		eval func(types.RoutingRequest, Signals) layerResult
	}{
		{LayerCode, e.codeLayer},
		{LayerSeverity, e.severityLayer},
		{LayerTask, e.taskLayer},
		{LayerLength, e.lengthLayer},
	}

	var trace []types.LayerTrace
	for _, layer := range layers {
		res := layer.eval(req, signals)
		trace = append(trace, types.LayerTrace{
			Layer:  layer.name,
			Fired:  res.fired,
			Model:  res.model,
			Detail: res.detail,
		})
		if !res.fired {
			continue
		}

		decision := types.RoutingDecision{
			SelectedModel: res.model,
			EstimatedCost: e.EstimateCost(res.model, req),
			Confidence:    res.confidence,
			Reasoning:     fmt.Sprintf("%s rule: %s", layer.name, res.reasoning),
			Layer:         layer.name,
			Source:        types.SourceLocal,
		}
		if req.Explain {
			decision.Trace = trace
		}
		return decision
	}

	// The length layer always fires, so this is unreachable with a valid config
	model := e.cfg.Length.Medium
	return types.RoutingDecision{
		SelectedModel: model,
		EstimatedCost: e.EstimateCost(model, req),
		Confidence:    e.cfg.LengthConfidence,
		Reasoning:     "no rule fired, using default model",
		Layer:         LayerLength,
		Source:        types.SourceLocal,
	}
}

// EstimateCost prices req on model
func (e *Engine) EstimateCost(model string, req types.RoutingRequest) float64 {
	return e.prices.Estimate(model, EstimateTokens(req))
}

func (e *Engine) codeLayer(req types.RoutingRequest, s Signals) layerResult {
	if !s.HasCode {
		return layerResult{detail: "no code markers found"}
	}

	language := s.Language
	model, ok := e.cfg.CodeModels[language]
	if language == "" || !ok {
		model = e.cfg.CodeModels["default"]
	}
	if language == "" {
		language = "unrecognized"
	}

	return layerResult{
		fired:      true,
		model:      model,
		confidence: 1.0,
		reasoning:  fmt.Sprintf("%s code detected, routed to %s", language, model),
		detail:     "language " + language,
	}
}

func (e *Engine) severityLayer(req types.RoutingRequest, s Signals) layerResult {
	urgency := req.UrgencyIndicators
	if len(urgency) == 0 {
		urgency = s.UrgencyIndicators
	}
	effort := req.Effort
	if effort == "" {
		effort = s.Effort
	}

	var tier types.Tier
	var why string
	switch {
	case req.Severity == types.SeverityCritical:
		tier, why = types.TierHigh, "critical severity"
	case req.Severity == types.SeverityHigh && len(urgency) > e.cfg.UrgencyThreshold:
		tier, why = types.TierHigh, fmt.Sprintf("high severity with %d urgency indicators", len(urgency))
	case req.Severity == types.SeverityLow && effort == types.EffortS:
		tier, why = types.TierLow, "low severity and small effort"
	default:
		return layerResult{detail: fmt.Sprintf("balanced (severity=%q effort=%s urgency=%d)", req.Severity, effort, len(urgency))}
	}

	model := e.cfg.TierModels[string(tier)]
	return layerResult{
		fired:      true,
		model:      model,
		confidence: 1.0,
		reasoning:  fmt.Sprintf("%s forces %s tier, routed to %s", why, tier, model),
		detail:     "tier " + string(tier),
	}
}

func (e *Engine) taskLayer(req types.RoutingRequest, _ Signals) layerResult {
	if req.TaskType == "" {
		return layerResult{detail: "no task type"}
	}
	model, ok := e.cfg.TaskModels[string(req.TaskType)]
	if !ok || model == "" {
		return layerResult{detail: fmt.Sprintf("no mapping for task type %q", req.TaskType)}
	}
	return layerResult{
		fired:      true,
		model:      model,
		confidence: 1.0,
		reasoning:  fmt.Sprintf("task type %s maps to %s", req.TaskType, model),
		detail:     "task " + string(req.TaskType),
	}
}

func (e *Engine) lengthLayer(req types.RoutingRequest, _ Signals) layerResult {
	length := utf8.RuneCountInString(req.Prompt)

	var bucket, model string
	switch {
	case length < e.cfg.ShortThreshold:
		bucket, model = "short", e.cfg.Length.Short
	case length < e.cfg.LongThreshold:
		bucket, model = "medium", e.cfg.Length.Medium
		if req.CostPriority <= e.cfg.CheapTilt {
			bucket, model = "medium, cost priority tilts cheap", e.cfg.Length.Short
		} else if req.CostPriority >= e.cfg.PremiumTilt {
			bucket, model = "medium, cost priority tilts premium", e.cfg.Length.Long
		}
	default:
		bucket, model = "long", e.cfg.Length.Long
	}

	return layerResult{
		fired:      true,
		model:      model,
		confidence: e.cfg.LengthConfidence,
		reasoning:  fmt.Sprintf("%d-character prompt is %s, routed to %s", length, bucket, model),
		detail:     fmt.Sprintf("%d characters", length),
	}
}
