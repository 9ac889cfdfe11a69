package routing

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-task-router/internal/providers"
	"github.com/tributary-ai/llm-task-router/internal/types"
)

// placeholderPrefix starts every response produced when no model answered
const placeholderPrefix = "Error processing request: "

// fallback is the single recovery path for every stage failure. It runs
// the fixed fallback model once; if that also fails it answers with a
// placeholder echoing the start of the prompt.
func (r *Router) fallback(ctx context.Context, req types.RoutingRequest, requestID string, cause *StageError) types.RoutingResponse {
	r.metrics.RecordFallback(string(cause.Stage))

	model := r.cfg.FallbackModel
	log := r.logger.WithFields(logrus.Fields{
		"request_id":     requestID,
		"stage":          cause.Stage,
		"fallback_model": model,
	})

	// An invalid request is never sent upstream, not even to the fallback model
	if cause.Stage == StageValidate {
		log.WithError(cause.Err).Warn("Rejected invalid request")
		return r.placeholder(req, fmt.Sprintf("invalid request, no model was attempted: %v", cause))
	}

	log.WithError(cause.Err).Warn("Falling back to default model")

	text, err := r.execute(ctx, providers.CallFromRequest(model, req))
	if err != nil {
		log.WithError(err).Error("Fallback model failed")
		return r.placeholder(req, fmt.Sprintf("fallback to %s failed (%v) after %v", model, err, cause))
	}

	r.metrics.RecordDecision("fallback", string(types.SourceFallback))
	return types.RoutingResponse{
		RoutingDecision: types.RoutingDecision{
			SelectedModel: model,
			EstimatedCost: r.cfg.FallbackCost,
			Confidence:    r.cfg.FallbackConfidence,
			Reasoning:     fmt.Sprintf("fallback to %s after %v", model, cause),
			Layer:         "fallback",
			Source:        types.SourceFallback,
		},
		Response:     text,
		FallbackUsed: true,
	}
}

// placeholder builds the response used when no model produced text
func (r *Router) placeholder(req types.RoutingRequest, reasoning string) types.RoutingResponse {
	return types.RoutingResponse{
		RoutingDecision: types.RoutingDecision{
			SelectedModel: r.cfg.FallbackModel,
			EstimatedCost: r.cfg.FallbackCost,
			Confidence:    r.cfg.FallbackConfidence,
			Reasoning:     reasoning,
			Layer:         "fallback",
			Source:        types.SourceFallback,
		},
		Response:     placeholderPrefix + truncate(req.Prompt, r.cfg.PlaceholderPromptChars),
		FallbackUsed: true,
	}
}

// truncate keeps the first n characters of s, adding "..." when it cut anything
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
