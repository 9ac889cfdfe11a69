package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// Call is a single completion to run against a model
type Call struct {
	Model       string
	Prompt      string
	Context     string
	MaxTokens   *int
	Temperature *float64
}

// CallFromRequest builds a call for model using the request's prompt and limits
func CallFromRequest(model string, req types.RoutingRequest) Call {
	return Call{
		Model:       model,
		Prompt:      req.Prompt,
		Context:     req.Context,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

// UserMessage is the single user-turn content sent to the model
func (c Call) UserMessage() string {
	if c.Context == "" {
		return c.Prompt
	}
	return "Context: " + c.Context + "\n\nTask: " + c.Prompt
}

// Executor runs completions and returns the generated text
type Executor interface {
	Execute(ctx context.Context, call Call) (string, error)
}

// ModelAPIError is returned when a completion endpoint answers with a
// non-success status.
type ModelAPIError struct {
	Model      string
	StatusCode int
	Body       string
}

func (e *ModelAPIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("model API error for %s: status %d: %s", e.Model, e.StatusCode, body)
}
