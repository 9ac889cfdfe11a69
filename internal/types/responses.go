package types

import (
	"strconv"
	"time"
)

// DecisionSource tells whether a decision came from the routing service or the local rules
type DecisionSource string

const (
	SourceRemote   DecisionSource = "remote"
	SourceLocal    DecisionSource = "local"
	SourceFallback DecisionSource = "fallback"
)

// RoutingDecision is the model choice for one request
type RoutingDecision struct {
	SelectedModel string         `json:"selected_model"`
	EstimatedCost float64        `json:"estimated_cost"`
	Confidence    float64        `json:"confidence"`
	Reasoning     string         `json:"reasoning"`
	Layer         string         `json:"layer,omitempty"`
	Source        DecisionSource `json:"source,omitempty"`

	// Trace is populated only when the request asked for an explanation
	Trace []LayerTrace `json:"trace,omitempty"`
}

// LayerTrace records how one rule layer evaluated a request
type LayerTrace struct {
	Layer  string `json:"layer"`
	Fired  bool   `json:"fired"`
	Model  string `json:"model,omitempty"`
	Detail string `json:"detail"`
}

// RoutingResponse is the result returned to callers. It is built once and
// never mutated after return.
type RoutingResponse struct {
	RoutingDecision
	Response     string        `json:"response"`
	FallbackUsed bool          `json:"fallback_used"`
	RequestID    string        `json:"request_id,omitempty"`
	Latency      time.Duration `json:"latency_ns,omitempty"`
}

// Error response
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorDetail struct {
	Message    string            `json:"message"`
	Type       string            `json:"type"`
	Code       string            `json:"code,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Details    []string          `json:"details,omitempty"`
	RetryAfter int               `json:"retry_after,omitempty"`
}

// NewErrorResponse builds the JSON error envelope for an HTTP status
func NewErrorResponse(status int, errType, message string) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errType,
			Code:    strconv.Itoa(status),
		},
		Timestamp: time.Now().UTC(),
	}
}

// Models endpoint response
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ModelUsage aggregates ledger rows for one model
type ModelUsage struct {
	Model         string  `json:"model"`
	Calls         int64   `json:"calls"`
	FallbackCalls int64   `json:"fallback_calls"`
	TotalCost     float64 `json:"total_estimated_cost"`
}

// UsageSummary is the usage endpoint response
type UsageSummary struct {
	Since     time.Time    `json:"since"`
	Models    []ModelUsage `json:"models"`
	TotalCost float64      `json:"total_estimated_cost"`
	Calls     int64        `json:"calls"`
}
