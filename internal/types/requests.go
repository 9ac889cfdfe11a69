package types

// TaskType names the kind of work a request asks for. The set is open:
// unknown task types are legal and simply skip the task-type rule layer.
type TaskType string

const (
	TaskAnalysis        TaskType = "analysis"
	TaskSummarization   TaskType = "summarization"
	TaskCodeGeneration  TaskType = "code_generation"
	TaskClassification  TaskType = "classification"
	TaskExtraction      TaskType = "extraction"
	TaskDebugging       TaskType = "debugging"
	TaskArchitecture    TaskType = "architecture"
	TaskTicketAnalysis  TaskType = "ticket_analysis"
	TaskComplexAnalysis TaskType = "complex_analysis"
	TaskSimpleQuery     TaskType = "simple_query"
	TaskTranslation     TaskType = "translation"
	TaskCreative        TaskType = "creative"
	TaskMath            TaskType = "math"
	TaskFormatting      TaskType = "formatting"
	TaskBasicQA         TaskType = "basic_qa"
)

// Severity of the underlying issue, when the caller knows it
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Effort is a T-shirt size estimate of the work involved
type Effort string

const (
	EffortS  Effort = "S"
	EffortM  Effort = "M"
	EffortL  Effort = "L"
	EffortXL Effort = "XL"
)

// RoutingRequest is a single task submitted for routing and execution.
// It is passed by value and never modified once built.
type RoutingRequest struct {
	TaskType    TaskType `json:"task_type,omitempty"`
	Prompt      string   `json:"prompt" validate:"required"`
	Context     string   `json:"context,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`

	// CostPriority runs from 0 (cheapest) to 1 (best quality)
	CostPriority float64 `json:"cost_priority" validate:"gte=0,lte=1"`

	// Optional routing signals
	Severity          Severity `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Effort            Effort   `json:"effort,omitempty" validate:"omitempty,oneof=S M L XL"`
	UrgencyIndicators []string `json:"urgency_indicators,omitempty"`

	// Explain asks for the per-layer rule trace in the response
	Explain bool `json:"explain,omitempty"`
}

// TaskRequest is the body accepted by the convenience task endpoints
type TaskRequest struct {
	Prompt  string `json:"prompt" validate:"required"`
	Context string `json:"context,omitempty"`
	Explain bool   `json:"explain,omitempty"`
}

// Credentials authenticate calls to the routing service and gateway
type Credentials struct {
	APIURL string `json:"api_url"`
	APIKey string `json:"api_key"`
}

// Complete reports whether both fields are populated
func (c Credentials) Complete() bool {
	return c.APIURL != "" && c.APIKey != ""
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 { return &v }
