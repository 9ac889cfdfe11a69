package rules

import (
	"fmt"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// LengthModels are the models chosen by the prompt-length fallback layer
type LengthModels struct {
	Short  string `yaml:"short" toml:"short"`
	Medium string `yaml:"medium" toml:"medium"`
	Long   string `yaml:"long" toml:"long"`
}

// Config holds every table and threshold the rule engine uses
type Config struct {
	// CodeModels maps a detected language to a model; "default" covers the rest
	CodeModels map[string]string `yaml:"code_models" toml:"code_models"`

	// TierModels maps a cost tier to a model
	TierModels map[string]string `yaml:"tier_models" toml:"tier_models"`

	// TaskModels maps a task type to a model
	TaskModels map[string]string `yaml:"task_models" toml:"task_models"`

	Length LengthModels `yaml:"length_models" toml:"length_models"`

	// ShortThreshold and LongThreshold bound the medium bucket, in characters
	ShortThreshold int `yaml:"short_threshold" toml:"short_threshold"`
	LongThreshold  int `yaml:"long_threshold" toml:"long_threshold"`

	// Cost priority at or below CheapTilt sends medium prompts to the short
	// model; at or above PremiumTilt sends them to the long model.
	CheapTilt   float64 `yaml:"cheap_tilt" toml:"cheap_tilt"`
	PremiumTilt float64 `yaml:"premium_tilt" toml:"premium_tilt"`

	// UrgencyThreshold is the number of urgency indicators above which high
	// severity is treated like critical.
	UrgencyThreshold int `yaml:"urgency_threshold" toml:"urgency_threshold"`

	LengthConfidence float64 `yaml:"length_confidence" toml:"length_confidence"`

	Prices []types.ModelInfo `yaml:"prices" toml:"prices"`

	// DefaultCostPer1K prices models missing from Prices
	DefaultCostPer1K float64 `yaml:"default_cost_per_1k" toml:"default_cost_per_1k"`
}

// DefaultConfig returns the built-in routing tables
func DefaultConfig() Config {
	return Config{
		CodeModels: map[string]string{
			"python":     "anthropic/claude-3-5-sonnet-latest",
			"javascript": "openai/gpt-4o",
			"typescript": "openai/gpt-4o",
			"rust":       "anthropic/claude-3-5-sonnet-latest",
			"sql":        "openai/gpt-4o",
			"default":    "anthropic/claude-3-5-sonnet-latest",
		},
		TierModels: map[string]string{
			string(types.TierUltraLow): "meta-llama/llama-3.1-8b-instruct",
			string(types.TierLow):      "mistral/mistral-small-latest",
			string(types.TierBalanced): "anthropic/claude-3-haiku",
			string(types.TierHigh):     "anthropic/claude-3-5-sonnet-latest",
			string(types.TierMax):      "openai/o1-preview",
		},
		TaskModels: map[string]string{
			string(types.TaskAnalysis):        "openai/gpt-4o-mini",
			string(types.TaskTicketAnalysis):  "anthropic/claude-3-5-sonnet-latest",
			string(types.TaskCodeGeneration):  "anthropic/claude-3-5-sonnet-latest",
			string(types.TaskDebugging):       "openai/gpt-4o",
			string(types.TaskArchitecture):    "anthropic/claude-3-opus-latest",
			string(types.TaskSummarization):   "anthropic/claude-3-haiku",
			string(types.TaskClassification):  "google/gemini-1.5-flash",
			string(types.TaskExtraction):      "mistral/mistral-small-latest",
			string(types.TaskTranslation):     "google/gemini-1.5-flash",
			string(types.TaskSimpleQuery):     "openai/gpt-4o-mini",
			string(types.TaskFormatting):      "meta-llama/llama-3.1-8b-instruct",
			string(types.TaskBasicQA):         "mistral/mistral-tiny",
			string(types.TaskComplexAnalysis): "openai/o1-preview",
			string(types.TaskMath):            "openai/o1-mini",
			string(types.TaskCreative):        "anthropic/claude-3-5-sonnet-latest",
		},
		Length: LengthModels{
			Short:  "mistral/mistral-tiny",
			Medium: "anthropic/claude-3-haiku",
			Long:   "anthropic/claude-3-5-sonnet-latest",
		},
		ShortThreshold:   300,
		LongThreshold:    1500,
		CheapTilt:        0.2,
		PremiumTilt:      0.8,
		UrgencyThreshold: 2,
		LengthConfidence: 0.5,
		Prices:           DefaultPrices(),
		DefaultCostPer1K: 0.002,
	}
}

// DefaultPrices is a blended input/output price per 1K tokens for each
// routable model.
func DefaultPrices() []types.ModelInfo {
	return []types.ModelInfo{
		{Name: "meta-llama/llama-3.1-8b-instruct", DisplayName: "Llama 3.1 8B Instruct", CostPer1K: 0.00018, Tier: types.TierUltraLow},
		{Name: "mistral/mistral-tiny", DisplayName: "Mistral Tiny", CostPer1K: 0.00025, Tier: types.TierUltraLow},
		{Name: "google/gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash", CostPer1K: 0.000375, Tier: types.TierLow},
		{Name: "openai/gpt-4o-mini", DisplayName: "GPT-4o mini", CostPer1K: 0.0006, Tier: types.TierLow},
		{Name: "mistral/mistral-small-latest", DisplayName: "Mistral Small", CostPer1K: 0.001, Tier: types.TierLow},
		{Name: "anthropic/claude-3-haiku", DisplayName: "Claude 3 Haiku", CostPer1K: 0.00125, Tier: types.TierBalanced},
		{Name: "openai/o1-mini", DisplayName: "o1 mini", CostPer1K: 0.012, Tier: types.TierHigh},
		{Name: "openai/gpt-4o", DisplayName: "GPT-4o", CostPer1K: 0.0125, Tier: types.TierHigh},
		{Name: "anthropic/claude-3-5-sonnet-latest", DisplayName: "Claude 3.5 Sonnet", CostPer1K: 0.015, Tier: types.TierHigh},
		{Name: "openai/o1-preview", DisplayName: "o1 preview", CostPer1K: 0.06, Tier: types.TierMax},
		{Name: "anthropic/claude-3-opus-latest", DisplayName: "Claude 3 Opus", CostPer1K: 0.075, Tier: types.TierMax},
	}
}

// Validate reports configuration the engine cannot work with
func (c Config) Validate() error {
	if c.ShortThreshold <= 0 || c.LongThreshold <= c.ShortThreshold {
		return fmt.Errorf("length thresholds must satisfy 0 < short (%d) < long (%d)", c.ShortThreshold, c.LongThreshold)
	}
	if c.Length.Short == "" || c.Length.Medium == "" || c.Length.Long == "" {
		return fmt.Errorf("length models must all be set")
	}
	if c.CodeModels["default"] == "" {
		return fmt.Errorf("code_models must include a default model")
	}
	if c.CheapTilt < 0 || c.PremiumTilt > 1 || c.CheapTilt >= c.PremiumTilt {
		return fmt.Errorf("cost tilts must satisfy 0 <= cheap (%.2f) < premium (%.2f) <= 1", c.CheapTilt, c.PremiumTilt)
	}
	if c.LengthConfidence < 0 || c.LengthConfidence > 1 {
		return fmt.Errorf("length confidence must be within [0,1], got %.2f", c.LengthConfidence)
	}
	if c.DefaultCostPer1K < 0 {
		return fmt.Errorf("default cost per 1K cannot be negative")
	}
	for _, p := range c.Prices {
		if p.Name == "" {
			return fmt.Errorf("price entry without a model name")
		}
		if p.CostPer1K < 0 {
			return fmt.Errorf("price for %s cannot be negative", p.Name)
		}
	}
	for _, tier := range []types.Tier{types.TierLow, types.TierHigh} {
		if c.TierModels[string(tier)] == "" {
			return fmt.Errorf("tier_models must include %s", tier)
		}
	}
	return nil
}
