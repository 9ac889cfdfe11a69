package types

import "strings"

// Tier groups models by price and quality
type Tier string

const (
	TierUltraLow Tier = "ultra_low_cost"
	TierLow      Tier = "low_cost"
	TierBalanced Tier = "balanced"
	TierHigh     Tier = "high_quality"
	TierMax      Tier = "max_quality"
)

// ModelInfo describes one routable model and its blended price
type ModelInfo struct {
	Name        string  `json:"name" yaml:"name" toml:"name"`
	DisplayName string  `json:"display_name,omitempty" yaml:"display_name" toml:"display_name"`
	CostPer1K   float64 `json:"cost_per_1k" yaml:"cost_per_1k" toml:"cost_per_1k"`
	Tier        Tier    `json:"tier,omitempty" yaml:"tier" toml:"tier"`
}

// Provider returns the provider prefix of a "provider/model" name
func (m ModelInfo) Provider() string {
	return ProviderOf(m.Name)
}

// ProviderOf returns the part of a model name before the first slash
func ProviderOf(model string) string {
	if i := strings.Index(model, "/"); i > 0 {
		return model[:i]
	}
	return ""
}

// BareModel strips the provider prefix from a model name
func BareModel(model string) string {
	if i := strings.Index(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}
