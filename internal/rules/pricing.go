package rules

import (
	"sort"
	"unicode/utf8"

	"github.com/tributary-ai/llm-task-router/internal/types"
)

// PriceTable looks up per-1K-token prices by model name
type PriceTable struct {
	prices   map[string]types.ModelInfo
	fallback float64
}

// NewPriceTable indexes the given prices. Models not in the list are
// priced at fallback.
func NewPriceTable(prices []types.ModelInfo, fallback float64) *PriceTable {
	pt := &PriceTable{
		prices:   make(map[string]types.ModelInfo, len(prices)),
		fallback: fallback,
	}
	for _, p := range prices {
		pt.prices[p.Name] = p
	}
	return pt
}

// CostPer1K returns the price of a model per 1K tokens
func (pt *PriceTable) CostPer1K(model string) float64 {
	if p, ok := pt.prices[model]; ok {
		return p.CostPer1K
	}
	return pt.fallback
}

// Estimate prices a request of the given token count on a model
func (pt *PriceTable) Estimate(model string, tokens int) float64 {
	return pt.CostPer1K(model) * float64(tokens) / 1000
}

// Models returns the table sorted by price, cheapest first
func (pt *PriceTable) Models() []types.ModelInfo {
	models := make([]types.ModelInfo, 0, len(pt.prices))
	for _, p := range pt.prices {
		models = append(models, p)
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].CostPer1K == models[j].CostPer1K {
			return models[i].Name < models[j].Name
		}
		return models[i].CostPer1K < models[j].CostPer1K
	})
	return models
}

// EstimateTokens approximates the token count of a request at four
// characters per token, never less than one.
func EstimateTokens(req types.RoutingRequest) int {
	chars := utf8.RuneCountInString(req.Prompt) + utf8.RuneCountInString(req.Context)
	tokens := (chars + 3) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
