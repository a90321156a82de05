package telemetry

import (
	"strings"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

// ModelCost is pricing per million tokens in USD.
type ModelCost struct {
	Input  float64
	Output float64
}

// modelCosts is the static price table, keyed by model id prefix. Longest
// prefix wins.
var modelCosts = map[string]ModelCost{
	"claude-opus-4":     {Input: 15.0, Output: 75.0},
	"claude-sonnet-4":   {Input: 3.0, Output: 15.0},
	"claude-3-5-sonnet": {Input: 3.0, Output: 15.0},
	"claude-3-5-haiku":  {Input: 0.8, Output: 4.0},
	"claude-3-haiku":    {Input: 0.25, Output: 1.25},
	"gpt-4o-mini":       {Input: 0.15, Output: 0.6},
	"gpt-4o":            {Input: 2.5, Output: 10.0},
	"gpt-4-turbo":       {Input: 10.0, Output: 30.0},
	"gpt-4":             {Input: 30.0, Output: 60.0},
	"gpt-3.5-turbo":     {Input: 0.5, Output: 1.5},
}

// EstimateCost returns the estimated USD cost of one call. Unknown models
// cost zero; accounting an unknown price would be worse than omitting it.
func EstimateCost(model string, usage models.Usage) float64 {
	cost, ok := lookupCost(model)
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)/1e6*cost.Input +
		float64(usage.OutputTokens)/1e6*cost.Output
}

func lookupCost(model string) (ModelCost, bool) {
	var best string
	var found ModelCost
	for prefix, cost := range modelCosts {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			found = cost
		}
	}
	return found, best != ""
}
