package orchestrator

import (
	"strings"

	"github.com/nexuscore/core/internal/provider"
)

// modelCost is pricing per million tokens, the static per-model table
// referenced by spec §4.11 step 4.
type modelCost struct {
	InputPer1M  float64
	OutputPer1M float64
}

// costTable holds a representative slice of published model pricing.
// Unlisted models fall back to defaultCost via a prefix match, then to
// defaultCost itself.
var costTable = map[string]modelCost{
	"claude-3-5-sonnet": {InputPer1M: 3.0, OutputPer1M: 15.0},
	"claude-sonnet-4":   {InputPer1M: 3.0, OutputPer1M: 15.0},
	"claude-3-5-haiku":  {InputPer1M: 1.0, OutputPer1M: 5.0},
	"claude-3-opus":     {InputPer1M: 15.0, OutputPer1M: 75.0},
	"claude-opus-4":     {InputPer1M: 15.0, OutputPer1M: 75.0},
	"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.0},
	"gpt-4-turbo":       {InputPer1M: 10.0, OutputPer1M: 30.0},
	"gemini-1.5-flash":  {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.5-pro":    {InputPer1M: 1.25, OutputPer1M: 5.0},
	"mock":              {InputPer1M: 0, OutputPer1M: 0},
}

var defaultCost = modelCost{InputPer1M: 3.0, OutputPer1M: 15.0}

func costFor(model string) modelCost {
	if c, ok := costTable[model]; ok {
		return c
	}
	for prefix, c := range costTable {
		if strings.HasPrefix(model, prefix) {
			return c
		}
	}
	return defaultCost
}

// estimateCostUSD derives a turn's dollar cost from its accumulated usage.
func estimateCostUSD(model string, usage provider.Usage) float64 {
	c := costFor(model)
	return (float64(usage.InputTokens)*c.InputPer1M + float64(usage.OutputTokens)*c.OutputPer1M) / 1_000_000
}
