// Package pricing computes the dollar cost of one LLM exchange from its
// token usage. The table of per-model rates is treated as an external,
// swappable collaborator (SPEC_FULL.md explicitly keeps it out of the
// core's test surface) — ComputeCost is the contract that matters.
package pricing

import "github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"

// Rate holds per-million-token prices, in dollars, for one model.
type Rate struct {
	Input          float64
	Output         float64
	CacheWrite5m   float64
	CacheWrite1h   float64
	CacheRead      float64
}

const perMillion = 1_000_000.0

// DefaultRate applies to any model id not present in Table.
var DefaultRate = Rate{Input: 3.0, Output: 15.0, CacheWrite5m: 3.75, CacheWrite1h: 6.0, CacheRead: 0.30}

// Table is a placeholder per-model pricing table. It is not read from
// configuration; a deployment overrides or extends it by assigning to it.
var Table = map[string]Rate{
	"claude-opus-4":   {Input: 15.0, Output: 75.0, CacheWrite5m: 18.75, CacheWrite1h: 30.0, CacheRead: 1.50},
	"claude-sonnet-4": {Input: 3.0, Output: 15.0, CacheWrite5m: 3.75, CacheWrite1h: 6.0, CacheRead: 0.30},
	"claude-haiku-4":  {Input: 0.80, Output: 4.0, CacheWrite5m: 1.0, CacheWrite1h: 1.6, CacheRead: 0.08},
}

func rateFor(modelID string) Rate {
	if r, ok := Table[modelID]; ok {
		return r
	}
	return DefaultRate
}

// ComputeCost is the single, vendor-usage-aware cost function (SPEC_FULL.md
// resolves the Open Question of two competing shapes in favor of this
// three-argument one; no two-argument variant is exported). batch halves
// the result, since batch submission is billed at 50% of interactive rate.
func ComputeCost(modelID string, usage model.TokenUsage, batch bool) float64 {
	r := rateFor(modelID)
	cost := float64(usage.InputTokens)/perMillion*r.Input +
		float64(usage.OutputTokens)/perMillion*r.Output +
		float64(usage.CacheCreation5mTokens)/perMillion*r.CacheWrite5m +
		float64(usage.CacheCreation1hTokens)/perMillion*r.CacheWrite1h +
		float64(usage.CacheReadInputTokens)/perMillion*r.CacheRead
	if batch {
		cost *= 0.5
	}
	return cost
}
