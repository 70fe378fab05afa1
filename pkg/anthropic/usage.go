package anthropic

import "go.uber.org/zap"

// Usage counts the tokens of one or more completions.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
	}
}

// Cache writes and reads are billed relative to the input price.
const (
	cacheWriteMultiplier = 1.25
	cacheReadMultiplier  = 0.1
)

// price is USD per million tokens.
type price struct{ input, output float64 }

var prices = map[string]price{
	"claude-haiku-4-5-20251001":  {1.00, 5.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-1-20250805":   {15.00, 75.00},
}

// Cost estimates the USD cost of u on model. Unknown models cost 0.
func (u Usage) Cost(model string) float64 {
	p, ok := prices[model]
	if !ok {
		return 0
	}
	const mtok = 1e6
	return float64(u.InputTokens)/mtok*p.input +
		float64(u.OutputTokens)/mtok*p.output +
		float64(u.CacheWriteTokens)/mtok*p.input*cacheWriteMultiplier +
		float64(u.CacheReadTokens)/mtok*p.input*cacheReadMultiplier
}

// Fields renders u as structured log fields.
func (u Usage) Fields(model string) []zap.Field {
	return []zap.Field{
		zap.String("model", model),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheWriteTokens),
		zap.Int64("cache_read_tokens", u.CacheReadTokens),
		zap.Float64("estimated_cost_usd", u.Cost(model)),
	}
}
