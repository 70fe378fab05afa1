package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsage_Cost(t *testing.T) {
	tests := []struct {
		name  string
		usage Usage
		model string
		want  float64
	}{
		{"haiku", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, "claude-haiku-4-5-20251001", 6.00},
		{"sonnet", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, "claude-sonnet-4-5-20250929", 18.00},
		// 0.5M*3 + 0.1M*15 + 0.2M*3*1.25 + 0.3M*3*0.1
		{"sonnet with cache", Usage{InputTokens: 500_000, OutputTokens: 100_000, CacheWriteTokens: 200_000, CacheReadTokens: 300_000}, "claude-sonnet-4-5-20250929", 3.84},
		{"unknown model", Usage{InputTokens: 1_000_000}, "unknown-model", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.Cost(tt.model), 0.001)
		})
	}
}

func TestUsage_Add(t *testing.T) {
	a := Usage{InputTokens: 1, OutputTokens: 2, CacheWriteTokens: 3, CacheReadTokens: 4}
	b := Usage{InputTokens: 10, OutputTokens: 20, CacheWriteTokens: 30, CacheReadTokens: 40}
	assert.Equal(t, Usage{InputTokens: 11, OutputTokens: 22, CacheWriteTokens: 33, CacheReadTokens: 44}, a.Add(b))
	assert.Equal(t, a, a.Add(Usage{}))
}

func TestUsage_Fields(t *testing.T) {
	fields := Usage{InputTokens: 100, OutputTokens: 50}.Fields("claude-haiku-4-5-20251001")
	assert.Len(t, fields, 6)
	assert.Equal(t, "model", fields[0].Key)
	assert.Equal(t, "estimated_cost_usd", fields[5].Key)
}
