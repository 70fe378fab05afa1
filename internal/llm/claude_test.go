package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
	"github.com/sells-group/market-study-cli/pkg/anthropic"
)

type mockClient struct{ mock.Mock }

func (m *mockClient) Complete(ctx context.Context, req anthropic.Request) (*anthropic.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.Response), args.Error(1)
}

func textResponse(text string) *anthropic.Response {
	return &anthropic.Response{
		Text:  text,
		Usage: anthropic.Usage{InputTokens: 120, OutputTokens: 40},
	}
}

func TestClaude_Generate(t *testing.T) {
	ctx := context.Background()
	client := new(mockClient)
	client.On("Complete", ctx, mock.MatchedBy(func(req anthropic.Request) bool {
		return req.Model == DefaultModel &&
			req.MaxTokens == DefaultMaxTokens &&
			req.Temperature != nil && *req.Temperature == DefaultTemperature &&
			req.System == "rôle" && req.CacheTTL == "5m" &&
			req.Prompt == "contenu"
	})).Return(textResponse("  ## Section\n"), nil)

	gen := NewClaude(client, DefaultOptions())
	got, err := gen.Generate(ctx, "rôle", "contenu")

	require.NoError(t, err)
	assert.Equal(t, "## Section", got)
	client.AssertExpectations(t)
}

func TestClaude_NoCache(t *testing.T) {
	ctx := context.Background()
	client := new(mockClient)
	client.On("Complete", ctx, mock.MatchedBy(func(req anthropic.Request) bool {
		return req.CacheTTL == "" && req.System == "rôle"
	})).Return(textResponse("ok"), nil).Once()

	gen := NewClaude(client, Options{Model: "claude-haiku-4-5-20251001"})
	_, err := gen.Generate(ctx, "rôle", "x")
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5-20251001", gen.Model())
	client.AssertExpectations(t)
}

func TestClaude_Errors(t *testing.T) {
	ctx := context.Background()

	client := new(mockClient)
	client.On("Complete", ctx, mock.Anything).Return(nil, errors.New("overloaded")).Once()
	client.On("Complete", ctx, mock.Anything).Return(textResponse("   "), nil).Once()

	gen := NewClaude(client, DefaultOptions()).WithPurpose("format")

	_, err := gen.Generate(ctx, "r", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm: generate")

	_, err = gen.Generate(ctx, "r", "u")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	var nilGen *Claude
	_, err = nilGen.Generate(ctx, "r", "u")
	assert.True(t, provider.IsUnavailable(err))
}

func TestClaude_UsageIsSharedAcrossPurposes(t *testing.T) {
	ctx := context.Background()
	client := new(mockClient)
	client.On("Complete", ctx, mock.Anything).Return(textResponse("ok"), nil)

	gen := NewClaude(client, DefaultOptions())
	advisor := gen.WithPurpose("expert")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = gen.Generate(ctx, "r", "u") }()
		go func() { defer wg.Done(); _, _ = advisor.Generate(ctx, "r", "u") }()
	}
	wg.Wait()

	usage, calls := gen.Usage()
	assert.Equal(t, 8, calls)
	assert.Equal(t, int64(960), usage.InputTokens)
	assert.Equal(t, int64(320), usage.OutputTokens)

	_, advisorCalls := advisor.Usage()
	assert.Equal(t, 8, advisorCalls)
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{Temperature: -1}.withDefaults()
	assert.Equal(t, DefaultModel, o.Model)
	assert.Equal(t, int64(DefaultMaxTokens), o.MaxTokens)
	assert.InDelta(t, DefaultTemperature, o.Temperature, 1e-9)
	assert.Equal(t, "report", o.Purpose)
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "Erreur lors de la génération: boom", ErrorText(errors.New("boom")))
}
