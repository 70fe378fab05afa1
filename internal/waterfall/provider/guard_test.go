package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-study-cli/internal/resilience"
)

func TestGuard_PassesThrough(t *testing.T) {
	t.Parallel()

	g := NewGuard(nil, Timeouts{})
	text, err := g.Web(staticWeb("ok")).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	res, err := g.Internal(InternalSearchFunc(func(_ context.Context, _ string) (*SearchResult, error) {
		return &SearchResult{Configured: true}, nil
	})).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, res.Configured)
}

func TestGuard_NilCollaboratorIsUnavailable(t *testing.T) {
	t.Parallel()

	g := NewGuard(nil, Timeouts{})

	_, err := g.Internal(nil).Search(context.Background(), "q")
	assert.True(t, IsUnavailable(err))

	_, err = g.Web(nil).Search(context.Background(), "q")
	assert.True(t, IsUnavailable(err))

	_, err = g.Generator(nil).Generate(context.Background(), "role", "user")
	assert.True(t, IsUnavailable(err))
}

func TestGuard_Timeout(t *testing.T) {
	t.Parallel()

	g := NewGuard(nil, Timeouts{Web: 20 * time.Millisecond})
	slow := WebSearchFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := g.Web(slow).Search(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsUnavailable(err))
}

func TestGuard_ParentCancellationIsNotTimeout(t *testing.T) {
	t.Parallel()

	g := NewGuard(nil, Timeouts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generator(GeneratorFunc(func(ctx context.Context, _, _ string) (string, error) {
		return "", ctx.Err()
	})).Generate(ctx, "role", "user")
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGuard_OpenCircuitIsUnavailable(t *testing.T) {
	t.Parallel()

	breakers := resilience.NewBreakers(resilience.BreakerPolicy{
		Failures: 2,
		Cooldown: time.Hour,
	})
	g := NewGuard(breakers, Timeouts{})

	calls := 0
	failing := g.Web(WebSearchFunc(func(_ context.Context, _ string) (string, error) {
		calls++
		return "", errors.New("boom")
	}))

	for i := 0; i < 2; i++ {
		_, err := failing.Search(context.Background(), "q")
		require.Error(t, err)
		assert.False(t, IsUnavailable(err))
	}

	_, err := failing.Search(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, 2, calls)
	assert.Equal(t, resilience.StateOpen, breakers.For(ServiceWeb).State())
}

func TestGuard_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	breakers := resilience.NewBreakers(resilience.BreakerPolicy{Failures: 1, Cooldown: time.Hour})
	g := NewGuard(breakers, Timeouts{}).WithRetry(resilience.RetryPolicy{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		MaxDelay:  time.Millisecond,
	})

	calls := 0
	text, err := g.Web(WebSearchFunc(func(_ context.Context, _ string) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("perplexity: unexpected status 503: busy")
		}
		return "Le marché croît de 4 %", nil
	})).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "Le marché croît de 4 %", text)
	assert.Equal(t, 3, calls)
	assert.Equal(t, resilience.StateClosed, breakers.For(ServiceWeb).State())
}

func TestGuard_GeneratorNotRetried(t *testing.T) {
	t.Parallel()

	g := NewGuard(nil, Timeouts{}).WithRetry(resilience.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond})

	calls := 0
	_, err := g.Generator(GeneratorFunc(func(_ context.Context, _, _ string) (string, error) {
		calls++
		return "", errors.New("anthropic: complete: status 529 overloaded")
	})).Generate(context.Background(), "role", "user")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGuard_DoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	g := NewGuard(nil, Timeouts{}).WithRetry(resilience.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond})

	calls := 0
	_, err := g.Web(WebSearchFunc(func(_ context.Context, _ string) (string, error) {
		calls++
		return "", errors.New("linkup: unexpected status 401: unauthorized")
	})).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
