package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(policy BreakerPolicy) (*Breaker, *clock) {
	c := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := NewBreaker("web_search", policy)
	b.now = c.now
	return b, c
}

var errBoom = errors.New("boom")

func fail(context.Context) (string, error) { return "", errBoom }
func ok(context.Context) (string, error)   { return "ok", nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerPolicy{Failures: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := Guard(ctx, b, fail)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	calls := 0
	_, err := Guard(ctx, b, func(context.Context) (string, error) {
		calls++
		return "", nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerPolicy{Failures: 2})
	ctx := context.Background()

	_, _ = Guard(ctx, b, fail)
	_, _ = Guard(ctx, b, ok)
	_, _ = Guard(ctx, b, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, c := newTestBreaker(BreakerPolicy{Failures: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_, _ = Guard(ctx, b, fail)
	require.Equal(t, StateOpen, b.State())

	c.advance(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	val, err := Guard(ctx, b, ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, c := newTestBreaker(BreakerPolicy{Failures: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_, _ = Guard(ctx, b, fail)
	c.advance(2 * time.Minute)
	_, err := Guard(ctx, b, fail)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())

	_, err = Guard(ctx, b, ok)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	b, _ := newTestBreaker(BreakerPolicy{Failures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Guard(ctx, b, func(ctx context.Context) (string, error) { return "", ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestGuard_NilBreaker(t *testing.T) {
	val, err := Guard(context.Background(), nil, ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
}

func TestBreakers_ForAndSnapshot(t *testing.T) {
	bs := NewBreakers(BreakerPolicy{Failures: 1, Cooldown: time.Hour})

	assert.Same(t, bs.For("generation"), bs.For("generation"))
	assert.Equal(t, "generation", bs.For("generation").Service())

	_, _ = Guard(context.Background(), bs.For("web_search"), fail)

	assert.Equal(t, map[string]string{
		"generation": "closed",
		"web_search": "open",
	}, bs.Snapshot())
}

func TestBreakerPolicy_Defaults(t *testing.T) {
	p := BreakerPolicy{}.withDefaults()
	assert.Equal(t, DefaultBreakerPolicy(), p)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
