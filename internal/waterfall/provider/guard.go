package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-study-cli/internal/resilience"
)

// Service names used for circuit breakers and logs.
const (
	ServiceInternal   = "internal_search"
	ServiceWeb        = "web_search"
	ServiceGeneration = "generation"
)

// Timeouts bounds each collaborator call.
type Timeouts struct {
	Internal   time.Duration
	Web        time.Duration
	Generation time.Duration
}

// DefaultTimeouts returns the per-collaborator deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Internal:   30 * time.Second,
		Web:        30 * time.Second,
		Generation: 120 * time.Second,
	}
}

// Guard wraps collaborators with a deadline, an optional retry of transient
// errors and a per-service circuit breaker. An open circuit surfaces as
// ErrUnavailable and an expired deadline as ErrTimeout.
type Guard struct {
	breakers *resilience.Breakers
	timeouts Timeouts
	retry    *resilience.RetryPolicy
}

// NewGuard creates a Guard. A nil breakers disables circuit breaking.
func NewGuard(breakers *resilience.Breakers, timeouts Timeouts) *Guard {
	def := DefaultTimeouts()
	if timeouts.Internal <= 0 {
		timeouts.Internal = def.Internal
	}
	if timeouts.Web <= 0 {
		timeouts.Web = def.Web
	}
	if timeouts.Generation <= 0 {
		timeouts.Generation = def.Generation
	}
	return &Guard{breakers: breakers, timeouts: timeouts}
}

// WithRetry retries transient search errors within the call deadline. The
// generator is left alone since the model client retries on its own. The
// breaker counts one failure per exhausted call.
func (g *Guard) WithRetry(p resilience.RetryPolicy) *Guard {
	g.retry = &p
	return g
}

// Internal wraps an internal searcher.
func (g *Guard) Internal(s InternalSearcher) InternalSearcher {
	return InternalSearchFunc(func(ctx context.Context, query string) (*SearchResult, error) {
		if s == nil {
			return nil, eris.Wrap(ErrUnavailable, ServiceInternal)
		}
		return call(ctx, g.breaker(ServiceInternal), g.retry, ServiceInternal, g.timeouts.Internal, func(ctx context.Context) (*SearchResult, error) {
			return s.Search(ctx, query)
		})
	})
}

// Web wraps a web searcher.
func (g *Guard) Web(s WebSearcher) WebSearcher {
	return WebSearchFunc(func(ctx context.Context, query string) (string, error) {
		if s == nil {
			return "", eris.Wrap(ErrUnavailable, ServiceWeb)
		}
		return call(ctx, g.breaker(ServiceWeb), g.retry, ServiceWeb, g.timeouts.Web, func(ctx context.Context) (string, error) {
			return s.Search(ctx, query)
		})
	})
}

// Generator wraps a text generator.
func (g *Guard) Generator(gen Generator) Generator {
	return GeneratorFunc(func(ctx context.Context, systemRole, userContent string) (string, error) {
		if gen == nil {
			return "", eris.Wrap(ErrUnavailable, ServiceGeneration)
		}
		return call(ctx, g.breaker(ServiceGeneration), nil, ServiceGeneration, g.timeouts.Generation, func(ctx context.Context) (string, error) {
			return gen.Generate(ctx, systemRole, userContent)
		})
	})
}

func (g *Guard) breaker(service string) *resilience.Breaker {
	if g.breakers == nil {
		return nil
	}
	return g.breakers.For(service)
}

func call[T any](ctx context.Context, cb *resilience.Breaker, retry *resilience.RetryPolicy, service string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempt := fn
	if retry != nil {
		policy := *retry
		attempt = func(ctx context.Context) (T, error) {
			return resilience.Retry(ctx, policy, service, fn)
		}
	}

	val, err := resilience.Guard(callCtx, cb, attempt)
	if err == nil {
		return val, nil
	}

	var zero T
	switch {
	case errors.Is(err, resilience.ErrOpen):
		return zero, eris.Wrapf(ErrUnavailable, "%s: circuit open", service)
	case ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)):
		return zero, eris.Wrapf(ErrTimeout, "%s: no answer after %s", service, timeout)
	default:
		return zero, eris.Wrapf(err, "%s", service)
	}
}

// IsUnavailable reports whether err means the collaborator could not be
// reached at all.
func IsUnavailable(err error) bool {
	return eris.Is(err, ErrUnavailable)
}

// IsTimeout reports whether err is a collaborator deadline.
func IsTimeout(err error) bool {
	return eris.Is(err, ErrTimeout)
}
