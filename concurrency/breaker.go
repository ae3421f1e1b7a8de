package concurrency

import (
	"time"

	"github.com/sony/gobreaker"

	runner "github.com/module-dev/runner"
)

// BreakerSettings configures NewBreakerMiddleware. Zero value uses
// gobreaker's own defaults (more than 5 consecutive failures trip the
// breaker, 60s open timeout).
type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// ReadyToTrip overrides gobreaker's default trip condition
	// (consecutive failures > 5) when non-nil.
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// NewBreakerMiddleware wraps task invocation in a circuit breaker,
// supplementing the task middleware chain (spec.md §4.5) with a
// concrete resilience middleware. Grounded on gobreaker's canonical
// Execute(func() (any, error)) usage, adapted to the
// next(overrideInput)-chained TaskMiddlewareNext shape: next is always
// called with a nil override since the breaker only gates whether the
// call happens, not what input it sees.
func NewBreakerMiddleware(id runner.Id, name string, settings BreakerSettings) *runner.TaskMiddlewareDefinition {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: settings.ReadyToTrip,
	})

	return runner.DefineTaskMiddleware(runner.TaskMiddlewareDefinition{
		IdValue: id,
		RunFn: func(task runner.TaskMiddlewareTarget, next runner.TaskMiddlewareNext, deps runner.DependencySet) (any, error) {
			return cb.Execute(func() (any, error) {
				return next(nil)
			})
		},
	})
}
