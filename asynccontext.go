package runner

import "context"

// asyncContextKey namespaces context.Context values by AsyncContext id so
// unrelated contexts never collide.
type asyncContextKey struct{ id Id }

// CreateContext (createContext) builds an AsyncContext bound to id.
// Go has no implicit async-local-storage primitive comparable to
// Node's AsyncLocalStorage, so — per design notes §9 ("when absent, use
// an explicit invocation-scoped value passed through middleware") —
// propagation here is the idiomatic Go mechanism: an explicit
// context.Context carried by the caller, exactly as pumped-go's
// ExecutionCtx threads ctx.Context() through Exec/Exec1 (flow.go).
func CreateContext[T any](id Id) *AsyncContextHandle[T] {
	return &AsyncContextHandle[T]{id: id}
}

// AsyncContextHandle is the concrete, non-erased counterpart of
// AsyncContextDefinition[T] returned by CreateContext for direct use
// (defineAsyncContext registers the definition form for the store; this
// handle is what user code actually calls Provide/Use on).
type AsyncContextHandle[T any] struct {
	id Id
}

// Provide runs fn with value bound in ctx; nested Provide calls shadow
// outer ones for the duration of fn, matching spec.md §4.7.
func (a *AsyncContextHandle[T]) Provide(ctx context.Context, value T, fn func(context.Context) error) error {
	child := context.WithValue(ctx, asyncContextKey{id: a.id}, value)
	return fn(child)
}

// Use returns the innermost bound value, or ok=false if none is bound.
func (a *AsyncContextHandle[T]) Use(ctx context.Context) (T, bool) {
	v, ok := ctx.Value(asyncContextKey{id: a.id}).(T)
	return v, ok
}

// MustUse panics with PlatformUnsupportedFunction if no value is bound,
// matching spec.md §4.7's "use() throws PlatformUnsupportedFunction"
// behavior for unsupported platforms — here, for an un-provided context.
func (a *AsyncContextHandle[T]) MustUse(ctx context.Context) T {
	v, ok := a.Use(ctx)
	if !ok {
		panic(PlatformUnsupportedFunction.Throw(map[string]any{"function": a.id}))
	}
	return v
}

// cancellationContext is the per-invocation cancellation handle threaded
// through the async context for TaskRunner.run's options.signal
// (spec.md §4.5 "Cancellation", §5).
var cancellationContext = CreateContext[context.Context]("runner.cancellation")

func withCancellation(ctx context.Context) context.Context {
	child, _ := cancellationContext.Use(ctx)
	if child != nil {
		return child
	}
	return ctx
}
