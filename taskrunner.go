package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunTaskOptions mirrors spec.md §4.5's `options?` parameter.
type RunTaskOptions struct {
	Context context.Context

	// parentExecID links this dispatch to whichever dispatch called it
	// as a TaskCaller dependency, for the engine's ExecutionTree. Unset
	// (root) for every public entry point; only resolveOneCtx's
	// TaskCaller sets it.
	parentExecID string
}

// anyTaskRunnable is the erased shape every TaskDefinition[I,O]
// implements so the engine can dispatch without its type parameters.
type anyTaskRunnable interface {
	runAny(input any, deps DependencySet) (any, error)
	parseInputAny(raw any) (any, error)
	parseResultAny(raw any) (any, error)
	isPhantom() bool
	middlewareAttachments() []MiddlewareAttachment
}

func (t *TaskDefinition[I, O]) parseInputAny(raw any) (any, error)  { return t.parseInput(raw) }
func (t *TaskDefinition[I, O]) parseResultAny(raw any) (any, error) { return t.parseResult(raw) }
func (t *TaskDefinition[I, O]) isPhantom() bool                     { return t.Phantom }
func (t *TaskDefinition[I, O]) middlewareAttachments() []MiddlewareAttachment {
	return t.Middleware
}

// TaskRunner dispatches a single task invocation through the spec.md
// §4.5 pipeline: phantom routing, input validation, middleware
// composition, dispatch, result validation. Grounded on pumped-go's
// extension-wrapped Resolve in scope.go, generalised from executor
// resolution+caching to one-shot stateless task invocation.
type TaskRunner struct {
	e *engine
}

func newTaskRunner(e *engine) *TaskRunner { return &TaskRunner{e: e} }

func (tr *TaskRunner) run(entry *StoreEntry, input any, opts RunTaskOptions) (any, error) {
	task := entry.Def.(anyTaskRunnable)

	if task.isPhantom() {
		routed, ok := tr.findTunnelRoute(entry.Def.defId())
		if !ok {
			return nil, PhantomTaskNotRouted.Throw(map[string]any{"taskId": entry.Def.defId()})
		}
		return routed.RunTunnel(entry.Def.defId(), input)
	}

	parsedInput, err := task.parseInputAny(input)
	if err != nil {
		return nil, err
	}

	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	nodeId := uuid.NewString()
	result, err := tr.dispatch(ctx, entry.Def.defId(), opts.parentExecID, nodeId, func(liveCtx context.Context) (any, error) {
		// Resolving deps with the live (Provide-bound) ctx means a
		// TaskCaller dependency this task calls inherits the same
		// cancellation instead of detaching into a fresh background one,
		// and records itself as nodeId's child rather than a fresh root.
		// deps is released back to the pool here, before fn returns, so
		// a cancelled dispatch (which abandons fn mid-flight) never races
		// a release against fn's own use of the map.
		deps := tr.e.resolveDependencySetCtx(entry.deps, "", liveCtx, nodeId)
		chain := tr.composeMiddleware(entry.Def, task, deps)
		result, err := chain(parsedInput)
		tr.e.pool.releaseDependencySet(deps)
		return result, err
	})
	if err != nil {
		return nil, err
	}

	return task.parseResultAny(result)
}

// dispatch runs fn to completion, but if ctx is cancelled first it
// returns a TaskCancelled error instead of blocking on fn. fn receives
// the cancellation context bound via cancellationContext.Provide, the
// same context withCancellation(ctx) resolves to from any nested
// dependency this dispatch hands out (resolveOneCtx's TaskCaller
// calls it before recursing) — so a task calling another task as a
// dependency keeps observing the original request's cancellation
// instead of detaching into a fresh background one. fn's own goroutine
// keeps running to completion even after a cancelled return; callers
// that need stronger guarantees must make their RunFn honor ctx
// themselves.
//
// Every call is recorded as an ExecutionNode in the engine's
// ExecutionTree, parented by parentExecID when this dispatch was
// itself reached through a TaskCaller dependency.
func (tr *TaskRunner) dispatch(ctx context.Context, taskId Id, parentExecID string, nodeId string, fn func(liveCtx context.Context) (any, error)) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	node := tr.e.pool.acquireExecutionNode()
	node.ID = nodeId
	node.ParentID = parentExecID
	node.TaskId = taskId
	node.StartTime = time.Now()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		_ = cancellationContext.Provide(ctx, ctx, func(liveCtx context.Context) error {
			result, err := fn(liveCtx)
			done <- outcome{result: result, err: err}
			return nil
		})
	}()

	select {
	case out := <-done:
		node.EndTime = time.Now()
		if out.err != nil {
			node.Status = ExecutionStatusFailed
			node.Err = out.err
		} else {
			node.Status = ExecutionStatusSuccess
		}
		tr.e.execTree.addNode(node)
		return out.result, out.err
	case <-ctx.Done():
		node.EndTime = time.Now()
		node.Status = ExecutionStatusCancelled
		node.Err = ctx.Err()
		tr.e.execTree.addNode(node)
		return nil, TaskCancelled.Throw(map[string]any{"taskId": taskId, "cause": ctx.Err()})
	}
}

// findTunnelRoute looks for a registered resource tagged TunnelTag in
// server mode whose Tasks list includes taskId (spec.md §4.5 step 1).
func (tr *TaskRunner) findTunnelRoute(taskId Id) (TunnelRunner, bool) {
	for _, entry := range tr.e.store.resources {
		cfg, ok := ConfigOf(TunnelTag, entry.Def.defTagAttachments())
		if !ok || cfg.Mode != TunnelModeServer {
			continue
		}
		for _, id := range cfg.Tasks {
			if id == taskId {
				if runner, ok := entry.Value.(TunnelRunner); ok {
					return runner, true
				}
			}
		}
	}
	return nil, false
}

// composeMiddleware builds global -> tag-matched -> task-attached,
// deduplicated by id preserving first occurrence (spec.md §4.5 step 3,
// invariant 4).
func (tr *TaskRunner) composeMiddleware(taskDef definition, task anyTaskRunnable, deps DependencySet) func(input any) (any, error) {
	seen := map[Id]bool{}
	var chain []MiddlewareAttachment

	for _, mwEntry := range tr.e.store.taskMw {
		mw := mwEntry.Def.(*TaskMiddlewareDefinition)
		if global, _ := mw.Meta["global"].(bool); global && !seen[mw.IdValue] {
			seen[mw.IdValue] = true
			chain = append(chain, MiddlewareAttachment{Middleware: mw})
		}
	}
	for _, tag := range taskDef.defTagAttachments() {
		for _, mwEntry := range tr.e.store.taskMw {
			mw := mwEntry.Def.(*TaskMiddlewareDefinition)
			if HasTag(tag.tagId, mw.TagList) && !seen[mw.IdValue] {
				seen[mw.IdValue] = true
				chain = append(chain, MiddlewareAttachment{Middleware: mw})
			}
		}
	}
	for _, att := range task.middlewareAttachments() {
		if !seen[att.Middleware.IdValue] {
			seen[att.Middleware.IdValue] = true
			chain = append(chain, att)
		}
	}

	var invoke func(i int, input any) (any, error)
	invoke = func(i int, input any) (any, error) {
		if i >= len(chain) {
			return task.runAny(input, deps)
		}
		att := chain[i]
		next := func(overrideInput any) (any, error) {
			effective := input
			if overrideInput != nil {
				effective = overrideInput
			}
			return invoke(i+1, effective)
		}
		target := TaskMiddlewareTarget{Id: taskDef.defId(), Input: input}
		return att.Middleware.RunFn(target, next, deps)
	}

	return func(input any) (any, error) {
		return invoke(0, input)
	}
}

// RunTask (runTask) is the typed public entry point wrapping TaskRunner
// for callers holding a concrete *TaskDefinition[I,O].
func RunTask[I, O any](rr *RunResult, task *TaskDefinition[I, O], input I) (O, error) {
	var zero O
	entry, err := rr.store.getTask(task.IdValue)
	if err != nil {
		return zero, err
	}
	tr := newTaskRunner(rr.engine)
	result, err := tr.run(entry, input, RunTaskOptions{Context: context.Background()})
	if err != nil {
		return zero, err
	}
	typed, _ := result.(O)
	return typed, nil
}
