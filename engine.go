package runner

import (
	"context"
	"sync"
)

// engine is the private root of a running Store: it owns the task
// runner, event manager and resource initializer and is the one place
// that knows how to turn a dependency Ref map into a DependencySet,
// since that translation differs by the referenced unit's kind
// (resource -> value, task -> caller, event -> emitter).
type engine struct {
	store       *Store
	events      *EventManager
	mu          sync.RWMutex
	initOrder   []Id // achieved resource init order, for reverse disposal
	onHookError func(hookId Id, err error)
	pool        *PoolManager
	execTree    *ExecutionTree
}

func newEngine(store *Store) *engine {
	e := &engine{store: store}
	e.events = newEventManager(e)
	e.pool = newPoolManager()
	e.execTree = newExecutionTree(1024, e.pool)
	return e
}

// TaskCaller is handed to dependents that declared a dependency on a
// task; calling it runs the task through the engine's TaskRunner.
type TaskCaller func(input any) (any, error)

// EventEmitter is handed to dependents that declared a dependency on an
// event; calling it emits through the engine's EventManager.
type EventEmitter func(data any) error

func (e *engine) resolveDependencySet(deps map[string]Ref) DependencySet {
	return e.resolveDependencySetCtx(deps, "", context.Background(), "")
}

// resolveDependencySetWithToken is resolveDependencySet with an
// emissionToken threaded through so any EventEmitter it hands out
// rejoins the emission path that's already dispatching, rather than
// starting a fresh one. Called by EventManager.emitWithPath while it
// resolves a hook's deps; every other caller (task dispatch, resource
// init) passes the empty token and gets ordinary fresh-token emit()
// semantics via resolveOne.
func (e *engine) resolveDependencySetWithToken(deps map[string]Ref, token emissionToken) DependencySet {
	return e.resolveDependencySetCtx(deps, token, context.Background(), "")
}

// resolveDependencySetCtx is the full form: ctx is threaded into any
// TaskCaller it hands out so a task that calls another task as a
// dependency propagates the same cancellation rather than detaching
// into a fresh background context, and parentExecID is threaded the
// same way so the nested dispatch that TaskCaller performs records
// itself as a child of the dispatch resolving these deps, rather than
// a fresh root, in the engine's ExecutionTree. TaskRunner.run calls
// this directly with its own context and node id; every other caller
// goes through resolveDependencySet/resolveDependencySetWithToken,
// which default both to their zero values.
func (e *engine) resolveDependencySetCtx(deps map[string]Ref, token emissionToken, ctx context.Context, parentExecID string) DependencySet {
	out := e.pool.acquireDependencySet()
	for key, ref := range deps {
		out[key] = e.resolveOneCtx(ref, token, ctx, parentExecID)
	}
	return out
}

func (e *engine) resolveOne(ref Ref) any {
	return e.resolveOneCtx(ref, "", context.Background(), "")
}

func (e *engine) resolveOneCtx(ref Ref, token emissionToken, ctx context.Context, parentExecID string) any {
	if entry, ok := e.store.resources[ref.id]; ok {
		return entry.Value
	}
	if _, ok := e.store.tasks[ref.id]; ok {
		taskId := ref.id
		return TaskCaller(func(input any) (any, error) {
			return e.runTaskById(withCancellation(ctx), taskId, input, parentExecID)
		})
	}
	if _, ok := e.store.events[ref.id]; ok {
		eventId := ref.id
		return EventEmitter(func(data any) error {
			if token != "" {
				return e.events.emitWithPath(eventId, data, "dependency", token)
			}
			return e.events.emit(eventId, data, "dependency")
		})
	}
	if entry, ok := e.store.tags[ref.id]; ok {
		return entry.Def
	}
	if entry, ok := e.store.errors[ref.id]; ok {
		return entry.Def.(*errorDefinition).helper
	}
	return nil
}

func (e *engine) runTaskById(ctx context.Context, id Id, input any, parentExecID string) (any, error) {
	entry, err := e.store.getTask(id)
	if err != nil {
		return nil, err
	}
	runner := newTaskRunner(e)
	return runner.run(entry, input, RunTaskOptions{Context: ctx, parentExecID: parentExecID})
}
