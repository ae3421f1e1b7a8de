package runner

import "context"

// RunResult is returned by Run: the live handle over an initialized
// Store (spec.md §2, §6).
type RunResult struct {
	store  *Store
	engine *engine
	Value  any
}

// RunOptions configures Run (spec.md §6 `run(root, options?)`).
type RunOptions struct {
	OnHookError func(hookId Id, err error)
}

// Run builds the Store from root's registration tree, validates
// visibility and acyclicity, initializes every resource in topological
// order, and returns a RunResult exposing RunTask/EmitEvent/
// GetResourceValue/Dispose (spec.md §2 "Data flow").
func Run[C, T any](root *ResourceDefinition[C, T], config C, opts *RunOptions) (*RunResult, error) {
	store, err := buildStore(root, config)
	if err != nil {
		return nil, err
	}
	if err := store.validateVisibility(); err != nil {
		return nil, err
	}
	if err := store.validateAcyclic(); err != nil {
		return nil, err
	}
	if err := store.validateEventEmissionAcyclic(); err != nil {
		return nil, err
	}

	e := newEngine(store)
	if opts != nil {
		e.onHookError = opts.OnHookError
	}
	e.events.registerHooks()

	if err := e.initialize(); err != nil {
		return nil, err
	}

	rootEntry := store.resources[root.IdValue]
	return &RunResult{store: store, engine: e, Value: rootEntry.Value}, nil
}

// Store exposes the underlying registry for introspection (debug
// extensions, tests).
func (r *RunResult) Store() *Store { return r.store }

// GetResourceValue (getResourceValue) returns a resource's current
// initialized value.
func GetResourceValue[C, T any](rr *RunResult, res *ResourceDefinition[C, T]) (T, error) {
	var zero T
	entry, err := rr.store.getResource(res.IdValue)
	if err != nil {
		return zero, err
	}
	if !entry.IsInitialized {
		return zero, ResourceNotFoundError.Throw(map[string]any{"id": res.IdValue})
	}
	typed, _ := entry.Value.(T)
	return typed, nil
}

// RunTaskById invokes a task by its raw string id, bypassing the typed
// RunTask[I,O] wrapper. Used by the exposure server and tunnel clients,
// which only ever hold a wire-level id and an `any` payload.
func (r *RunResult) RunTaskById(id Id, input any) (any, error) {
	return r.engine.runTaskById(context.Background(), id, input, "")
}

// RunTaskByIdContext is RunTaskById with an explicit caller context: if
// ctx is cancelled or its deadline passes before the task finishes,
// it returns a TaskCancelled error instead of blocking for the
// dispatch's full duration. The exposure server uses this so an
// aborted HTTP request actually unwinds the in-flight task rather than
// just giving up on waiting for it.
func (r *RunResult) RunTaskByIdContext(ctx context.Context, id Id, input any) (any, error) {
	return r.engine.runTaskById(ctx, id, input, "")
}

// ExecutionTree exposes the engine's bounded record of recent task
// dispatches for runtime introspection (debug extensions, ops
// tooling).
func (r *RunResult) ExecutionTree() *ExecutionTree {
	return r.engine.execTree
}

// PoolMetrics reports hit/miss counts for the engine's internal
// dependency-set and execution-node pools.
func (r *RunResult) PoolMetrics() PoolMetrics {
	return r.engine.pool.Metrics()
}

// EmitEventById emits by raw string id, bypassing typed validation —
// the exposure server's wire path has no compile-time T to validate
// against, so callers that need schema enforcement should route
// through a typed EventDefinition when one is available.
func (r *RunResult) EmitEventById(id Id, data any, source string) error {
	return r.engine.events.emit(id, data, source)
}

// Dispose walks initialized resources in reverse init order, aggregating
// disposer failures (spec.md §4.4 "Disposal").
func (r *RunResult) Dispose() error {
	err := r.engine.disposeInitialized()
	r.engine.events.listeners = map[Id][]*hookListener{}
	return err
}

// AssertTaskRouted (assertTaskRouted) is the sentinel helper a phantom
// task's consumer uses to confirm a value actually came back from a
// tunnel route rather than silently being nil (spec.md §6).
func AssertTaskRouted(value any, id Id) error {
	if value == nil {
		return PhantomTaskNotRouted.Throw(map[string]any{"taskId": id})
	}
	return nil
}

// --- Test harness ---

// TestOptions configures CreateTestResource (spec.md §6).
type TestOptions struct {
	Overrides []definition
}

// CreateTestResource (createTestResource) wraps root so that, at
// registration time, any item sharing an id with one of opts.Overrides
// is substituted for it — grounded on pumped-go's WithPreset
// (scope.go), generalised from a scope-level value/executor swap to a
// registration-tree-level definition swap.
func CreateTestResource[C, T any](root *ResourceDefinition[C, T], opts TestOptions) *ResourceDefinition[C, T] {
	overrideMap := map[Id]definition{}
	for _, o := range opts.Overrides {
		overrideMap[o.defId()] = o
	}
	wrapped := *root
	originalRegister := root.Register
	wrapped.Register = func(cfg C) []Item {
		var items []Item
		if originalRegister != nil {
			items = originalRegister(cfg)
		}
		return substituteOverrides(items, overrideMap)
	}
	wrapped.BeforeInit, wrapped.AfterInit, wrapped.OnError = nil, nil, nil
	return &wrapped
}

func substituteOverrides(items []Item, overrides map[Id]definition) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		if d, _, err := unwrapItem(item); err == nil {
			if replacement, ok := overrides[d.defId()]; ok {
				out[i] = replacement
				continue
			}
		}
		out[i] = item
	}
	return out
}

// --- Fork ---

// ForkOptions configures ResourceDefinition.Fork (spec.md §6
// `resource.fork(newId, {register, reId})`).
type ForkOptions struct {
	// Deep forks the registration subtree (re-running Register and
	// remapping child ids); Shallow (Deep=false) only clones the
	// resource itself.
	Deep bool
	ReId func(oldId Id) Id
}

// Fork produces a copy of r under newId. A deep fork re-invokes
// Register and passes the id of each task, resource, event and hook it
// returns through ReId. Only those directly registered items are
// remapped, not what they register in turn, and no dependency ref is
// rewritten: refs inside the forked subtree still name the original ids.
func (r *ResourceDefinition[C, T]) Fork(newId Id, opts ForkOptions) *ResourceDefinition[C, T] {
	reId := opts.ReId
	if reId == nil {
		reId = func(old Id) Id { return old }
	}

	forked := *r
	forked.IdValue = newId
	forked.BeforeInit, forked.AfterInit, forked.OnError = nil, nil, nil

	if opts.Deep && r.Register != nil {
		originalRegister := r.Register
		forked.Register = func(cfg C) []Item {
			items := originalRegister(cfg)
			return remapItemIds(items, reId)
		}
	}
	return &forked
}

// remapIdable is implemented by definition kinds that support id
// remapping during a deep fork.
type remapIdable interface {
	withRemappedId(newId Id) definition
}

func (t *TaskDefinition[I, O]) withRemappedId(newId Id) definition {
	d := *t
	d.IdValue = newId
	return &d
}

func (r *ResourceDefinition[C, T]) withRemappedId(newId Id) definition {
	d := *r
	d.IdValue = newId
	d.BeforeInit, d.AfterInit, d.OnError = nil, nil, nil
	return &d
}

func (e *EventDefinition[T]) withRemappedId(newId Id) definition {
	d := *e
	d.IdValue = newId
	return &d
}

func (h *HookDefinition) withRemappedId(newId Id) definition {
	d := *h
	d.IdValue = newId
	return &d
}

func remapItemIds(items []Item, reId func(Id) Id) []Item {
	out := make([]Item, len(items))
	for i, item := range items {
		d, cfg, err := unwrapItem(item)
		if err != nil {
			out[i] = item
			continue
		}
		if remappable, ok := d.(remapIdable); ok {
			newId := reId(d.defId())
			remapped := remappable.withRemappedId(newId)
			if cfg != nil {
				if res, ok := remapped.(resourceLike); ok {
					out[i] = wrapResourceWithConfig(res, cfg)
					continue
				}
			}
			out[i] = remapped
		} else {
			out[i] = item
		}
	}
	return out
}

// wrapResourceWithConfig re-pairs a remapped resource with its original
// config without knowing its concrete C,T at this call site.
func wrapResourceWithConfig(res resourceLike, cfg any) Item {
	if rc, ok := res.(interface{ withConfigAny(any) Item }); ok {
		return rc.withConfigAny(cfg)
	}
	return res
}

func (r *ResourceDefinition[C, T]) withConfigAny(cfg any) Item {
	typed, _ := cfg.(C)
	return r.WithConfig(typed)
}
