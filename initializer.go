package runner

import (
	"sort"
	"sync"
)

// initialize computes a topological order over resources (ancestors
// before dependents, layered so same-layer resources initialize
// concurrently) and runs each through its middleware chain
// (spec.md §4.4). Grounded on pumped-go's extension-wrapped resolution
// in scope.go's Resolve, generalised from single-executor lazy
// resolution to whole-store eager layered initialization.
func (e *engine) initialize() error {
	layers, err := e.computeInitLayers()
	if err != nil {
		return err
	}

	for _, layer := range layers {
		var wg sync.WaitGroup
		errs := make([]error, len(layer))

		for i, id := range layer {
			wg.Add(1)
			go func(i int, id Id) {
				defer wg.Done()
				errs[i] = e.initOne(id)
			}(i, id)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				disposeErr := e.disposeInitialized()
				if disposeErr != nil {
					return &AggregateError{Errors: []error{err, disposeErr}}
				}
				_ = i
				return err
			}
		}
	}
	return nil
}

// computeInitLayers performs a Kahn's-algorithm layering over the
// resource subgraph: each layer holds resources whose resource-kind
// dependencies are all in earlier layers. Resources within a layer are
// sorted by id; registration order is not kept.
func (e *engine) computeInitLayers() ([][]Id, error) {
	indegree := map[Id]int{}
	dependents := map[Id][]Id{}
	ids := make([]Id, 0, len(e.store.resources))

	for id, entry := range e.store.resources {
		ids = append(ids, id)
		count := 0
		for _, ref := range entry.deps {
			if _, isResource := e.store.resources[ref.id]; isResource {
				count++
				dependents[ref.id] = append(dependents[ref.id], id)
			}
		}
		indegree[id] = count
	}
	sort.Strings(ids)

	var layers [][]Id
	remaining := len(ids)
	visited := map[Id]bool{}

	for remaining > 0 {
		var layer []Id
		for _, id := range ids {
			if !visited[id] && indegree[id] == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, CircularDependencies.Throw(map[string]any{"path": ids, "middleware": false})
		}
		sort.Strings(layer)
		for _, id := range layer {
			visited[id] = true
			remaining--
			for _, dep := range dependents[id] {
				indegree[dep]--
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

func (e *engine) initOne(id Id) (err error) {
	entry := e.store.resources[id]
	resTyped := entry.Def

	deps := e.resolveDependencySet(entry.deps)
	entry.computedDependencySet = deps

	_ = e.events.emit(fieldEventId(resTyped, "BeforeInit"), id, "initializer")

	chain := e.composeResourceMiddleware(resTyped, entry, deps)
	value, initErr := chain(func() (any, error) {
		return initAny(resTyped, entry.Config, deps)
	})

	if initErr != nil {
		_ = e.events.emit(fieldEventId(resTyped, "OnError"), ResourceErrorPayload{ResourceId: id, Err: initErr}, "initializer")
		return initErr
	}

	entry.Value = value
	entry.IsInitialized = true
	e.mu.Lock()
	e.initOrder = append(e.initOrder, id)
	e.mu.Unlock()

	_ = e.events.emit(fieldEventId(resTyped, "AfterInit"), id, "initializer")
	return nil
}

// initAny/disposeAny dispatch to the generic ResourceDefinition's erased
// init/dispose without exposing its type parameters here.
type resourceInitDisposer interface {
	initAny(config any, deps DependencySet) (any, error)
	disposeAny(value any, config any, deps DependencySet) error
}

func initAny(d definition, config any, deps DependencySet) (any, error) {
	return d.(resourceInitDisposer).initAny(config, deps)
}

func disposeAny(d definition, value, config any, deps DependencySet) error {
	return d.(resourceInitDisposer).disposeAny(value, config, deps)
}

// fieldEventId looks up the auto-generated lifecycle event id for a
// resource ("beforeInit"/"afterInit"/"OnError") by convention rather
// than reflection: each ResourceDefinition[C,T] exposes it via the
// resourceLike.lifecycleEvents() order [BeforeInit, AfterInit, OnError].
func fieldEventId(d definition, which string) Id {
	events := d.(resourceLike).lifecycleEvents()
	switch which {
	case "BeforeInit":
		return events[0].defId()
	case "AfterInit":
		return events[1].defId()
	default:
		return events[2].defId()
	}
}

// composeResourceMiddleware builds the global -> tag-matched -> attached
// chain described in spec.md §4.4 step 2b, deduped by id. deps is the
// resource's own computed DependencySet (initOne's entry.computedDependencySet)
// so middleware observes the same dependencies the resource's Init sees,
// matching taskrunner.go's composeMiddleware.
func (e *engine) composeResourceMiddleware(resDef definition, entry *StoreEntry, deps DependencySet) func(next ResourceMiddlewareNext) (any, error) {
	seen := map[Id]bool{}
	var mws []*ResourceMiddlewareDefinition
	var configs []any

	resTags := resDef.defTagAttachments()

	for _, mwEntry := range e.store.resourceMw {
		mw := mwEntry.Def.(*ResourceMiddlewareDefinition)
		if global, _ := mw.Meta["global"].(bool); global && !seen[mw.IdValue] {
			seen[mw.IdValue] = true
			mws = append(mws, mw)
			configs = append(configs, nil)
		}
	}
	for _, tag := range resTags {
		for _, mwEntry := range e.store.resourceMw {
			mw := mwEntry.Def.(*ResourceMiddlewareDefinition)
			if HasTag(tag.tagId, mw.TagList) && !seen[mw.IdValue] {
				seen[mw.IdValue] = true
				mws = append(mws, mw)
				configs = append(configs, nil)
			}
		}
	}
	if res, ok := resDef.(interface {
		attachedResourceMiddleware() []ResourceMiddlewareAttachment
	}); ok {
		for _, att := range res.attachedResourceMiddleware() {
			if !seen[att.Middleware.IdValue] {
				seen[att.Middleware.IdValue] = true
				mws = append(mws, att.Middleware)
				configs = append(configs, att.Config)
			}
		}
	}

	return func(next ResourceMiddlewareNext) (any, error) {
		call := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			innerNext := call
			call = func() (any, error) {
				return mw.RunFn(entry.Def.defId(), innerNext, deps)
			}
		}
		return call()
	}
}

// disposeInitialized walks initialized resources in reverse init order,
// continuing past failures and aggregating them (spec.md §4.4
// "Disposal").
func (e *engine) disposeInitialized() error {
	e.mu.Lock()
	order := append([]Id{}, e.initOrder...)
	e.initOrder = nil
	e.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		entry := e.store.resources[id]
		if !entry.IsInitialized {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					errs = append(errs, normalizeThrown(r))
				}
			}()
			if err := disposeAny(entry.Def, entry.Value, entry.Config, entry.computedDependencySet); err != nil {
				errs = append(errs, normalizeThrown(err))
			}
		}()
		entry.Value = nil
		entry.computedDependencySet = nil
		entry.IsInitialized = false
	}

	if len(errs) == 0 {
		return nil
	}
	return &AggregateError{Errors: errs}
}
