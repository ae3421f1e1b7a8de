package runner

// StoreEntry is the per-unit record kept in the Store (spec.md §3).
// Resource entries additionally carry runtime lifecycle state.
type StoreEntry struct {
	Def        definition
	Owner      Id
	Config     any // resource config, after parsing; nil for non-resources
	deps       map[string]Ref

	// Resource-only lifecycle fields.
	Value                any
	IsInitialized         bool
	computedDependencySet DependencySet
}

// Store is the registry of every unit built from a root Resource's
// register tree (spec.md §3 "Store"). Grounded on pumped-go's Scope
// (scope.go), generalised from an executor cache to a typed, kind-
// partitioned unit registry.
type Store struct {
	tasks      map[Id]*StoreEntry
	resources  map[Id]*StoreEntry
	events     map[Id]*StoreEntry
	hooks      map[Id]*StoreEntry
	taskMw     map[Id]*StoreEntry
	resourceMw map[Id]*StoreEntry
	tags       map[Id]*StoreEntry
	errors     map[Id]*StoreEntry
	asyncCtx   map[Id]*StoreEntry

	visibility *VisibilityTracker
	rootId     Id
	finalized  bool
}

func newStore() *Store {
	return &Store{
		tasks:      map[Id]*StoreEntry{},
		resources:  map[Id]*StoreEntry{},
		events:     map[Id]*StoreEntry{},
		hooks:      map[Id]*StoreEntry{},
		taskMw:     map[Id]*StoreEntry{},
		resourceMw: map[Id]*StoreEntry{},
		tags:       map[Id]*StoreEntry{},
		errors:     map[Id]*StoreEntry{},
		asyncCtx:   map[Id]*StoreEntry{},
		visibility: newVisibilityTracker(),
	}
}

// Tags exposes this entry's definition's tag attachments without
// leaking the unexported definition interface to other packages —
// used by out-of-package discovery such as the exposure server's
// tunnel allow-list scan.
func (e *StoreEntry) Tags() []TagAttachment { return e.Def.defTagAttachments() }

func (s *Store) mapFor(kind Kind) map[Id]*StoreEntry {
	switch kind {
	case KindTask:
		return s.tasks
	case KindResource:
		return s.resources
	case KindEvent:
		return s.events
	case KindHook:
		return s.hooks
	case KindTaskMiddleware:
		return s.taskMw
	case KindResourceMiddleware:
		return s.resourceMw
	case KindTag:
		return s.tags
	case KindError:
		return s.errors
	case KindAsyncContext:
		return s.asyncCtx
	default:
		return nil
	}
}

// registrationWork is one entry in the iterative register-walk queue
// (spec.md §4.1 "iterative: a work-queue of {item, owner}").
type registrationWork struct {
	item  Item
	owner Id
}

// storeGenericItem dispatches by kind, records ownership/tags, and
// fails on duplicate ids (spec.md §4.1).
func (s *Store) storeGenericItem(item Item, owner Id) error {
	d, config, err := unwrapItem(item)
	if err != nil {
		return err
	}

	m := s.mapFor(d.defKind())
	if m == nil {
		return UnknownItemType.Throw(map[string]any{"owner": owner})
	}
	if _, exists := m[d.defId()]; exists {
		return DuplicateRegistration.Throw(map[string]any{"kind": d.defKind().String(), "id": d.defId()})
	}

	m[d.defId()] = &StoreEntry{Def: d, Owner: owner, Config: config}
	s.visibility.recordOwnership(d.defId(), owner)
	for _, t := range d.defTagAttachments() {
		s.visibility.recordTag(d.defId(), t.tagId)
	}

	if res, ok := d.(resourceLike); ok {
		s.visibility.recordResource(d.defId())
		if exports := res.exportIds(); exports != nil {
			s.visibility.recordExports(d.defId(), exports)
		}
		if policy := res.accessPolicy(); policy != nil {
			s.visibility.recordAccessPolicy(d.defId(), *policy)
		}
	}
	return nil
}

// unwrapItem normalizes Item into its definition and, for
// ResourceWithConfig, the config to register it with.
func unwrapItem(item Item) (definition, any, error) {
	switch v := item.(type) {
	case definition:
		return v, nil, nil
	case resourceWithConfigLike:
		return v.resourceDef(), v.resourceConfig(), nil
	default:
		return nil, nil, UnknownItemType.Throw(map[string]any{"owner": ""})
	}
}

// resourceLike exposes the bits of ResourceDefinition[C,T] the store
// needs without depending on its type parameters.
type resourceLike interface {
	definition
	exportIds() []Id
	accessPolicy() *AccessPolicy
	registerChildren(config any) []Item
	parseConfigAny(raw any) (any, error)
	lifecycleEvents() []definition
}

func (r *ResourceDefinition[C, T]) exportIds() []Id        { return r.Exports }
func (r *ResourceDefinition[C, T]) accessPolicy() *AccessPolicy { return r.DependencyAccessPolicy }
func (r *ResourceDefinition[C, T]) registerChildren(config any) []Item {
	return r.registerAny(config)
}
func (r *ResourceDefinition[C, T]) parseConfigAny(raw any) (any, error) { return r.parseConfig(raw) }
func (r *ResourceDefinition[C, T]) lifecycleEvents() []definition {
	r.ensureEvents()
	return []definition{r.BeforeInit, r.AfterInit, r.OnError}
}

func (r *ResourceDefinition[C, T]) attachedResourceMiddleware() []ResourceMiddlewareAttachment {
	return r.ResourceMiddleware
}

type resourceWithConfigLike interface {
	resourceDef() resourceLike
	resourceConfig() any
}

func (rc ResourceWithConfig[C, T]) resourceDef() resourceLike { return rc.Resource }
func (rc ResourceWithConfig[C, T]) resourceConfig() any       { return rc.Config }

// buildStore walks root's registration tree breadth-first, registering
// every reachable unit, then finalizes dependency computation.
func buildStore(root resourceLike, rootConfig any) (*Store, error) {
	s := newStore()
	s.rootId = root.defId()

	queue := []registrationWork{{item: root, owner: root.defId()}}
	// the root's config is applied immediately since it has no parent
	// supplying it.
	configs := map[Id]any{root.defId(): rootConfig}

	for len(queue) > 0 {
		work := queue[0]
		queue = queue[1:]

		if err := s.storeGenericItem(work.item, work.owner); err != nil {
			return nil, err
		}

		d, _, _ := unwrapItem(work.item)
		if res, ok := d.(resourceLike); ok {
			cfg := configs[res.defId()]
			parsed, err := res.parseConfigAny(cfg)
			if err != nil {
				return nil, err
			}
			entry := s.mapFor(KindResource)[res.defId()]
			entry.Config = parsed

			for _, ev := range res.lifecycleEvents() {
				queue = append(queue, registrationWork{item: ev, owner: res.defId()})
			}

			for _, child := range res.registerChildren(parsed) {
				childDef, childCfg, err := unwrapItem(child)
				if err != nil {
					return nil, err
				}
				if childRes, ok := childDef.(resourceLike); ok {
					configs[childRes.defId()] = childCfg
				}
				queue = append(queue, registrationWork{item: child, owner: res.defId()})
			}
		}
	}

	if err := s.finalizeRegistration(); err != nil {
		return nil, err
	}
	return s, nil
}

// finalizeRegistration computes effective Dependencies for every entry
// by resolving factory-form Deps against the owning resource's config
// (spec.md §4.1).
func (s *Store) finalizeRegistration() error {
	all := []map[Id]*StoreEntry{s.tasks, s.resources, s.hooks, s.taskMw, s.resourceMw}
	for _, m := range all {
		for _, entry := range m {
			cfg := entry.Config
			if cfg == nil {
				if ownerEntry, ok := s.resources[entry.Owner]; ok {
					cfg = ownerEntry.Config
				}
			}
			entry.deps = entry.Def.defDependencies().resolve(cfg)
			for key, ref := range entry.deps {
				if ref.target == nil {
					resolved, ok := s.lookupAny(ref.id)
					if !ok {
						return DependencyNotFound.Throw(map[string]any{"target": ref.id, "consumer": entry.Def.defId()})
					}
					entry.deps[key] = refOf(resolved)
				}
			}
		}
	}
	s.finalized = true
	return nil
}

func (s *Store) lookupAny(id Id) (definition, bool) {
	for _, m := range []map[Id]*StoreEntry{s.tasks, s.resources, s.events, s.hooks, s.taskMw, s.resourceMw, s.tags, s.errors, s.asyncCtx} {
		if e, ok := m[id]; ok {
			return e.Def, true
		}
	}
	return nil, false
}

func (s *Store) getResource(id Id) (*StoreEntry, error) {
	e, ok := s.resources[id]
	if !ok {
		return nil, ResourceNotFoundError.Throw(map[string]any{"id": id})
	}
	return e, nil
}

func (s *Store) getTask(id Id) (*StoreEntry, error) {
	e, ok := s.tasks[id]
	if !ok {
		return nil, TaskNotFoundError.Throw(map[string]any{"id": id})
	}
	return e, nil
}

func (s *Store) getEvent(id Id) (*StoreEntry, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, EventNotFoundError.Throw(map[string]any{"id": id})
	}
	return e, nil
}

// AllResources returns every registered resource entry, for the
// initializer's topological sort.
func (s *Store) AllResources() map[Id]*StoreEntry { return s.resources }

// AllHooks returns every registered hook entry.
func (s *Store) AllHooks() map[Id]*StoreEntry { return s.hooks }
