package runner

// dependencyGraph is a directed consumer -> target adjacency list built
// from every entry's computed dependencies, including middleware and
// hook-target events (spec.md §4.3). Grounded on pumped-go's
// ReactiveGraph (graph.go), generalised from reactive-invalidation
// edges to the full static dependency graph used for cycle detection.
type dependencyGraph struct {
	edges map[Id][]Id
	isMw  map[Id]bool
}

func (s *Store) buildDependencyGraph() *dependencyGraph {
	g := &dependencyGraph{edges: map[Id][]Id{}, isMw: map[Id]bool{}}

	addEdges := func(id Id, entry *StoreEntry) {
		for _, ref := range entry.deps {
			g.edges[id] = append(g.edges[id], ref.id)
		}
	}
	for id, e := range s.tasks {
		addEdges(id, e)
		if holder, ok := e.Def.(anyTaskMiddlewareHolder); ok {
			for _, att := range holder.middlewareIds() {
				g.edges[id] = append(g.edges[id], att)
				g.isMw[att] = true
			}
		}
	}
	for id, e := range s.resources {
		addEdges(id, e)
	}
	for id, e := range s.hooks {
		addEdges(id, e)
	}
	for id, e := range s.taskMw {
		addEdges(id, e)
		g.isMw[id] = true
	}
	for id, e := range s.resourceMw {
		addEdges(id, e)
		g.isMw[id] = true
	}
	return g
}

// anyTaskMiddlewareHolder is satisfied by TaskDefinition[I,O] to expose
// its attached middleware ids to the graph builder without depending on
// I/O type parameters.
type anyTaskMiddlewareHolder interface {
	middlewareIds() []Id
}

func (t *TaskDefinition[I, O]) middlewareIds() []Id {
	ids := make([]Id, 0, len(t.Middleware))
	for _, m := range t.Middleware {
		ids = append(ids, m.Middleware.IdValue)
	}
	return ids
}

const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// detectCycles runs DFS over g and returns the first cycle found as a
// path of ids, or nil if the graph is acyclic (spec.md §4.3, §8
// property 8: "any dependency graph with a cycle fails registration
// with CircularDependencies containing a path through at least one
// member of each SCC").
func (g *dependencyGraph) detectCycles() []Id {
	color := map[Id]int{}
	var stack []Id

	var visit func(id Id) []Id
	visit = func(id Id) []Id {
		color[id] = colorGray
		stack = append(stack, id)

		for _, next := range g.edges[id] {
			switch color[next] {
			case colorWhite:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			case colorGray:
				// back-edge: build path from next's occurrence in stack to here.
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cycle := append([]Id{}, stack[start:]...)
				cycle = append(cycle, next)
				return cycle
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = colorBlack
		return nil
	}

	ids := make([]Id, 0, len(g.edges))
	for id := range g.edges {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if color[id] == colorWhite {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func (g *dependencyGraph) containsMiddleware(path []Id) bool {
	for _, id := range path {
		if g.isMw[id] {
			return true
		}
	}
	return false
}

// ExportDependencyGraph exposes the store's consumer -> target adjacency
// list for debugging tools (spec.md §7 "Observability"). Grounded on
// pumped-go's Scope.ExportDependencyGraph (scope.go), kept at the same
// signature shape so a graph-rendering extension built against one
// translates directly to the other.
func (s *Store) ExportDependencyGraph() map[Id][]Id {
	g := s.buildDependencyGraph()
	out := make(map[Id][]Id, len(g.edges))
	for id, targets := range g.edges {
		out[id] = append([]Id{}, targets...)
	}
	return out
}

func (s *Store) validateAcyclic() error {
	g := s.buildDependencyGraph()
	if cycle := g.detectCycles(); cycle != nil {
		return CircularDependencies.Throw(map[string]any{
			"path": cycle, "middleware": g.containsMiddleware(cycle),
		})
	}
	return nil
}

// hookEmitsTag lets a Task/Resource/Hook declare, via meta["emits"],
// which event ids it may emit so event-emission cycles can be caught at
// registration time (spec.md §4.3 compile-time emission cycle check).
const emitsMetaKey = "emits"

func emitsOf(d definition) []Id {
	meta := d.defMeta()
	if meta == nil {
		return nil
	}
	if ids, ok := meta[emitsMetaKey].([]Id); ok {
		return ids
	}
	return nil
}

// validateEventEmissionAcyclic closes each hook's declared `emits` set
// transitively across hook chains (hook -> event -> hooks-on-that-event
// -> their emits -> ...) and fails if any SCC has size >= 2.
func (s *Store) validateEventEmissionAcyclic() error {
	// hook -> events it may emit
	hookEmits := map[Id][]Id{}
	for id, e := range s.hooks {
		hookEmits[id] = emitsOf(e.Def)
	}

	// event -> hooks listening on it
	eventHooks := map[Id][]Id{}
	for hookId, e := range s.hooks {
		hook := e.Def.(*HookDefinition)
		for eventId := range s.events {
			if hook.listensOn(eventId) {
				eventHooks[eventId] = append(eventHooks[eventId], hookId)
			}
		}
	}

	edges := map[Id][]Id{}
	for hookId, emitted := range hookEmits {
		for _, eventId := range emitted {
			edges[hookId] = append(edges[hookId], "event:"+eventId)
			for _, listener := range eventHooks[eventId] {
				edges["event:"+eventId] = append(edges["event:"+eventId], listener)
			}
		}
	}

	g := &dependencyGraph{edges: edges}
	if cycle := g.detectCycles(); cycle != nil {
		return EventEmissionCycle.Throw(map[string]any{"path": cycle})
	}
	return nil
}
