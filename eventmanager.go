package runner

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IEventEmission is the object handed to a Hook on each emission
// (spec.md §4.6).
type IEventEmission struct {
	Id        Id
	Data      any
	Timestamp time.Time
	Source    string
}

// EventManager fans events out to ordered Hooks and guards against a
// hook re-emitting an event already on its own emission path
// (spec.md §4.6). Grounded on pumped-go's Extension chain dispatch
// (extension.go/scope.go Resolve), generalised from a single ordered
// middleware chain to a multi-listener, order-sorted fan-out.
type EventManager struct {
	e         *engine
	mu        sync.RWMutex
	listeners map[Id][]*hookListener
	pathMu    sync.Mutex
	path      map[string][]Id // goroutine-scoped emission path, keyed by a synthetic call-id
}

type hookListener struct {
	id     Id
	order  int
	seq    int
	filter func(IEventEmission) bool
	run    func(IEventEmission, DependencySet) error
	deps   Deps
}

func newEventManager(e *engine) *EventManager {
	return &EventManager{e: e, listeners: map[Id][]*hookListener{}, path: map[string][]Id{}}
}

// registerHooks wires every HookDefinition in the store into the
// manager's per-event listener lists; called once during Run.
func (m *EventManager) registerHooks() {
	seq := 0
	for _, entry := range m.e.store.hooks {
		hook := entry.Def.(*HookDefinition)
		l := &hookListener{
			id:    hook.IdValue,
			order: hook.Order,
			seq:   seq,
			deps:  entry.Def.defDependencies(),
		}
		seq++
		if hook.Filter != nil {
			l.filter = hook.Filter
		}
		l.run = hook.RunFn

		for _, ref := range hook.On {
			if ref.all {
				m.listeners["*"] = append(m.listeners["*"], l)
			} else {
				m.listeners[ref.id] = append(m.listeners[ref.id], l)
			}
		}
	}
	for _, list := range m.listeners {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].order != list[j].order {
				return list[i].order < list[j].order
			}
			return list[i].seq < list[j].seq
		})
	}
}

// addListener / removeListener support dynamic subscription outside the
// registration tree (spec.md §4.6).
func (m *EventManager) addListener(eventId Id, handler func(IEventEmission, DependencySet) error, order int, filter func(IEventEmission) bool) Id {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	l := &hookListener{id: id, order: order, run: handler, filter: filter}
	m.listeners[eventId] = append(m.listeners[eventId], l)
	sort.SliceStable(m.listeners[eventId], func(i, j int) bool {
		return m.listeners[eventId][i].order < m.listeners[eventId][j].order
	})
	return id
}

func (m *EventManager) removeListener(eventId, listenerId Id) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.listeners[eventId]
	for i, l := range list {
		if l.id == listenerId {
			m.listeners[eventId] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// emissionToken scopes the per-call emission path used for cycle
// detection; a fresh token is created at the root of each emit() call
// chain invoked from outside a hook.
type emissionToken string

func (m *EventManager) emit(eventId Id, data any, source string) error {
	return m.emitWithPath(eventId, data, source, emissionToken(uuid.NewString()))
}

func (m *EventManager) emitWithPath(eventId Id, data any, source string, token emissionToken) error {
	m.pathMu.Lock()
	path := m.path[string(token)]
	for _, p := range path {
		if p == eventId {
			m.pathMu.Unlock()
			full := append(append([]Id{}, path...), eventId)
			return EventCycleError.Throw(map[string]any{"path": full})
		}
	}
	m.path[string(token)] = append(path, eventId)
	m.pathMu.Unlock()
	defer func() {
		m.pathMu.Lock()
		p := m.path[string(token)]
		if len(p) > 0 {
			m.path[string(token)] = p[:len(p)-1]
		}
		m.pathMu.Unlock()
	}()

	emission := IEventEmission{Id: eventId, Data: data, Timestamp: time.Now(), Source: source}

	m.mu.RLock()
	listeners := append([]*hookListener{}, m.listeners[eventId]...)
	listeners = append(listeners, m.listeners["*"]...)
	m.mu.RUnlock()
	sort.SliceStable(listeners, func(i, j int) bool { return listeners[i].order < listeners[j].order })

	for _, l := range listeners {
		if l.filter != nil && !l.filter(emission) {
			continue
		}
		// Threading the in-flight token means a hook that calls its own
		// EventEmitter dependency rejoins this same path instead of
		// opening a fresh one, so re-emitting an event already being
		// dispatched is caught by the path check above rather than
		// silently recursing.
		deps := m.e.resolveDependencySetWithToken(l.deps.resolve(nil), token)
		// hook errors are logged and swallowed by default
		// (spec.md §4.6, open question resolved toward log-and-continue).
		func() {
			defer func() { recover() }()
			if err := l.run(emission, deps); err != nil {
				m.e.logHookError(l.id, err)
			}
		}()
	}
	return nil
}

func (e *engine) logHookError(hookId Id, err error) {
	// Hook failures never abort emission. A concrete zap sink arrives
	// through RunOptions.OnHookError (extensions.HookErrorLogger, as
	// cmd/runnerd wires it); bare engine use logs nothing by default to
	// stay dependency-free at this layer.
	if e.onHookError != nil {
		e.onHookError(hookId, err)
	}
}

// EmitEvent (emitEvent) is the typed public entry point.
func EmitEvent[T any](rr *RunResult, event *EventDefinition[T], data T) error {
	entry, err := rr.store.getEvent(event.IdValue)
	if err != nil {
		return err
	}
	if event.Schema != nil {
		if _, err := event.Schema.Parse(data); err != nil {
			return Validation.New(map[string]any{"subject": "Event payload", "targetId": entry.Def.defId(), "cause": err}, err)
		}
	}
	return rr.engine.events.emit(event.IdValue, data, "emitEvent")
}
