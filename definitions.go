package runner

import "fmt"

// --- Task ---

// TaskDefinition is an invocable operation (spec.md §3). Phantom tasks
// carry no Run and fail fast unless a tunnel routes them.
type TaskDefinition[I, O any] struct {
	IdValue      Id
	Meta         map[string]any
	TagList      []TagAttachment
	Dependencies Deps
	InputSchema  Validator[I]
	ResultSchema Validator[O]
	Throws       []Ref
	Middleware   []MiddlewareAttachment
	RunFn        func(input I, deps DependencySet) (O, error)
	Phantom      bool
}

func (t *TaskDefinition[I, O]) defId() Id                          { return t.IdValue }
func (t *TaskDefinition[I, O]) defKind() Kind                      { return KindTask }
func (t *TaskDefinition[I, O]) defMeta() map[string]any            { return t.Meta }
func (t *TaskDefinition[I, O]) defTagAttachments() []TagAttachment { return t.TagList }
func (t *TaskDefinition[I, O]) defDependencies() Deps              { return t.Dependencies }

// runAny is the erased entry point the TaskRunner dispatches through.
func (t *TaskDefinition[I, O]) runAny(input any, deps DependencySet) (any, error) {
	if t.RunFn == nil {
		return nil, PhantomTaskNotRouted.Throw(map[string]any{"taskId": t.IdValue})
	}
	typed, _ := input.(I)
	return t.RunFn(typed, deps)
}

func (t *TaskDefinition[I, O]) parseInput(raw any) (any, error) {
	if t.InputSchema == nil {
		return raw, nil
	}
	v, err := t.InputSchema.Parse(raw)
	if err != nil {
		return nil, Validation.New(map[string]any{"subject": "Task input", "targetId": t.IdValue, "cause": err}, err)
	}
	return v, nil
}

func (t *TaskDefinition[I, O]) parseResult(raw any) (any, error) {
	if t.ResultSchema == nil {
		return raw, nil
	}
	typed, _ := raw.(O)
	v, err := t.ResultSchema.Parse(typed)
	if err != nil {
		return nil, Validation.New(map[string]any{"subject": "Task result", "targetId": t.IdValue, "cause": err}, err)
	}
	return v, nil
}

// DefineTask (defineTask) is the identity constructor that returns the
// definition unmodified; it exists so call sites read declaratively,
// matching pumped-go's Provide/Derive constructors.
func DefineTask[I, O any](def TaskDefinition[I, O]) *TaskDefinition[I, O] {
	d := def
	return &d
}

// --- Resource ---

// ResourceDefinition is a lifecycle-managed value (spec.md §3).
type ResourceDefinition[C, T any] struct {
	IdValue                Id
	Meta                   map[string]any
	TagList                []TagAttachment
	ConfigSchema           Validator[C]
	Register               func(config C) []Item
	Dependencies           Deps
	ResourceMiddleware     []ResourceMiddlewareAttachment
	Exports                []Id
	DependencyAccessPolicy *AccessPolicy
	InitFn                 func(config C, deps DependencySet) (T, error)
	DisposeFn              func(value T, config C, deps DependencySet) error

	// Auto-generated per-resource events (spec.md §3 "events:
	// {beforeInit, afterInit, onError}"), populated by DefineResource and,
	// on a copy that has them cleared, by the store at registration.
	BeforeInit *EventDefinition[Id]
	AfterInit  *EventDefinition[Id]
	OnError    *EventDefinition[ResourceErrorPayload]
}

// ResourceErrorPayload is the onError event's payload shape.
type ResourceErrorPayload struct {
	ResourceId Id
	Err        error
}

// AccessPolicy restricts which ids/tags a resource's descendants may
// depend on, regardless of export visibility (spec.md §4.2).
type AccessPolicy struct {
	DenyIds  []Id
	DenyTags []Id
}

func (r *ResourceDefinition[C, T]) defId() Id                          { return r.IdValue }
func (r *ResourceDefinition[C, T]) defKind() Kind                      { return KindResource }
func (r *ResourceDefinition[C, T]) defMeta() map[string]any            { return r.Meta }
func (r *ResourceDefinition[C, T]) defTagAttachments() []TagAttachment { return r.TagList }
func (r *ResourceDefinition[C, T]) defDependencies() Deps              { return r.Dependencies }

func (r *ResourceDefinition[C, T]) ensureEvents() {
	if r.BeforeInit == nil {
		r.BeforeInit = DefineEvent[Id](EventDefinition[Id]{IdValue: r.IdValue + ".beforeInit"})
	}
	if r.AfterInit == nil {
		r.AfterInit = DefineEvent[Id](EventDefinition[Id]{IdValue: r.IdValue + ".afterInit"})
	}
	if r.OnError == nil {
		r.OnError = DefineEvent[ResourceErrorPayload](EventDefinition[ResourceErrorPayload]{IdValue: r.IdValue + ".onError"})
	}
}

func (r *ResourceDefinition[C, T]) registerAny(config any) []Item {
	if r.Register == nil {
		return nil
	}
	typed, _ := config.(C)
	return r.Register(typed)
}

func (r *ResourceDefinition[C, T]) parseConfig(raw any) (any, error) {
	if r.ConfigSchema == nil {
		return raw, nil
	}
	v, err := r.ConfigSchema.Parse(raw)
	if err != nil {
		return nil, Validation.New(map[string]any{"subject": "Resource config", "targetId": r.IdValue, "cause": err}, err)
	}
	return v, nil
}

func (r *ResourceDefinition[C, T]) initAny(config any, deps DependencySet) (any, error) {
	typed, _ := config.(C)
	return r.InitFn(typed, deps)
}

func (r *ResourceDefinition[C, T]) disposeAny(value any, config any, deps DependencySet) error {
	if r.DisposeFn == nil {
		return nil
	}
	typedVal, _ := value.(T)
	typedCfg, _ := config.(C)
	return r.DisposeFn(typedVal, typedCfg, deps)
}

// DefineResource (defineResource).
func DefineResource[C, T any](def ResourceDefinition[C, T]) *ResourceDefinition[C, T] {
	d := def
	d.ensureEvents()
	return &d
}

// WithConfig pairs a resource with a concrete config for registration
// inside another resource's Register list.
func (r *ResourceDefinition[C, T]) WithConfig(config C) ResourceWithConfig[C, T] {
	return ResourceWithConfig[C, T]{Resource: r, Config: config}
}

// --- Event ---

// EventDefinition is a typed fan-out channel (spec.md §3).
type EventDefinition[T any] struct {
	IdValue Id
	Meta    map[string]any
	TagList []TagAttachment
	Schema  Validator[T]
	Throws  []Ref
}

func (e *EventDefinition[T]) defId() Id                          { return e.IdValue }
func (e *EventDefinition[T]) defKind() Kind                       { return KindEvent }
func (e *EventDefinition[T]) defMeta() map[string]any             { return e.Meta }
func (e *EventDefinition[T]) defTagAttachments() []TagAttachment  { return e.TagList }
func (e *EventDefinition[T]) defDependencies() Deps               { return Deps{} }

// DefineEvent (defineEvent).
func DefineEvent[T any](def EventDefinition[T]) *EventDefinition[T] {
	d := def
	return &d
}

// --- Hook ---

// EventRef names an event a Hook subscribes to, or "*" for all events.
type EventRef struct {
	id  Id
	all bool
}

func OnEvent(def definition) EventRef { return EventRef{id: def.defId()} }

// OnAnyEvent subscribes a Hook to every emitted event.
func OnAnyEvent() EventRef { return EventRef{all: true} }

// HookDefinition listens to one or more events (spec.md §3).
type HookDefinition struct {
	IdValue      Id
	Meta         map[string]any
	TagList      []TagAttachment
	Dependencies Deps
	On           []EventRef
	Order        int
	Filter       func(emission IEventEmission) bool
	RunFn        func(emission IEventEmission, deps DependencySet) error
}

func (h *HookDefinition) defId() Id                          { return h.IdValue }
func (h *HookDefinition) defKind() Kind                       { return KindHook }
func (h *HookDefinition) defMeta() map[string]any             { return h.Meta }
func (h *HookDefinition) defTagAttachments() []TagAttachment  { return h.TagList }
func (h *HookDefinition) defDependencies() Deps               { return h.Dependencies }

func (h *HookDefinition) listensOn(eventId Id) bool {
	for _, ref := range h.On {
		if ref.all || ref.id == eventId {
			return true
		}
	}
	return false
}

// DefineHook (defineHook).
func DefineHook(def HookDefinition) *HookDefinition {
	d := def
	return &d
}

// --- Middleware ---

// TaskMiddlewareNext is called by a task middleware to invoke the next
// stage; passing a non-nil override replaces the input seen downstream.
type TaskMiddlewareNext func(overrideInput any) (any, error)

// TaskMiddlewareDefinition intercepts task invocation (spec.md §3).
type TaskMiddlewareDefinition struct {
	IdValue      Id
	Meta         map[string]any
	TagList      []TagAttachment
	ConfigSchema Validator[any]
	RunFn        func(task TaskMiddlewareTarget, next TaskMiddlewareNext, deps DependencySet) (any, error)
}

// TaskMiddlewareTarget describes the task being intercepted.
type TaskMiddlewareTarget struct {
	Id    Id
	Input any
}

func (m *TaskMiddlewareDefinition) defId() Id                          { return m.IdValue }
func (m *TaskMiddlewareDefinition) defKind() Kind                      { return KindTaskMiddleware }
func (m *TaskMiddlewareDefinition) defMeta() map[string]any            { return m.Meta }
func (m *TaskMiddlewareDefinition) defTagAttachments() []TagAttachment { return m.TagList }
func (m *TaskMiddlewareDefinition) defDependencies() Deps              { return Deps{} }

// DefineTaskMiddleware (defineMiddleware, task variant).
func DefineTaskMiddleware(def TaskMiddlewareDefinition) *TaskMiddlewareDefinition {
	d := def
	return &d
}

// MiddlewareAttachment records a middleware attached to a specific task.
type MiddlewareAttachment struct {
	Middleware *TaskMiddlewareDefinition
	Config     any
}

// ResourceMiddlewareNext invokes the next stage of resource init.
type ResourceMiddlewareNext func() (any, error)

// ResourceMiddlewareDefinition intercepts resource initialization.
type ResourceMiddlewareDefinition struct {
	IdValue      Id
	Meta         map[string]any
	TagList      []TagAttachment
	ConfigSchema Validator[any]
	RunFn        func(resourceId Id, next ResourceMiddlewareNext, deps DependencySet) (any, error)
}

func (m *ResourceMiddlewareDefinition) defId() Id                          { return m.IdValue }
func (m *ResourceMiddlewareDefinition) defKind() Kind                      { return KindResourceMiddleware }
func (m *ResourceMiddlewareDefinition) defMeta() map[string]any            { return m.Meta }
func (m *ResourceMiddlewareDefinition) defTagAttachments() []TagAttachment { return m.TagList }
func (m *ResourceMiddlewareDefinition) defDependencies() Deps              { return Deps{} }

// DefineResourceMiddleware (defineMiddleware, resource variant).
func DefineResourceMiddleware(def ResourceMiddlewareDefinition) *ResourceMiddlewareDefinition {
	d := def
	return &d
}

// ResourceMiddlewareAttachment records a middleware attached to a
// specific resource.
type ResourceMiddlewareAttachment struct {
	Middleware *ResourceMiddlewareDefinition
	Config     any
}

// --- AsyncContext ---

// AsyncContextDefinition binds a value to the logical invocation
// (spec.md §3, §4.7).
type AsyncContextDefinition[T any] struct {
	IdValue   Id
	Parse     func(raw string) (T, error)
	Serialize func(v T) (string, error)
}

func (a *AsyncContextDefinition[T]) defId() Id                          { return a.IdValue }
func (a *AsyncContextDefinition[T]) defKind() Kind                      { return KindAsyncContext }
func (a *AsyncContextDefinition[T]) defMeta() map[string]any            { return nil }
func (a *AsyncContextDefinition[T]) defTagAttachments() []TagAttachment { return nil }
func (a *AsyncContextDefinition[T]) defDependencies() Deps              { return Deps{} }

// DefineAsyncContext (defineAsyncContext).
func DefineAsyncContext[T any](id Id, parse func(string) (T, error), serialize func(T) (string, error)) *AsyncContextDefinition[T] {
	return &AsyncContextDefinition[T]{IdValue: id, Parse: parse, Serialize: serialize}
}

// --- ErrorHelper as a registerable unit ---

// errorDefinition wraps an ErrorHelper so it can be registered (and thus
// visibility-checked and discovered) like any other unit.
type errorDefinition struct {
	helper ErrorHelper
	tags   []TagAttachment
}

func (e *errorDefinition) defId() Id                          { return e.helper.id }
func (e *errorDefinition) defKind() Kind                       { return KindError }
func (e *errorDefinition) defMeta() map[string]any             { return nil }
func (e *errorDefinition) defTagAttachments() []TagAttachment  { return e.tags }
func (e *errorDefinition) defDependencies() Deps               { return Deps{} }

// DefineError registers a pre-built ErrorHelper as an Item so it
// participates in registration/visibility like other units.
func DefineError(helper ErrorHelper, tags ...TagAttachment) Item {
	return &errorDefinition{helper: helper, tags: tags}
}

// tagDefinition wraps a Tag so it can be registered as an Item (tags
// themselves are units per spec.md §3's unit list).
type tagDefinition[T any] struct {
	tag Tag[T]
}

func (t *tagDefinition[T]) defId() Id                          { return t.tag.id }
func (t *tagDefinition[T]) defKind() Kind                       { return KindTag }
func (t *tagDefinition[T]) defMeta() map[string]any             { return nil }
func (t *tagDefinition[T]) defTagAttachments() []TagAttachment  { return nil }
func (t *tagDefinition[T]) defDependencies() Deps               { return Deps{} }

// RegisterTag wraps a Tag as a registerable Item.
func RegisterTag[T any](tag Tag[T]) Item { return &tagDefinition[T]{tag: tag} }

// --- Override & Fork ---

// Override (override(def, patch)) returns patch(original), a definition
// sharing original's id. Override registers nothing itself and
// finalizeRegistration has no override step: the patched definition
// takes the original's place only where it is passed in
// CreateTestResource's TestOptions.Overrides.
func Override[D definition](original D, patch func(D) D) D {
	return patch(original)
}

func fmtId(prefix, id Id) Id {
	return fmt.Sprintf("%s.%s", prefix, id)
}
