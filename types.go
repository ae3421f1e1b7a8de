package runner

// Id is the unique string identifier of any registered unit.
type Id = string

// Kind tags the variant of a Definition.
type Kind int

const (
	KindTask Kind = iota
	KindResource
	KindEvent
	KindHook
	KindTaskMiddleware
	KindResourceMiddleware
	KindTag
	KindError
	KindAsyncContext
)

func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindResource:
		return "resource"
	case KindEvent:
		return "event"
	case KindHook:
		return "hook"
	case KindTaskMiddleware:
		return "task_middleware"
	case KindResourceMiddleware:
		return "resource_middleware"
	case KindTag:
		return "tag"
	case KindError:
		return "error"
	case KindAsyncContext:
		return "async_context"
	default:
		return "unknown"
	}
}

// definition is the type-erased shape every registerable unit satisfies.
// Concrete generic wrappers (TaskDefinition[I,O], ResourceDefinition[C,T], ...)
// implement it the same way pumped-go's Executor[T] implements AnyExecutor.
type definition interface {
	defId() Id
	defKind() Kind
	defMeta() map[string]any
	defTagAttachments() []TagAttachment
	defDependencies() Deps
}

// Ref names a dependency target. It is produced by referencing a
// definition directly (task, resource, event, middleware, tag, error or
// async context) when building a Deps map.
type Ref struct {
	id     Id
	target definition
}

func refOf(d definition) Ref {
	return Ref{id: d.defId(), target: d}
}

func (r Ref) Id() Id { return r.id }

// Deps is a resource or task's declared dependency set: either a static
// map or a factory that is resolved once the owning resource's config is
// known (spec.md §3, §4.1 finalizeRegistration).
type Deps struct {
	static  map[string]Ref
	factory func(config any) map[string]Ref
	// override marks array-valued merges that replace rather than append;
	// unused for the map form but kept for forked/overridden defs that
	// carry the {override:true} merge hint (design notes §9).
	override bool
}

// StaticDeps declares a fixed dependency map.
func StaticDeps(m map[string]Ref) Deps {
	return Deps{static: m}
}

// FactoryDeps declares a dependency map computed from the owning
// resource's config.
func FactoryDeps(f func(config any) map[string]Ref) Deps {
	return Deps{factory: f}
}

func (d Deps) isZero() bool {
	return d.static == nil && d.factory == nil
}

func (d Deps) resolve(config any) map[string]Ref {
	if d.factory != nil {
		return d.factory(config)
	}
	return d.static
}

// mergeDeps implements the inheritance/merge semantics from
// finalizeRegistration: keys in override win over base, unless
// override.override is requested for array-shaped values (not
// representable here since Deps is a map; kept for symmetry with spec).
func mergeDeps(base, override Deps) Deps {
	if base.isZero() {
		return override
	}
	if override.isZero() {
		return base
	}
	return FactoryDeps(func(config any) map[string]Ref {
		merged := map[string]Ref{}
		for k, v := range base.resolve(config) {
			merged[k] = v
		}
		for k, v := range override.resolve(config) {
			merged[k] = v
		}
		return merged
	})
}

// DependencySet is the resolved value map handed to Task.Run,
// Resource.Init/Dispose, Hook.Run and Middleware.Run callbacks.
type DependencySet map[string]any

// Dep retrieves a typed dependency value by key, the zero value if
// absent or of the wrong type.
func Dep[T any](ds DependencySet, key string) T {
	v, _ := ds[key].(T)
	return v
}

// Item is anything that can appear in a Resource's Register list: a
// Task, Resource, Event, Hook, Middleware, Tag, ErrorHelper,
// AsyncContext, or a ResourceWithConfig pairing.
type Item interface{}

// ResourceWithConfig pairs a resource with the config it should be
// registered with, for the common "register a parameterised child
// resource" case.
type ResourceWithConfig[C any, T any] struct {
	Resource *ResourceDefinition[C, T]
	Config   C
}

// Validator is the opaque `parse(x)` callable spec.md §1 treats schema
// validation integrations as. A nil Validator skips validation.
type Validator[T any] interface {
	Parse(input any) (T, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc[T any] func(input any) (T, error)

func (f ValidatorFunc[T]) Parse(input any) (T, error) { return f(input) }
