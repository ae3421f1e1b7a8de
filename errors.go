package runner

import (
	"fmt"
)

// ErrorHelper is the typed-error factory described in spec.md §3/§7: a
// format(data), optional remediation(data), is(e) and throw(data)
// (here New, which constructs rather than panics — Go propagates errors
// by value, not by throwing). Grounded on pumped-go's ResolveError /
// CleanupError (errors.go), generalised into a named registry instead of
// one struct per concern, since the spec describes every framework error
// as the same shape with different ids.
type ErrorHelper struct {
	id          Id
	format      func(data map[string]any) string
	remediation func(data map[string]any) string
}

// RuntimeError is the concrete error value every ErrorHelper produces.
type RuntimeError struct {
	HelperId    Id
	Fields      map[string]any
	remediation string
	cause       error
}

func (e *RuntimeError) Error() string {
	msg := e.Fields["__message"].(string)
	if e.remediation != "" {
		return fmt.Sprintf("%s (%s)", msg, e.remediation)
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.cause }

// Id reports which ErrorHelper produced this error.
func (e *RuntimeError) Id() Id { return e.HelperId }

func defineError(id Id, format func(map[string]any) string, remediation func(map[string]any) string) ErrorHelper {
	return ErrorHelper{id: id, format: format, remediation: remediation}
}

func (h ErrorHelper) Id() Id { return h.id }

// New constructs a RuntimeError carrying data and an optional cause.
func (h ErrorHelper) New(data map[string]any, cause error) *RuntimeError {
	if data == nil {
		data = map[string]any{}
	}
	msg := h.format(data)
	data["__message"] = msg
	remediation := ""
	if h.remediation != nil {
		remediation = h.remediation(data)
	}
	return &RuntimeError{HelperId: h.id, Fields: data, remediation: remediation, cause: cause}
}

// Throw constructs and returns the error (callers `return h.Throw(...)`
// where the TS original would `throw`).
func (h ErrorHelper) Throw(data map[string]any) error { return h.New(data, nil) }

// Is reports whether err (or something it wraps) was produced by h.
func (h ErrorHelper) Is(err error) bool {
	var re *RuntimeError
	for err != nil {
		if r, ok := err.(*RuntimeError); ok {
			re = r
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return re != nil && re.HelperId == h.id
}

// --- Registration ---

var (
	DuplicateRegistration = defineError("runner.duplicateRegistration",
		func(d map[string]any) string {
			return fmt.Sprintf("duplicate registration of %s %q", d["kind"], d["id"])
		},
		func(d map[string]any) string { return "ids must be unique across the store; fork() it instead" },
	)
	UnknownItemType = defineError("runner.unknownItemType",
		func(d map[string]any) string { return fmt.Sprintf("unknown item type registered under %q", d["owner"]) },
		nil,
	)
	DependencyNotFound = defineError("runner.dependencyNotFound",
		func(d map[string]any) string { return fmt.Sprintf("dependency %q of %q not found", d["target"], d["consumer"]) },
		nil,
	)
	ResourceNotFoundError = defineError("runner.resourceNotFound",
		func(d map[string]any) string { return fmt.Sprintf("resource %q not found", d["id"]) },
		nil,
	)
	TaskNotFoundError = defineError("runner.taskNotFound",
		func(d map[string]any) string { return fmt.Sprintf("task %q not found", d["id"]) },
		nil,
	)
	EventNotFoundError = defineError("runner.eventNotFound",
		func(d map[string]any) string { return fmt.Sprintf("event %q not found", d["id"]) },
		nil,
	)
	TagNotFoundError = defineError("runner.tagNotFound",
		func(d map[string]any) string { return fmt.Sprintf("tag %q not found", d["id"]) },
		nil,
	)
	MiddlewareNotRegistered = defineError("runner.middlewareNotRegistered",
		func(d map[string]any) string { return fmt.Sprintf("middleware %q not registered", d["id"]) },
		nil,
	)
)

// --- Graph ---

var (
	CircularDependencies = defineError("runner.circularDependencies",
		func(d map[string]any) string { return fmt.Sprintf("circular dependency: %v", d["path"]) },
		func(d map[string]any) string {
			if mw, _ := d["middleware"].(bool); mw {
				return "one member of the cycle is a middleware; middleware may not depend (even transitively) on its own host"
			}
			return "break the cycle by removing one of the listed dependency edges"
		},
	)
	EventEmissionCycle = defineError("runner.eventEmissionCycle",
		func(d map[string]any) string { return fmt.Sprintf("event emission cycle at registration time: %v", d["path"]) },
		nil,
	)
	EventCycleError = defineError("runner.eventCycle",
		func(d map[string]any) string { return fmt.Sprintf("hook re-emitted an event already on the emission path: %v", d["path"]) },
		nil,
	)
)

// --- Visibility ---

var (
	VisibilityViolation = defineError("runner.visibilityViolation",
		func(d map[string]any) string {
			return fmt.Sprintf("%q is not visible to %q (export set: %v)", d["target"], d["consumer"], d["exportSet"])
		},
		func(d map[string]any) string { return fmt.Sprintf("add %q to %v's .exports([...]) list", d["target"], d["owner"]) },
	)
	DependencyAccessPolicyViolation = defineError("runner.dependencyAccessPolicyViolation",
		func(d map[string]any) string {
			return fmt.Sprintf("%q denies %q access to %q", d["policyOwner"], d["consumer"], d["target"])
		},
		nil,
	)
)

// --- Validation ---

var Validation = defineError("runner.validation",
	func(d map[string]any) string { return fmt.Sprintf("%s validation failed for %q: %v", d["subject"], d["targetId"], d["cause"]) },
	func(d map[string]any) string {
		switch d["subject"] {
		case "Task input":
			return "check the task's .inputSchema()"
		case "Task result":
			return "check the task's .resultSchema()"
		case "Resource config":
			return "check the resource's .configSchema()"
		case "Event payload":
			return "check the event's .schema()"
		case "Middleware config":
			return "check the middleware's .configSchema()"
		default:
			return "check the relevant .schema()"
		}
	},
)

// --- Lifecycle ---

var (
	StoreAlreadyInitialized = defineError("runner.storeAlreadyInitialized",
		func(d map[string]any) string { return "store has already been initialized" }, nil)
	Locked = defineError("runner.locked",
		func(d map[string]any) string { return fmt.Sprintf("store is locked: %s", d["reason"]) }, nil)
	ParallelInitScheduling = defineError("runner.parallelInitScheduling",
		func(d map[string]any) string { return "a dependent resource was scheduled before its ancestors finished initializing" }, nil)
	JournalDuplicateKey = defineError("runner.journalDuplicateKey",
		func(d map[string]any) string { return fmt.Sprintf("duplicate journal key %q", d["key"]) }, nil)
)

// --- Concurrency ---

var (
	CancellationErr = defineError("runner.cancellation",
		func(d map[string]any) string { return "operation was cancelled" }, nil)
	QueueDisposedErr = defineError("runner.queueDisposed",
		func(d map[string]any) string { return "queue has been disposed" }, nil)
	QueueDeadlockErr = defineError("runner.queueDeadlock",
		func(d map[string]any) string { return "queue deadlock: in-flight job is waiting on a job enqueued behind it" }, nil)
	SemaphoreInvalidPermits = defineError("runner.semaphoreInvalidPermits",
		func(d map[string]any) string { return fmt.Sprintf("semaphore permits must be >= 1, got %v", d["permits"]) }, nil)
	SemaphoreNonIntegerPermits = defineError("runner.semaphoreNonIntegerPermits",
		func(d map[string]any) string { return fmt.Sprintf("semaphore permits must be an integer, got %v", d["permits"]) }, nil)
	SemaphoreDisposedErr = defineError("runner.semaphoreDisposed",
		func(d map[string]any) string { return "semaphore has been disposed" }, nil)
	SemaphoreAcquireTimeout = defineError("runner.semaphoreAcquireTimeout",
		func(d map[string]any) string { return "semaphore acquire timed out" }, nil)
)

// --- Platform ---

var (
	PlatformUnsupportedFunction = defineError("runner.platformUnsupportedFunction",
		func(d map[string]any) string { return fmt.Sprintf("platform does not support %q", d["function"]) }, nil)
	PlatformUnreachable = defineError("runner.platformUnreachable",
		func(d map[string]any) string { return "platform abstraction unreachable" }, nil)
	TaskRunnerNotSet = defineError("runner.taskRunnerNotSet",
		func(d map[string]any) string { return "no TaskRunner bound to this store" }, nil)
	TaskCancelled = defineError("runner.taskCancelled",
		func(d map[string]any) string {
			return fmt.Sprintf("task %q cancelled before it returned: %v", d["taskId"], d["cause"])
		}, nil)
)

// --- Tunnel / HTTP ---

var (
	PhantomTaskNotRouted = defineError("runner.phantomTaskNotRouted",
		func(d map[string]any) string { return fmt.Sprintf("phantom task %q has no routing tunnel", d["taskId"]) }, nil)
	HttpBaseUrlRequired = defineError("runner.httpBaseUrlRequired",
		func(d map[string]any) string { return "HTTP client requires a base URL" }, nil)
	HttpContextSerialization = defineError("runner.httpContextSerialization",
		func(d map[string]any) string { return fmt.Sprintf("failed to serialize async context %q: %v", d["contextId"], d["cause"]) }, nil)
)

// TunnelError is the wire-level error carried in a ProtocolEnvelope and
// re-thrown by clients (spec.md §4.9, §7). It is a distinct concrete
// type (not a RuntimeError) because it crosses process boundaries.
type TunnelError struct {
	Code     string
	Message  string
	ErrId    string
	Data     any
	HttpCode int
}

func (e *TunnelError) Error() string {
	return fmt.Sprintf("tunnel error %s: %s", e.Code, e.Message)
}

const (
	CodeHttpError        = "HTTP_ERROR"
	CodeRequestTimeout   = "REQUEST_TIMEOUT"
	CodeInvalidResponse  = "INVALID_RESPONSE"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeForbidden        = "FORBIDDEN"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeInvalidMultipart = "INVALID_MULTIPART"
	CodeMissingManifest  = "MISSING_MANIFEST"
	CodeMissingFilePart  = "MISSING_FILE_PART"
	CodeRequestAborted   = "REQUEST_ABORTED"
)

// AggregateError collects multiple failures from disposal or parallel
// initialization, mirroring pumped-go's fail-independently semantics in
// scope.go's Dispose/runCleanups.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("%d error(s) occurred: %v", len(e.Errors), e.Errors)
}

func normalizeThrown(v any) error {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}
