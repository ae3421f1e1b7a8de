package runner

// Tag is a typed, named attachment point. `with(config)` (here `With`)
// produces a TagAttachment recorded on a definition; attachments are
// matched by tag id at composition time. Grounded on pumped-go's
// Tag[T] (pumped-go/tag.go), generalised from executor metadata to
// definition-level tag attachments with configuration payloads.
type Tag[T any] struct {
	id Id
}

// NewTag (DefineTag) creates a tag identified by id.
func NewTag[T any](id Id) Tag[T] {
	return Tag[T]{id: id}
}

func (t Tag[T]) Id() Id { return t.id }

// With produces a TagAttachment carrying a typed config payload.
func (t Tag[T]) With(config T) TagAttachment {
	return TagAttachment{tagId: t.id, config: config}
}

// TagAttachment is the erased `{ tag, config }` pair recorded on a
// definition's Tags list.
type TagAttachment struct {
	tagId  Id
	config any
}

func (a TagAttachment) TagId() Id { return a.tagId }

// ConfigOf returns the typed config carried by a TagAttachment matching
// tag t, or the zero value plus false if it doesn't match or doesn't
// type-assert.
func ConfigOf[T any](t Tag[T], attachments []TagAttachment) (T, bool) {
	for _, a := range attachments {
		if a.tagId == t.id {
			if cfg, ok := a.config.(T); ok {
				return cfg, true
			}
		}
	}
	var zero T
	return zero, false
}

// HasTag reports whether attachments contains tag id.
func HasTag(id Id, attachments []TagAttachment) bool {
	for _, a := range attachments {
		if a.tagId == id {
			return true
		}
	}
	return false
}

// Built-in tags used by the core (spec.md §6 "globals.tags.tunnel" and
// the tunnel runner mode).
var (
	// TunnelTag marks a resource as a tunnel: its value must implement
	// TunnelRunner. Exposure and the smart/mixed clients discover
	// tunnels by scanning for this tag.
	TunnelTag = NewTag[TunnelTagConfig]("globals.tags.tunnel")
)

// TunnelTagConfig is the With(...) payload for TunnelTag.
type TunnelTagConfig struct {
	Mode   TunnelMode
	Tasks  []Id
	Events []Id
}

// TunnelMode distinguishes a tunnel acting as the in-process server side
// (routes phantom tasks to a handler) from one acting as a remote client.
type TunnelMode string

const (
	TunnelModeServer TunnelMode = "server"
	TunnelModeClient TunnelMode = "client"
)

// TunnelRunner is the interface a tunnel resource's value must satisfy;
// the HTTP exposure server and SmartClient both produce values
// satisfying it (spec.md §4.5 step 1, §4.9).
type TunnelRunner interface {
	RunTunnel(taskId Id, input any) (any, error)
}
