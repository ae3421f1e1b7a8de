package client

import (
	"context"
	"io"

	runner "github.com/module-dev/runner"
	"github.com/module-dev/runner/tunnel"
)

// PlainClient is the bare JSON-only counterpart to SmartClient: it never
// inspects input for streams or file sentinels, and always POSTs plain
// JSON (spec.md §4.9b "a fetch-based JSON client"). It shares
// SmartClient's transport plumbing (auth header, envelope parsing,
// typed-error rethrow) since the wire shape is identical.
type PlainClient struct {
	smart *SmartClient
}

// NewPlainClient constructs a JSON-only client bound to the same
// Config shape as NewSmartClient.
func NewPlainClient(cfg Config) (*PlainClient, error) {
	smart, err := NewSmartClient(cfg)
	if err != nil {
		return nil, err
	}
	return &PlainClient{smart: smart}, nil
}

// Task always POSTs input as plain JSON, regardless of its shape.
func (c *PlainClient) Task(ctx context.Context, id runner.Id, input any) (any, error) {
	return c.smart.postJSON(ctx, "task", id, tunnel.TaskRequest{Input: input})
}

func (c *PlainClient) Event(ctx context.Context, id runner.Id, payload any) error {
	return c.smart.Event(ctx, id, payload)
}

func (c *PlainClient) EventWithResult(ctx context.Context, id runner.Id, payload any) (any, error) {
	return c.smart.EventWithResult(ctx, id, payload)
}

// ForceSmartPredicate decides, for a given task id and input, whether a
// MixedClient should route through the smart client even though input
// looks plain — used when the server may *return* a stream for that id
// (spec.md §4.9b "use when the server returns a stream").
type ForceSmartPredicate func(id runner.Id, input any) bool

// MixedClientConfig configures a MixedClient.
type MixedClientConfig struct {
	Config
	// ForceSmart routes every task through the smart client
	// regardless of input shape.
	ForceSmart bool
	// ForceSmartIds routes the named ids through the smart client even
	// for plain input (spec.md §4.9b "forceSmart: bool | predicate").
	ForceSmartIds ForceSmartPredicate
}

// MixedClient composes a SmartClient and a PlainClient, routing
// stream-or-file inputs (or ids matching ForceSmart/ForceSmartIds)
// through the smart client and everything else through the plain JSON
// client (spec.md §4.9b "Mixed client").
type MixedClient struct {
	cfg   MixedClientConfig
	smart *SmartClient
	plain *PlainClient
}

// NewMixedClient builds a MixedClient sharing one Config across both
// its smart and plain transports.
func NewMixedClient(cfg MixedClientConfig) (*MixedClient, error) {
	smart, err := NewSmartClient(cfg.Config)
	if err != nil {
		return nil, err
	}
	plain, err := NewPlainClient(cfg.Config)
	if err != nil {
		return nil, err
	}
	return &MixedClient{cfg: cfg, smart: smart, plain: plain}, nil
}

// Task routes to the smart client when input is a stream, contains
// file sentinels, ForceSmart is set, or ForceSmartIds(id, input)
// returns true; otherwise routes to the plain JSON client.
func (c *MixedClient) Task(ctx context.Context, id runner.Id, input any) (any, error) {
	if c.needsSmart(id, input) {
		return c.smart.Task(ctx, id, input)
	}
	return c.plain.Task(ctx, id, input)
}

func (c *MixedClient) needsSmart(id runner.Id, input any) bool {
	if c.cfg.ForceSmart {
		return true
	}
	if c.cfg.ForceSmartIds != nil && c.cfg.ForceSmartIds(id, input) {
		return true
	}
	if _, ok := input.(io.Reader); ok {
		return true
	}
	_, files := extractFileSentinels(input)
	return len(files) > 0
}

// Event always POSTs JSON; there is no stream/multipart event path.
func (c *MixedClient) Event(ctx context.Context, id runner.Id, payload any) error {
	return c.smart.Event(ctx, id, payload)
}

func (c *MixedClient) EventWithResult(ctx context.Context, id runner.Id, payload any) (any, error) {
	return c.smart.EventWithResult(ctx, id, payload)
}
