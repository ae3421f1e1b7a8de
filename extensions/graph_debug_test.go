package extensions

import (
	"errors"
	"testing"

	runner "github.com/module-dev/runner"
)

func TestGraphDebugLoggerRendersFailure(t *testing.T) {
	child := runner.DefineResource(runner.ResourceDefinition[any, any]{
		IdValue: "child",
		InitFn:  func(cfg any, deps runner.DependencySet) (any, error) { return "ok", nil },
	})

	root := runner.DefineResource(runner.ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []runner.Item {
			return []runner.Item{child}
		},
		InitFn: func(cfg any, deps runner.DependencySet) (any, error) { return nil, nil },
	})

	rr, err := runner.Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	g := NewGraphDebugLogger(NewSilentHandler())
	// Exercises the rendering path without asserting on exact text; a
	// panic here would mean the graph/tree plumbing is broken.
	g.LogResolutionError(rr.Store(), "child", errors.New("simulated failure"))
}
