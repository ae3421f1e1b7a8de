package runner

import "testing"

func TestRunInitializesResourcesInDependencyOrder(t *testing.T) {
	var initOrder []Id

	base := DefineResource(ResourceDefinition[any, string]{
		IdValue: "base",
		InitFn: func(any, DependencySet) (string, error) {
			initOrder = append(initOrder, "base")
			return "base-value", nil
		},
	})
	dependent := DefineResource(ResourceDefinition[any, string]{
		IdValue:      "dependent",
		Dependencies: StaticDeps(map[string]Ref{"base": refOf(base)}),
		InitFn: func(any, DependencySet) (string, error) {
			initOrder = append(initOrder, "dependent")
			return "dependent-value", nil
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{base, dependent}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	rr, err := Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(initOrder) != 2 || initOrder[0] != "base" || initOrder[1] != "dependent" {
		t.Fatalf("expected base before dependent, got %v", initOrder)
	}

	value, err := GetResourceValue(rr, dependent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "dependent-value" {
		t.Fatalf("expected dependent-value, got %v", value)
	}
}

func TestDisposeRunsInReverseOrderAndAggregatesFailures(t *testing.T) {
	var disposeOrder []Id

	first := DefineResource(ResourceDefinition[any, string]{
		IdValue: "first",
		InitFn:  func(any, DependencySet) (string, error) { return "first", nil },
		DisposeFn: func(value string, cfg any, deps DependencySet) error {
			disposeOrder = append(disposeOrder, "first")
			return errFirstDispose
		},
	})
	second := DefineResource(ResourceDefinition[any, string]{
		IdValue:      "second",
		Dependencies: StaticDeps(map[string]Ref{"first": refOf(first)}),
		InitFn:       func(any, DependencySet) (string, error) { return "second", nil },
		DisposeFn: func(value string, cfg any, deps DependencySet) error {
			disposeOrder = append(disposeOrder, "second")
			return nil
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{first, second}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	rr, err := Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	err = rr.Dispose()
	if err == nil {
		t.Fatal("expected Dispose to aggregate the failing disposer's error")
	}
	if _, ok := err.(*AggregateError); !ok {
		t.Fatalf("expected AggregateError, got %T", err)
	}
	if len(disposeOrder) != 2 || disposeOrder[0] != "second" || disposeOrder[1] != "first" {
		t.Fatalf("expected reverse init order (second, first), got %v", disposeOrder)
	}
}

var errFirstDispose = &RuntimeError{HelperId: "test.disposeFailure", Fields: map[string]any{"__message": "dispose failed"}}

func TestAssertTaskRoutedFailsOnNilValue(t *testing.T) {
	if err := AssertTaskRouted(nil, "t.phantom"); err == nil {
		t.Fatal("expected AssertTaskRouted to fail on a nil value")
	} else if !PhantomTaskNotRouted.Is(err) {
		t.Fatalf("expected PhantomTaskNotRouted, got %v", err)
	}
	if err := AssertTaskRouted("ok", "t.phantom"); err != nil {
		t.Fatalf("expected AssertTaskRouted to pass on a non-nil value, got %v", err)
	}
}

func TestCreateTestResourceSubstitutesOverrides(t *testing.T) {
	real := DefineResource(ResourceDefinition[any, string]{
		IdValue: "dep",
		InitFn:  func(any, DependencySet) (string, error) { return "real", nil },
	})
	fake := DefineResource(ResourceDefinition[any, string]{
		IdValue: "dep",
		InitFn:  func(any, DependencySet) (string, error) { return "fake", nil },
	})

	task := DefineTask(TaskDefinition[any, any]{
		IdValue:      "t.read",
		Dependencies: StaticDeps(map[string]Ref{"dep": refOf(real)}),
		RunFn: func(input any, deps DependencySet) (any, error) {
			return deps["dep"], nil
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{real, task}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	testRoot := CreateTestResource(root, TestOptions{Overrides: []definition{fake}})

	rr, err := Run(testRoot, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	result, err := rr.RunTaskById("t.read", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "fake" {
		t.Fatalf("expected the override resource's value, got %v", result)
	}
}

func TestForkDeepRemapsChildIds(t *testing.T) {
	child := DefineResource(ResourceDefinition[any, string]{
		IdValue: "child",
		InitFn:  func(any, DependencySet) (string, error) { return "child-value", nil },
	})
	original := DefineResource(ResourceDefinition[any, any]{
		IdValue: "app",
		Register: func(any) []Item {
			return []Item{child}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	forked := original.Fork("app2", ForkOptions{
		Deep: true,
		ReId: func(old Id) Id {
			if old == "child" {
				return "child2"
			}
			return old
		},
	})

	rr, err := Run(forked, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, ok := rr.store.resources["child2"]; !ok {
		t.Fatalf("expected forked child to be remapped to child2, got %v", rr.store.resources)
	}
	if _, ok := rr.store.resources["child"]; ok {
		t.Fatal("expected the original child id not to appear under the forked resource")
	}
}
