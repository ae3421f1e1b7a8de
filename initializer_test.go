package runner

import "testing"

func TestResourceMiddlewareSeesRealDependencySet(t *testing.T) {
	base := DefineResource(ResourceDefinition[any, string]{
		IdValue: "base",
		InitFn:  func(any, DependencySet) (string, error) { return "base-value", nil },
	})

	var seenDeps DependencySet
	mw := DefineResourceMiddleware(ResourceMiddlewareDefinition{
		IdValue: "mw.resource",
		RunFn: func(resourceId Id, next ResourceMiddlewareNext, deps DependencySet) (any, error) {
			seenDeps = deps
			return next()
		},
	})

	dependent := DefineResource(ResourceDefinition[any, string]{
		IdValue:            "dependent",
		Dependencies:       StaticDeps(map[string]Ref{"base": refOf(base)}),
		ResourceMiddleware: []ResourceMiddlewareAttachment{{Middleware: mw}},
		InitFn: func(cfg any, deps DependencySet) (string, error) {
			return "dependent-value", nil
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{base, mw, dependent}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	if _, err := Run(root, nil, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if seenDeps == nil {
		t.Fatal("expected resource middleware to observe a non-nil DependencySet")
	}
	if seenDeps["base"] != "base-value" {
		t.Fatalf("expected resource middleware to see the real 'base' dependency, got %v", seenDeps["base"])
	}
}

func TestResourceMiddlewareCanShortCircuitInit(t *testing.T) {
	blocked := DefineResourceMiddleware(ResourceMiddlewareDefinition{
		IdValue: "mw.block",
		RunFn: func(resourceId Id, next ResourceMiddlewareNext, deps DependencySet) (any, error) {
			return "overridden", nil
		},
	})

	res := DefineResource(ResourceDefinition[any, string]{
		IdValue:            "res",
		ResourceMiddleware: []ResourceMiddlewareAttachment{{Middleware: blocked}},
		InitFn: func(any, DependencySet) (string, error) {
			t.Fatal("InitFn should not run when middleware short-circuits")
			return "", nil
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{blocked, res}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	rr, err := Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	value, err := GetResourceValue(rr, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "overridden" {
		t.Fatalf("expected the middleware's override to win, got %v", value)
	}
}
