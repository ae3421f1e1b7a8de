package runner

import "testing"

func TestBuildStoreRegistersChildrenAndComputesDeps(t *testing.T) {
	leaf := DefineResource(ResourceDefinition[any, string]{
		IdValue: "leaf",
		InitFn:  func(cfg any, deps DependencySet) (string, error) { return "leaf-value", nil },
	})

	task := DefineTask(TaskDefinition[any, any]{
		IdValue:      "t.read",
		Dependencies: StaticDeps(map[string]Ref{"leaf": refOf(leaf)}),
		RunFn: func(input any, deps DependencySet) (any, error) {
			return deps["leaf"], nil
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{leaf, task}
		},
	})

	store, err := buildStore(root, nil)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	if _, ok := store.resources["leaf"]; !ok {
		t.Fatal("expected leaf resource to be registered")
	}
	if _, ok := store.tasks["t.read"]; !ok {
		t.Fatal("expected t.read task to be registered")
	}
	taskEntry := store.tasks["t.read"]
	if ref, ok := taskEntry.deps["leaf"]; !ok || ref.id != "leaf" {
		t.Fatalf("expected t.read to depend on leaf, got %v", taskEntry.deps)
	}
}

func TestBuildStoreRejectsDuplicateIds(t *testing.T) {
	a := DefineTask(TaskDefinition[any, any]{IdValue: "dup"})
	b := DefineTask(TaskDefinition[any, any]{IdValue: "dup"})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{a, b}
		},
	})

	_, err := buildStore(root, nil)
	if err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if !DuplicateRegistration.Is(err) {
		t.Fatalf("expected DuplicateRegistration, got %v", err)
	}
}

func TestBuildStoreRejectsUnresolvedDependency(t *testing.T) {
	task := DefineTask(TaskDefinition[any, any]{
		IdValue:      "t.orphan",
		Dependencies: StaticDeps(map[string]Ref{"ghost": {id: "does.not.exist"}}),
	})
	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{task}
		},
	})

	_, err := buildStore(root, nil)
	if err == nil {
		t.Fatal("expected dependency-not-found error")
	}
	if !DependencyNotFound.Is(err) {
		t.Fatalf("expected DependencyNotFound, got %v", err)
	}
}

func TestFinalizeRegistrationMergesFactoryDepsWithOwnerConfig(t *testing.T) {
	type cfg struct{ Name string }

	leaf := DefineResource(ResourceDefinition[any, string]{
		IdValue: "leaf",
		InitFn:  func(any, DependencySet) (string, error) { return "v", nil },
	})

	child := DefineResource(ResourceDefinition[cfg, any]{
		IdValue: "child",
		Dependencies: FactoryDeps(func(c any) map[string]Ref {
			return map[string]Ref{"leaf": refOf(leaf)}
		}),
		InitFn: func(c cfg, deps DependencySet) (any, error) { return c.Name, nil },
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{leaf, child.WithConfig(cfg{Name: "hi"})}
		},
	})

	store, err := buildStore(root, nil)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	entry := store.resources["child"]
	if _, ok := entry.deps["leaf"]; !ok {
		t.Fatalf("expected child's factory deps to resolve leaf, got %v", entry.deps)
	}
}

func TestAllResourcesAndAllHooks(t *testing.T) {
	res := DefineResource(ResourceDefinition[any, any]{IdValue: "r"})
	hook := DefineHook(HookDefinition{IdValue: "h", On: []EventRef{OnAnyEvent()}})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{res, hook}
		},
	})

	store, err := buildStore(root, nil)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	if _, ok := store.AllResources()["r"]; !ok {
		t.Fatal("expected AllResources to include r")
	}
	if _, ok := store.AllHooks()["h"]; !ok {
		t.Fatal("expected AllHooks to include h")
	}
}
