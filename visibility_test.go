package runner

import "testing"

func TestValidateVisibilityAllowsDependencyWithinSameSubtree(t *testing.T) {
	secret := DefineResource(ResourceDefinition[any, any]{IdValue: "secret"})
	consumer := DefineTask(TaskDefinition[any, any]{
		IdValue:      "consumer",
		Dependencies: StaticDeps(map[string]Ref{"secret": refOf(secret)}),
	})

	child := DefineResource(ResourceDefinition[any, any]{
		IdValue: "child",
		Register: func(any) []Item {
			return []Item{secret, consumer}
		},
	})
	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{child}
		},
	})

	store, err := buildStore(root, nil)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	if err := store.validateVisibility(); err != nil {
		t.Fatalf("expected same-subtree dependency to be visible, got %v", err)
	}
}

func TestValidateVisibilityAllowsCrossSubtreeDependencyByDefault(t *testing.T) {
	// Export restrictions gate a resource's visibility outward from its
	// own container; they do not wall it off from the rest of the store
	// once a shared ancestor (ultimately the root) is reached. An empty
	// Exports list on an intermediate container does not make its
	// children invisible to the rest of the tree.
	secret := DefineResource(ResourceDefinition[any, any]{IdValue: "secret"})
	siblingContainer := DefineResource(ResourceDefinition[any, any]{
		IdValue: "siblingContainer",
		Register: func(any) []Item {
			return []Item{secret}
		},
		Exports: []Id{},
	})

	consumer := DefineTask(TaskDefinition[any, any]{
		IdValue:      "consumer",
		Dependencies: StaticDeps(map[string]Ref{"secret": refOf(secret)}),
	})
	consumerContainer := DefineResource(ResourceDefinition[any, any]{
		IdValue: "consumerContainer",
		Register: func(any) []Item {
			return []Item{consumer}
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{siblingContainer, consumerContainer}
		},
	})

	store, err := buildStore(root, nil)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	if err := store.validateVisibility(); err != nil {
		t.Fatalf("expected cross-subtree dependency sharing a root ancestor to be visible, got %v", err)
	}
}

func TestValidateVisibilityAllowsExportedSibling(t *testing.T) {
	secret := DefineResource(ResourceDefinition[any, any]{IdValue: "secret"})
	siblingContainer := DefineResource(ResourceDefinition[any, any]{
		IdValue: "siblingContainer",
		Register: func(any) []Item {
			return []Item{secret}
		},
		Exports: []Id{"secret"},
	})

	consumer := DefineTask(TaskDefinition[any, any]{
		IdValue:      "consumer",
		Dependencies: StaticDeps(map[string]Ref{"secret": refOf(secret)}),
	})
	consumerContainer := DefineResource(ResourceDefinition[any, any]{
		IdValue: "consumerContainer",
		Register: func(any) []Item {
			return []Item{consumer}
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{siblingContainer, consumerContainer}
		},
	})

	store, err := buildStore(root, nil)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	if err := store.validateVisibility(); err != nil {
		t.Fatalf("expected exported sibling dependency to be visible, got %v", err)
	}
}

func TestValidateVisibilityRejectsDeniedAccessPolicy(t *testing.T) {
	secret := DefineResource(ResourceDefinition[any, any]{IdValue: "secret"})
	consumer := DefineTask(TaskDefinition[any, any]{
		IdValue:      "consumer",
		Dependencies: StaticDeps(map[string]Ref{"secret": refOf(secret)}),
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue:                "root",
		DependencyAccessPolicy: &AccessPolicy{DenyIds: []Id{"secret"}},
		Register: func(any) []Item {
			return []Item{secret, consumer}
		},
	})

	store, err := buildStore(root, nil)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	if err := store.validateVisibility(); err == nil {
		t.Fatal("expected a dependency access policy violation")
	} else if !DependencyAccessPolicyViolation.Is(err) {
		t.Fatalf("expected DependencyAccessPolicyViolation, got %v", err)
	}
}
