package runner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunTaskByIdDispatchesAndValidates(t *testing.T) {
	double := DefineTask(TaskDefinition[int, int]{
		IdValue: "t.double",
		RunFn: func(input int, deps DependencySet) (int, error) {
			return input * 2, nil
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{double}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	rr, err := Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	result, err := rr.RunTaskById("t.double", 21)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("expected 42, got %v", result)
	}

	typed, err := RunTask(rr, double, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typed != 10 {
		t.Fatalf("expected 10, got %v", typed)
	}
}

func TestTaskRunnerRejectsPhantomTaskWithoutRoute(t *testing.T) {
	phantom := DefineTask(TaskDefinition[any, any]{
		IdValue: "t.phantom",
		Phantom: true,
	})
	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{phantom}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	rr, err := Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	_, err = rr.RunTaskById("t.phantom", nil)
	if err == nil {
		t.Fatal("expected phantom task to fail without a tunnel route")
	}
	if !PhantomTaskNotRouted.Is(err) {
		t.Fatalf("expected PhantomTaskNotRouted, got %v", err)
	}
}

func TestComposeMiddlewareAppliesGlobalTagAndAttachedOnce(t *testing.T) {
	var order []string

	record := func(name string) *TaskMiddlewareDefinition {
		return DefineTaskMiddleware(TaskMiddlewareDefinition{
			IdValue: "mw." + name,
			RunFn: func(task TaskMiddlewareTarget, next TaskMiddlewareNext, deps DependencySet) (any, error) {
				order = append(order, name)
				return next(nil)
			},
		})
	}

	global := record("global")
	global.Meta = map[string]any{"global": true}
	attached := record("attached")

	task := DefineTask(TaskDefinition[any, any]{
		IdValue: "t.chained",
		Middleware: []MiddlewareAttachment{
			{Middleware: attached},
			{Middleware: global}, // duplicate of the global mw; must be deduped
		},
		RunFn: func(input any, deps DependencySet) (any, error) {
			order = append(order, "task")
			return "done", nil
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{global, attached, task}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	rr, err := Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if _, err := rr.RunTaskById("t.chained", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order) != 3 {
		t.Fatalf("expected global middleware to run once despite double attachment, got %v", order)
	}
	if order[0] != "global" || order[1] != "attached" || order[2] != "task" {
		t.Fatalf("expected [global attached task] order, got %v", order)
	}
}

func TestTaskMiddlewareCanShortCircuitOnError(t *testing.T) {
	boom := DefineTaskMiddleware(TaskMiddlewareDefinition{
		IdValue: "mw.boom",
		RunFn: func(task TaskMiddlewareTarget, next TaskMiddlewareNext, deps DependencySet) (any, error) {
			return nil, errors.New("blocked")
		},
	})

	task := DefineTask(TaskDefinition[any, any]{
		IdValue:    "t.guarded",
		Middleware: []MiddlewareAttachment{{Middleware: boom}},
		RunFn: func(input any, deps DependencySet) (any, error) {
			t.Fatal("task should not run when middleware short-circuits")
			return nil, nil
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{boom, task}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	rr, err := Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	_, err = rr.RunTaskById("t.guarded", nil)
	if err == nil || err.Error() != "blocked" {
		t.Fatalf("expected middleware's error to propagate, got %v", err)
	}
}

func TestRunTaskByIdContextCancelsBeforeTaskReturns(t *testing.T) {
	started := make(chan struct{})
	blocked := make(chan struct{})

	slow := DefineTask(TaskDefinition[any, any]{
		IdValue: "t.slow",
		RunFn: func(input any, deps DependencySet) (any, error) {
			close(started)
			<-blocked
			return "too late", nil
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{slow}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	rr, err := Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, runErr := rr.RunTaskByIdContext(ctx, "t.slow", nil)
		done <- runErr
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task never started")
	}
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected RunTaskByIdContext to return an error once ctx was cancelled")
		}
		if !TaskCancelled.Is(err) {
			t.Fatalf("expected TaskCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunTaskByIdContext did not return promptly after cancellation")
	}
}

func TestNestedTaskCallPropagatesCancellation(t *testing.T) {
	innerStarted := make(chan struct{})
	unblock := make(chan struct{})

	inner := DefineTask(TaskDefinition[any, any]{
		IdValue: "t.inner",
		RunFn: func(input any, deps DependencySet) (any, error) {
			close(innerStarted)
			<-unblock
			return "inner done", nil
		},
	})

	outer := DefineTask(TaskDefinition[any, any]{
		IdValue:      "t.outer",
		Dependencies: StaticDeps(map[string]Ref{"inner": refOf(inner)}),
		RunFn: func(input any, deps DependencySet) (any, error) {
			caller := deps["inner"].(TaskCaller)
			return caller(nil)
		},
	})

	root := DefineResource(ResourceDefinition[any, any]{
		IdValue: "root",
		Register: func(any) []Item {
			return []Item{inner, outer}
		},
		InitFn: func(any, DependencySet) (any, error) { return nil, nil },
	})

	rr, err := Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	defer close(unblock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, runErr := rr.RunTaskByIdContext(ctx, "t.outer", nil)
		done <- runErr
	}()

	select {
	case <-innerStarted:
	case <-time.After(time.Second):
		t.Fatal("inner task never started")
	}
	cancel()

	select {
	case err := <-done:
		if !TaskCancelled.Is(err) {
			t.Fatalf("expected the outer dispatch to surface TaskCancelled from the inner call, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("outer dispatch did not return promptly after cancellation")
	}
}
