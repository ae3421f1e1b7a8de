package client

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	runner "github.com/module-dev/runner"
	"github.com/module-dev/runner/exposure"
)

func buildTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	double := runner.DefineTask(runner.TaskDefinition[float64, float64]{
		IdValue: "t.double",
		RunFn: func(input float64, deps runner.DependencySet) (float64, error) {
			return input * 2, nil
		},
	})

	explode := runner.DefineTask(runner.TaskDefinition[any, any]{
		IdValue: "t.explode",
		RunFn: func(input any, deps runner.DependencySet) (any, error) {
			return nil, runner.TaskNotFoundError.Throw(map[string]any{"id": "missing"})
		},
	})

	upload := runner.DefineTask(runner.TaskDefinition[any, any]{
		IdValue: "t.upload",
		RunFn: func(input any, deps runner.DependencySet) (any, error) {
			m, ok := input.(map[string]any)
			if !ok {
				return nil, nil
			}
			f, ok := m["file"].(exposure.InputFile)
			if !ok {
				return nil, nil
			}
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(f.Stream); err != nil {
				return nil, err
			}
			return map[string]any{"name": f.Name, "body": buf.String()}, nil
		},
	})

	root := runner.DefineResource(runner.ResourceDefinition[any, any]{
		IdValue: "root",
		TagList: []runner.TagAttachment{
			runner.TunnelTag.With(runner.TunnelTagConfig{
				Mode:  runner.TunnelModeServer,
				Tasks: []runner.Id{"t.double", "t.explode", "t.upload"},
			}),
		},
		Register: func(any) []runner.Item {
			return []runner.Item{double, explode, upload}
		},
		InitFn: func(cfg any, deps runner.DependencySet) (any, error) {
			return nil, nil
		},
	})

	rr, err := runner.Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	srv, err := exposure.New(rr, exposure.Config{Token: "secret"})
	if err != nil {
		t.Fatalf("exposure.New failed: %v", err)
	}
	return httptest.NewServer(srv)
}

func TestSmartClientTaskRoundTrip(t *testing.T) {
	ts := buildTestServer(t)
	defer ts.Close()

	c, err := NewSmartClient(Config{BaseURL: ts.URL + "/__runner", Token: "secret"})
	if err != nil {
		t.Fatal(err)
	}

	result, err := c.Task(context.Background(), "t.double", float64(21))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != float64(42) {
		t.Fatalf("expected 42, got %v", result)
	}
}

func TestSmartClientRethrowsTypedError(t *testing.T) {
	ts := buildTestServer(t)
	defer ts.Close()

	c, err := NewSmartClient(Config{
		BaseURL: ts.URL + "/__runner",
		Token:   "secret",
		Errors:  ErrorRegistry{runner.TaskNotFoundError.Id(): runner.TaskNotFoundError},
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Task(context.Background(), "t.explode", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	re, ok := err.(*runner.RuntimeError)
	if !ok {
		t.Fatalf("expected *runner.RuntimeError, got %T: %v", err, err)
	}
	if !runner.TaskNotFoundError.Is(re) {
		t.Fatalf("expected a TaskNotFoundError, got %v", re)
	}
}

func TestSmartClientMultipartUpload(t *testing.T) {
	ts := buildTestServer(t)
	defer ts.Close()

	c, err := NewSmartClient(Config{BaseURL: ts.URL + "/__runner", Token: "secret"})
	if err != nil {
		t.Fatal(err)
	}

	input := map[string]any{
		"file": exposure.InputFile{
			Name:   "greeting.txt",
			Type:   "text/plain",
			Stream: strings.NewReader("hello from the client"),
		},
	}

	result, err := c.Task(context.Background(), "t.upload", input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T: %v", result, result)
	}
	if m["name"] != "greeting.txt" {
		t.Fatalf("expected uploaded file name to round-trip, got %v", m["name"])
	}
	if m["body"] != "hello from the client" {
		t.Fatalf("expected uploaded file body to round-trip, got %v", m["body"])
	}
}

func TestSmartClientRejectsMissingBaseURL(t *testing.T) {
	if _, err := NewSmartClient(Config{}); err == nil {
		t.Fatal("expected NewSmartClient to fail without a BaseURL")
	}
}
