package exposure

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	runner "github.com/module-dev/runner"
)

func buildTestRun(t *testing.T) *runner.RunResult {
	t.Helper()

	double := runner.DefineTask(runner.TaskDefinition[float64, float64]{
		IdValue: "t.double",
		RunFn: func(input float64, deps runner.DependencySet) (float64, error) {
			return input * 2, nil
		},
	})

	root := runner.DefineResource(runner.ResourceDefinition[any, any]{
		IdValue: "root",
		TagList: []runner.TagAttachment{
			runner.TunnelTag.With(runner.TunnelTagConfig{
				Mode:  runner.TunnelModeServer,
				Tasks: []runner.Id{"t.double"},
			}),
		},
		Register: func(any) []runner.Item {
			return []runner.Item{double}
		},
		InitFn: func(cfg any, deps runner.DependencySet) (any, error) {
			return nil, nil
		},
	})

	rr, err := runner.Run(root, nil, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return rr
}

func TestServerRejectsWithoutToken(t *testing.T) {
	rr := buildTestRun(t)
	if _, err := New(rr, Config{}); err == nil {
		t.Fatal("expected New to fail without a token or explicit open exposure")
	}
}

func TestServerTaskRoundTrip(t *testing.T) {
	rr := buildTestRun(t)
	srv, err := New(rr, Config{Token: "secret"})
	if err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]any{"input": float64(21)})
	req := httptest.NewRequest("POST", "/__runner/task/t.double", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-runner-token", "secret")
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var env map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env["ok"] != true {
		t.Fatalf("expected ok=true, got %v", env)
	}
	if env["result"] != float64(42) {
		t.Fatalf("expected result=42, got %v", env["result"])
	}
}

func TestServerRejectsBadToken(t *testing.T) {
	rr := buildTestRun(t)
	srv, err := New(rr, Config{Token: "secret"})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/__runner/task/t.double", bytes.NewReader([]byte(`{"input":1}`)))
	req.Header.Set("x-runner-token", "wrong")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestServerRejectsUnlistedTask(t *testing.T) {
	rr := buildTestRun(t)
	srv, err := New(rr, Config{Token: "secret"})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/__runner/task/t.unknown", bytes.NewReader([]byte(`{"input":1}`)))
	req.Header.Set("x-runner-token", "secret")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != 403 {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}
