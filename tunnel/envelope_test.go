package tunnel

import (
	"encoding/json"
	"testing"

	runner "github.com/module-dev/runner"
)

func TestOkEnvelopeRoundTrip(t *testing.T) {
	env := Ok(7)
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	result, err := AssertOkEnvelope[int](b, 200)
	if err != nil {
		t.Fatal(err)
	}
	if result != 7 {
		t.Fatalf("expected 7, got %d", result)
	}
}

func TestFailEnvelopeRoundTrip(t *testing.T) {
	env := Fail[int](runner.CodeNotFound, "task not found", "runner.taskNotFound", map[string]any{"id": "missing"})
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	_, err = AssertOkEnvelope[int](b, 404)
	if err == nil {
		t.Fatal("expected error")
	}
	tunnelErr, ok := err.(*runner.TunnelError)
	if !ok {
		t.Fatalf("expected *runner.TunnelError, got %T", err)
	}
	if tunnelErr.Code != runner.CodeNotFound {
		t.Fatalf("expected code %s, got %s", runner.CodeNotFound, tunnelErr.Code)
	}
	if tunnelErr.ErrId != "runner.taskNotFound" {
		t.Fatalf("expected errId preserved, got %q", tunnelErr.ErrId)
	}
}

func TestAssertOkEnvelopeInvalidJSON(t *testing.T) {
	_, err := AssertOkEnvelope[int]([]byte("not json"), 500)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	tunnelErr, ok := err.(*runner.TunnelError)
	if !ok || tunnelErr.Code != runner.CodeInvalidResponse {
		t.Fatalf("expected CodeInvalidResponse, got %v", err)
	}
}
