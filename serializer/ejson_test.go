package serializer

import (
	"math/big"
	"testing"
	"time"
)

func TestStringifyParseRoundTrip(t *testing.T) {
	in := map[string]any{
		"name":  "alice",
		"count": float64(3),
		"tags":  []any{"a", "b"},
	}
	s, err := Stringify(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["name"] != "alice" {
		t.Fatalf("expected name=alice, got %v", m["name"])
	}
	if m["count"] != float64(3) {
		t.Fatalf("expected count=3, got %v", m["count"])
	}
}

func TestStringifyDate(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	s, err := Stringify(map[string]any{"at": ts})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	at, ok := m["at"].(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", m["at"])
	}
	if !at.Equal(ts) {
		t.Fatalf("expected %v, got %v", ts, at)
	}
}

func TestStringifyBigInt(t *testing.T) {
	n := new(big.Int)
	n.SetString("123456789012345678901234567890", 10)
	s, err := Stringify(map[string]any{"n": n})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	got, ok := m["n"].(*big.Int)
	if !ok {
		t.Fatalf("expected *big.Int, got %T", m["n"])
	}
	if got.Cmp(n) != 0 {
		t.Fatalf("expected %v, got %v", n, got)
	}
}

func TestStringifyBytes(t *testing.T) {
	b := []byte("hello")
	s, err := Stringify(map[string]any{"raw": b})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	got, ok := m["raw"].([]byte)
	if !ok {
		t.Fatalf("expected []byte, got %T", m["raw"])
	}
	if string(got) != "hello" {
		t.Fatalf("expected hello, got %s", got)
	}
}

func TestStringifyCircularMap(t *testing.T) {
	a := map[string]any{"name": "a"}
	a["self"] = a

	s, err := Stringify(a)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["self"] != circularLiteral {
		t.Fatalf("expected circular sentinel, got %v", m["self"])
	}
}

type unserializableValue struct{}

func (unserializableValue) MarshalJSON() ([]byte, error) {
	return nil, errAlwaysFails
}

var errAlwaysFails = fmtError("always fails")

type fmtError string

func (e fmtError) Error() string { return string(e) }

func TestStringifyUnserializable(t *testing.T) {
	s, err := Stringify(map[string]any{"bad": unserializableValue{}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["bad"] != unserializableLiteral {
		t.Fatalf("expected unserializable sentinel, got %v", m["bad"])
	}
}
