// Copyright 2025 Certen Protocol
package canon

import (
	"testing"
)

func TestCanonicalBytes_SortsKeys(t *testing.T) {
	v := map[string]interface{}{"b": 1, "a": 2, "c": 3}
	got, err := CanonicalBytes(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":2,"b":1,"c":3}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalBytes_DropsNilEntries(t *testing.T) {
	v := map[string]interface{}{"present": 1, "absent": nil}
	got, err := CanonicalBytes(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"present":1}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalBytes_PreservesArrayOrder(t *testing.T) {
	v := map[string]interface{}{"items": []interface{}{3, 1, 2}}
	got, err := CanonicalBytes(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"items":[3,1,2]}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalBytes_Deterministic(t *testing.T) {
	v := map[string]interface{}{
		"z": map[string]interface{}{"y": 1, "x": 2},
		"a": []interface{}{"q", "p"},
	}
	first, err := CanonicalBytes(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := CanonicalBytes(v)
		if err != nil {
			t.Fatalf("canonicalize: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("non-deterministic encoding: %s vs %s", again, first)
		}
	}
}

func TestCanonicalBytes_CircularMap(t *testing.T) {
	v := map[string]interface{}{"name": "root"}
	v["self"] = v
	got, err := CanonicalBytes(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"name":"root","self":"[Circular]"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalBytes_CircularSlice(t *testing.T) {
	arr := make([]interface{}, 2)
	arr[0] = "head"
	arr[1] = arr
	v := map[string]interface{}{"list": arr}
	got, err := CanonicalBytes(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"list":["head","[Circular]"]}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalBytes_IntegerNumbersHaveNoDecimalPoint(t *testing.T) {
	v := map[string]interface{}{"n": float64(5)}
	got, err := CanonicalBytes(v)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"n":5}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalBytes_StructHonorsOmitempty(t *testing.T) {
	type nested struct {
		Kept    string `json:"kept"`
		Dropped string `json:"dropped,omitempty"`
	}
	got, err := CanonicalBytes(nested{Kept: "yes"})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"kept":"yes"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestHashValue_Stable(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": 2}
	b := map[string]interface{}{"y": 2, "x": 1}
	ha, err := HashValue(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := HashValue(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Errorf("hashes should match regardless of map insertion order: %s vs %s", ha, hb)
	}
}
