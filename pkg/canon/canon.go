// Copyright 2025 Certen Protocol
//
// Package canon provides deterministic canonical JSON serialization and
// SHA-256 hashing. Every other component depends on this package for its
// hashes, so the encoding here MUST stay byte-identical across releases.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"unicode/utf16"
)

// circular is the literal token substituted in place of a value that would
// otherwise close a reference cycle.
const circular = "[Circular]"

// nullMarker is a distinguishable stand-in for "explicit JSON null", used
// by callers (event/anchor/ledger hash inputs) that must emit `"field":null`
// for an absent optional field rather than dropping the key entirely — the
// two differ on the wire (e.g. a first event's null prev_hash).
// A bare Go nil stored in a map is treated as "absent" and the key is
// dropped; store Null there instead when the field must serialize as null.
type nullMarker struct{}

// Null is the sentinel value for an explicit JSON null in a map passed to
// CanonicalBytes/HashValue.
var Null = nullMarker{}

// CanonicalBytes returns the canonical JSON encoding of v: object keys are
// sorted in UTF-16 code-unit order, nil map entries and omitted struct
// fields are elided, arrays preserve order, and cycles are replaced with
// the literal string "[Circular]" rather than causing unbounded recursion.
func CanonicalBytes(v interface{}) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, fmt.Errorf("canon: normalize value: %w", err)
	}

	buf := make([]byte, 0, 256)
	buf, err = encode(buf, generic, newRefTracker())
	if err != nil {
		return nil, fmt.Errorf("canon: encode value: %w", err)
	}
	return buf, nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashValue canonicalizes v and returns the lowercase hex SHA-256 digest.
func HashValue(v interface{}) (string, error) {
	b, err := CanonicalBytes(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// toGeneric normalizes an arbitrary Go value into the generic JSON shape
// (map[string]interface{}, []interface{}, string, bool, nil, and numeric
// primitives) that the encoder understands. Values that are already in
// that shape pass through untouched, preserving reference identity so the
// cycle guard below can detect self-reference. Structs and other typed
// values are round-tripped through encoding/json, which applies struct
// tags (name, omitempty) the same way our callers rely on for field
// elision.
func toGeneric(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, nullMarker, map[string]interface{}, []interface{}, string, bool,
		float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		json.Number:
		return v, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return generic, nil
}

type refTracker struct {
	seen map[uintptr]bool
}

func newRefTracker() *refTracker {
	return &refTracker{seen: make(map[uintptr]bool)}
}

// enter returns false (and leaves the tracker unmodified) if ptr is already
// on the current path, which means v closes a cycle.
func (t *refTracker) enter(ptr uintptr) bool {
	if ptr == 0 {
		return true
	}
	if t.seen[ptr] {
		return false
	}
	t.seen[ptr] = true
	return true
}

func (t *refTracker) leave(ptr uintptr) {
	if ptr != 0 {
		delete(t.seen, ptr)
	}
}

func encode(buf []byte, v interface{}, tracker *refTracker) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case nullMarker:
		return append(buf, "null"...), nil
	case bool:
		if x {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case string:
		return encodeString(buf, x), nil
	case json.Number:
		return encodeNumberString(buf, string(x)), nil
	case float64:
		return encodeFloat(buf, x)
	case float32:
		return encodeFloat(buf, float64(x))
	case int:
		return strconv.AppendInt(buf, int64(x), 10), nil
	case int8, int16, int32, int64:
		return strconv.AppendInt(buf, reflect.ValueOf(x).Int(), 10), nil
	case uint, uint8, uint16, uint32, uint64:
		return strconv.AppendUint(buf, reflect.ValueOf(x).Uint(), 10), nil
	case map[string]interface{}:
		return encodeObject(buf, x, tracker)
	case []interface{}:
		return encodeArray(buf, x, tracker)
	default:
		g, err := toGeneric(v)
		if err != nil {
			return nil, fmt.Errorf("canon: normalize %T: %w", v, err)
		}
		if reflect.TypeOf(g) == reflect.TypeOf(v) {
			return nil, fmt.Errorf("canon: unsupported type %T after normalization", v)
		}
		return encode(buf, g, tracker)
	}
}

func encodeObject(buf []byte, m map[string]interface{}, tracker *refTracker) ([]byte, error) {
	ptr := mapPointer(m)
	if !tracker.enter(ptr) {
		return encodeString(buf, circular), nil
	}
	defer tracker.leave(ptr)

	keys := make([]string, 0, len(m))
	for k, val := range m {
		if val == nil {
			// a bare nil means the field is absent/undefined and is dropped;
			// use the Null sentinel for a field that must serialize as an
			// explicit JSON null instead.
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return utf16Less(keys[i], keys[j]) })

	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = encodeString(buf, k)
		buf = append(buf, ':')
		var err error
		buf, err = encode(buf, m[k], tracker)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

func encodeArray(buf []byte, arr []interface{}, tracker *refTracker) ([]byte, error) {
	ptr := slicePointer(arr)
	if !tracker.enter(ptr) {
		return encodeString(buf, circular), nil
	}
	defer tracker.leave(ptr)

	buf = append(buf, '[')
	for i, v := range arr {
		if i > 0 {
			buf = append(buf, ',')
		}
		var err error
		buf, err = encode(buf, v, tracker)
		if err != nil {
			return nil, err
		}
	}
	buf = append(buf, ']')
	return buf, nil
}

func mapPointer(m map[string]interface{}) uintptr {
	if m == nil {
		return 0
	}
	return reflect.ValueOf(m).Pointer()
}

func slicePointer(s []interface{}) uintptr {
	if s == nil {
		return 0
	}
	return reflect.ValueOf(s).Pointer()
}

// utf16Less orders a, b by UTF-16 code-unit sequence, matching how a
// JavaScript engine compares object keys for canonicalization parity.
func utf16Less(a, b string) bool {
	au := utf16.Encode([]rune(a))
	bu := utf16.Encode([]rune(b))
	n := len(au)
	if len(bu) < n {
		n = len(bu)
	}
	for i := 0; i < n; i++ {
		if au[i] != bu[i] {
			return au[i] < bu[i]
		}
	}
	return len(au) < len(bu)
}

func encodeString(buf []byte, s string) []byte {
	out, _ := json.Marshal(s)
	return append(buf, out...)
}

func encodeFloat(buf []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("canon: non-finite number %v is not JSON-representable", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(buf, int64(f), 10), nil
	}
	return strconv.AppendFloat(buf, f, 'g', -1, 64), nil
}

// encodeNumberString re-emits a json.Number in its canonical shortest form,
// dropping a redundant trailing ".0" the way JSON.stringify would.
func encodeNumberString(buf []byte, s string) []byte {
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && !containsExp(s) {
		return strconv.AppendInt(buf, int64(f), 10)
	}
	return append(buf, s...)
}

func containsExp(s string) bool {
	for _, r := range s {
		if r == 'e' || r == 'E' {
			return true
		}
	}
	return false
}
