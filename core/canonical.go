package core

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
)

// Canonicalize renders a JSON-shaped value (the output of json.Unmarshal
// into interface{}, or any combination of map[string]any, []any, string,
// bool, nil, and numeric types) into a deterministic byte sequence:
// object keys are sorted lexicographically, absent/nil map values are
// dropped, arrays keep their order, and non-finite numbers collapse to 0.
//
// Canonicalize is pure: no I/O, no clock reads, no randomness.
func Canonicalize(v any) []byte {
	var buf []byte
	buf = appendCanonical(buf, v)
	return buf
}

// StateHash returns the hex-lowercase SHA-384 digest of v's canonical form.
func StateHash(v any) string {
	sum := sha512.Sum384(Canonicalize(v))
	return hex.EncodeToString(sum[:])
}

func appendCanonical(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...)
	case bool:
		if t {
			return append(buf, "true"...)
		}
		return append(buf, "false"...)
	case string:
		return appendCanonicalString(buf, t)
	case float64:
		return appendCanonicalNumber(buf, t)
	case float32:
		return appendCanonicalNumber(buf, float64(t))
	case int:
		return appendCanonicalNumber(buf, float64(t))
	case int64:
		return appendCanonicalNumber(buf, float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			f = 0
		}
		return appendCanonicalNumber(buf, f)
	case map[string]any:
		return appendCanonicalObject(buf, t)
	case []any:
		buf = append(buf, '[')
		for i, item := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonical(buf, item)
		}
		return append(buf, ']')
	case []AdapterRecord:
		arr := make([]any, len(t))
		for i, r := range t {
			arr[i] = recordToMap(r)
		}
		return appendCanonical(buf, arr)
	case AdapterRecord:
		return appendCanonical(buf, recordToMap(t))
	default:
		// Round-trip through json to normalize structs/maps of concrete types.
		raw, err := json.Marshal(t)
		if err != nil {
			return append(buf, "null"...)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return append(buf, "null"...)
		}
		return appendCanonical(buf, generic)
	}
}

func recordToMap(r AdapterRecord) map[string]any {
	m := map[string]any{
		"adapterId":         r.AdapterID,
		"entityId":          r.EntityID,
		"payload":           r.Payload,
		"timestamp":         r.Timestamp,
		"sourceFingerprint": r.SourceFingerprint,
	}
	return m
}

func appendCanonicalObject(buf []byte, m map[string]any) []byte {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = appendCanonicalString(buf, k)
		buf = append(buf, ':')
		buf = appendCanonical(buf, m[k])
	}
	return append(buf, '}')
}

func appendCanonicalString(buf []byte, s string) []byte {
	raw, _ := json.Marshal(s)
	return append(buf, raw...)
}

func appendCanonicalNumber(buf []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		f = 0
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return append(buf, '0')
	}
	return append(buf, raw...)
}
