package telemetry

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// normalizeKey trims and lower-cases a key for comparison.
func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DecodeResponse parses a JSON body and extracts key from it. A body that
// is not JSON yields Unknown.
func DecodeResponse(body []byte, key string) Value {
	var res any
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&res); err != nil {
		return Unknown
	}
	return ExtractFromResponse(res, key)
}

// ExtractFromResponse finds the current value of key in a decoded response.
//
// Accepted shapes:
//   - an object keyed by data key, each entry a series of [ts, value]
//     pairs or {value|val} records; the last element wins
//   - an array of {key, value} records, scanned from the end
//   - a bare scalar, returned as-is
//
// Keys match exactly first, then case-insensitively. An array of keyed
// records where no record matches yields Unknown.
func ExtractFromResponse(res any, key string) (v Value) {
	defer func() {
		if recover() != nil {
			v = Unknown
		}
	}()

	switch r := res.(type) {
	case nil:
		return Unknown
	case map[string]any:
		if data, ok := r[key]; ok && data != nil {
			return ExtractScalar(data)
		}
		wanted := normalizeKey(key)
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if normalizeKey(k) == wanted {
				return ExtractScalar(r[k])
			}
		}
		return ExtractScalar(r)
	case []any:
		wanted := normalizeKey(key)
		keyed := false
		for i := len(r) - 1; i >= 0; i-- {
			rec, ok := r[i].(map[string]any)
			if !ok {
				continue
			}
			k, ok := rec["key"].(string)
			if !ok || k == "" {
				continue
			}
			keyed = true
			if normalizeKey(k) != wanted {
				continue
			}
			if val, ok := rec["value"]; ok && val != nil {
				return Known(val)
			}
			if val, ok := rec["val"]; ok && val != nil {
				return Known(val)
			}
			return ExtractScalar(rec["data"])
		}
		if keyed {
			return Unknown
		}
		return ExtractScalar(r)
	default:
		return ExtractScalar(res)
	}
}

// ExtractScalar reduces a series or record to a single value. For a
// series, the last element holding a value wins.
func ExtractScalar(data any) (v Value) {
	defer func() {
		if recover() != nil {
			v = Unknown
		}
	}()

	switch d := data.(type) {
	case nil:
		return Unknown
	case []any:
		for i := len(d) - 1; i >= 0; i-- {
			switch item := d[i].(type) {
			case []any:
				if len(item) > 1 && item[1] != nil {
					return Known(item[1])
				}
			case map[string]any:
				if val := recordValue(item); val.IsKnown() {
					return val
				}
			}
		}
		return Unknown
	case map[string]any:
		return recordValue(d)
	default:
		return Known(d)
	}
}

func recordValue(rec map[string]any) Value {
	if val, ok := rec["value"]; ok && val != nil {
		return Known(val)
	}
	return Known(rec["val"])
}
