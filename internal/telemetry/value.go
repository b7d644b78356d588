package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is a scalar read from the backend. The zero value is Unknown.
type Value struct {
	raw   any
	known bool
}

// Unknown is the explicit "no value" result.
var Unknown = Value{}

// Known wraps raw as a value. A nil raw yields Unknown.
func Known(raw any) Value {
	if raw == nil {
		return Unknown
	}
	return Value{raw: raw, known: true}
}

// IsKnown reports whether v holds a value.
func (v Value) IsKnown() bool {
	return v.known
}

// Raw returns the wrapped value, or nil for Unknown.
func (v Value) Raw() any {
	return v.raw
}

// Float64 converts numeric values and numeric strings.
func (v Value) Float64() (float64, bool) {
	if !v.known {
		return 0, false
	}
	switch n := v.raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Bool interprets v as an on/off status. Unknown is off; numbers are on
// when non-zero; strings accept true/on/yes and false/off/no, then numeric
// text, then any non-empty string counts as on.
func (v Value) Bool() bool {
	if !v.known {
		return false
	}
	switch b := v.raw.(type) {
	case bool:
		return b
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		switch s {
		case "true", "on", "yes":
			return true
		case "false", "off", "no":
			return false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f != 0
		}
		return s != ""
	}
	if f, ok := v.Float64(); ok {
		return f != 0
	}
	return false
}

// String renders the raw value. Unknown renders as "unknown".
func (v Value) String() string {
	if !v.known {
		return "unknown"
	}
	if s, ok := v.raw.(string); ok {
		return s
	}
	if f, ok := v.raw.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v.raw)
}

// MarshalJSON encodes Unknown as null and anything else as its raw value.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.known {
		return []byte("null"), nil
	}
	return json.Marshal(v.raw)
}

// UnmarshalJSON decodes null as Unknown.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Known(raw)
	return nil
}
