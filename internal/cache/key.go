package cache

import (
	"strings"

	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// Key identifies one cached value: scope class, device and data key,
// the last two trimmed and lower-cased.
type Key string

// MakeKey builds the cache key for a request.
func MakeKey(scope telemetry.Scope, device, key string) Key {
	class := "tele"
	if scope == telemetry.ScopeAttribute {
		class = "attr"
	}
	return Key(class + "::" + normalize(device) + "::" + normalize(key))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
