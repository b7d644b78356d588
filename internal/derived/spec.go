package derived

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// Spec declares one derived value. Specs are not changed after the
// pipeline starts.
type Spec struct {
	// Name is the key the result is written under.
	Name string
	// Device is the device whose entity receives the result and whose
	// keys are read as inputs.
	Device   string
	Inputs   []string
	Scope    telemetry.Scope
	Compute  Computer
	Interval time.Duration
}

// Validate reports what prevents the spec from running.
func (s Spec) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(s.Device) == "" {
		problems = append(problems, "device is required")
	}
	if len(s.Inputs) == 0 {
		problems = append(problems, "at least one input is required")
	}
	if s.Compute == nil {
		problems = append(problems, "compute is required")
	}
	if s.Interval <= 0 {
		problems = append(problems, "interval must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidSpec, s.Name, strings.Join(problems, "; "))
	}
	return nil
}

// inputKeys returns the inputs with blanks and case-insensitive
// duplicates removed, first occurrence kept.
func (s Spec) inputKeys() []string {
	seen := make(map[string]bool, len(s.Inputs))
	keys := make([]string, 0, len(s.Inputs))
	for _, k := range s.Inputs {
		k = strings.TrimSpace(k)
		norm := strings.ToLower(k)
		if k == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		keys = append(keys, k)
	}
	return keys
}
