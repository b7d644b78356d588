package derived

import (
	"fmt"
	"time"

	"github.com/nerrad567/scada-overlay/internal/infrastructure/config"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// SpecsFromConfig builds specs from the calculations section. Calculations
// without a device use defaultDevice.
func SpecsFromConfig(calcs []config.CalculationConfig, defaultDevice string) ([]Spec, error) {
	specs := make([]Spec, 0, len(calcs))
	for i, cc := range calcs {
		device := cc.Device
		if device == "" {
			device = defaultDevice
		}
		s := Spec{
			Name:     cc.Name,
			Device:   device,
			Inputs:   cc.Inputs,
			Scope:    telemetry.ParseScope(cc.Source),
			Interval: time.Duration(cc.Interval) * time.Second,
		}
		// The computer looks inputs up under the same keys collect resolves.
		s.Inputs = s.inputKeys()

		compute, err := Builtin(cc.Operation, s.Inputs, cc.RejectUnknown)
		if err != nil {
			return nil, fmt.Errorf("calculations[%d] %s: %w", i, cc.Name, err)
		}
		s.Compute = compute
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("calculations[%d]: %w", i, err)
		}
		specs = append(specs, s)
	}
	return specs, nil
}
