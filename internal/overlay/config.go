package overlay

import (
	"fmt"

	"github.com/nerrad567/scada-overlay/internal/infrastructure/config"
	"github.com/nerrad567/scada-overlay/internal/telemetry"
)

// OptionsFromConfig builds widget options from the overlay section.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	items := make([]Item, 0, len(cfg.Overlay.Items))
	for i, ic := range cfg.Overlay.Items {
		kind, err := ParseKind(ic.Kind)
		if err != nil {
			return Options{}, fmt.Errorf("overlay.items[%d]: %w", i, err)
		}
		decimals := DefaultDecimals
		if ic.Decimals != nil {
			decimals = *ic.Decimals
		}
		items = append(items, Item{
			Name:     ic.Name,
			Device:   ic.Device,
			Key:      ic.Key,
			Scope:    telemetry.ParseScope(ic.Source),
			Kind:     kind,
			Decimals: decimals,
		})
	}

	return Options{
		Device:       cfg.Overlay.Device,
		Items:        items,
		PollInterval: cfg.GetPollInterval(),
		Push:         cfg.Overlay.Push && cfg.MQTT.Enabled,
	}, nil
}
