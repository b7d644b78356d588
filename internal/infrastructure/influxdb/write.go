package influxdb

import (
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDerived holds one point per published derived value.
const MeasurementDerived = "derived_values"

// WriteDerived records a derived value named name computed for device.
//
// Example:
//
//	client.WriteDerived("CTW_TAG", "flow_total", 42.5, time.Now())
func (c *Client) WriteDerived(device, name string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(derivedPoint(device, name, value, at))
}

func derivedPoint(device, name string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDerived,
		map[string]string{
			"device": strings.ToLower(strings.TrimSpace(device)),
			"name":   name,
		},
		map[string]any{
			"value": value,
		},
		at,
	)
}
