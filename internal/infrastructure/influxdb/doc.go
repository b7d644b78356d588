// Package influxdb records derived values into InfluxDB.
//
// It wraps the influxdb-client-go v2 library: connection with a ping check,
// a non-blocking batched write API, and health monitoring. Every derived
// value the pipeline publishes is also written as a point in the
// derived_values measurement so its history can be charted next to the
// raw telemetry it came from.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDerived("CTW_TAG", "flow_total", 12.5, time.Now())
//
// Writes are batched according to batch_size and flush_interval. Write
// errors arrive asynchronously through SetOnError.
package influxdb
