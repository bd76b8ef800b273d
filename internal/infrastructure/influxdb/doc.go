// Package influxdb records halirc timing data in InfluxDB v2.
//
// Points are batched by the non-blocking write API of influxdb-client-go;
// write failures arrive asynchronously through SetOnError.
//
// Measurements:
//   - device_request: latency_ms, retries and ok per device and command
//   - device_pacing: wait_ms per device
//   - hal_event: one count per routed event, tagged with its source
//   - hal_action: duration_ms and ok per action name
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // InfluxDB not configured
//	}
//	defer client.Close()
package influxdb
