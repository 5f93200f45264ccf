// Package influxdb mirrors feeder activity into InfluxDB v2.
//
// Two measurements are written:
//   - tsfeed_delivery: every acknowledged sample with its fields and latency
//   - tsfeed_connection: state transitions, failures, skips and retries
//
// The mirror is strictly secondary. Writes are batched and asynchronous, and
// a failing InfluxDB only produces callbacks, never back-pressure on the
// collector.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("influx write", "error", err) })
package influxdb
