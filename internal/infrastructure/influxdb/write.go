package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the feeder.
const (
	MeasurementDelivery   = "tsfeed_delivery"
	MeasurementConnection = "tsfeed_connection"
)

// WriteDelivery records one acknowledged sample.
//
// The sample's own fields are written alongside latency_ms and the store's
// ack timestamp, tagged by store name.
//
// Example:
//
//	client.WriteDelivery("metrics", map[string]any{"cpu_pct": 12.5}, ts, 2*time.Millisecond, time.Now())
func (c *Client) WriteDelivery(store string, fields map[string]any, ackTimestamp int64, latency time.Duration, at time.Time) {
	all := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		all[k] = v
	}
	all["latency_ms"] = float64(latency.Microseconds()) / 1000
	all["ack_ts"] = ackTimestamp

	c.WritePointWithTime(MeasurementDelivery, map[string]string{"store": store}, all, at)
}

// WriteConnectionEvent records a connection state change, failure, skipped
// tick or retry. event is one of "transition", "failure", "skip" or "retry";
// kind is the error kind and is omitted when empty. detail is stored as a
// string field: the new state for transitions, the error text otherwise.
func (c *Client) WriteConnectionEvent(store, event, kind, detail string, at time.Time) {
	tags := map[string]string{
		"store": store,
		"event": event,
	}
	if kind != "" {
		tags["kind"] = kind
	}

	c.WritePointWithTime(MeasurementConnection, tags, map[string]any{"detail": detail}, at)
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
// Points written while disconnected are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
