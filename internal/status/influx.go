package status

import (
	"time"

	"github.com/nerrad567/tsfeed/internal/tsstore"
)

// Connection event names written by InfluxMirror.
const (
	eventTransition = "transition"
	eventFailure    = "failure"
	eventSkip       = "skip"
	eventRetry      = "retry"
)

// PointWriter is the subset of *influxdb.Client the mirror needs.
type PointWriter interface {
	WriteDelivery(store string, fields map[string]any, ackTimestamp int64, latency time.Duration, at time.Time)
	WriteConnectionEvent(store, event, kind, detail string, at time.Time)
}

// InfluxMirror copies collector events into InfluxDB.
type InfluxMirror struct {
	w     PointWriter
	store string
	now   func() time.Time
}

// NewInfluxMirror creates a mirror for one store.
func NewInfluxMirror(w PointWriter, store string) *InfluxMirror {
	return &InfluxMirror{w: w, store: store, now: time.Now}
}

// StateChanged implements collector.Observer.
func (m *InfluxMirror) StateChanged(_, to tsstore.State) {
	m.w.WriteConnectionEvent(m.store, eventTransition, "", to.String(), m.now())
}

// Delivered implements collector.Observer.
func (m *InfluxMirror) Delivered(rec tsstore.Record, timestamp int64, latency time.Duration) {
	fields := make(map[string]any, rec.Len())
	for _, f := range rec.Fields() {
		fields[f.Name] = f.Value
	}
	m.w.WriteDelivery(m.store, fields, timestamp, latency, m.now())
}

// Failed implements collector.Observer.
func (m *InfluxMirror) Failed(err error) {
	m.w.WriteConnectionEvent(m.store, eventFailure, kindName(err), err.Error(), m.now())
}

// Skipped implements collector.Observer.
func (m *InfluxMirror) Skipped(err error) {
	m.w.WriteConnectionEvent(m.store, eventSkip, kindName(err), err.Error(), m.now())
}

// Retrying implements collector.Observer.
func (m *InfluxMirror) Retrying(delay time.Duration) {
	m.w.WriteConnectionEvent(m.store, eventRetry, "", delay.String(), m.now())
}
