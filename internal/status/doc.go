// Package status publishes feeder activity to secondary sinks.
//
// MQTTReporter keeps a retained status document on tsfeed/{store}/status
// and emits failure, skip and retry events. InfluxMirror writes deliveries
// and connection events to InfluxDB. Both implement collector.Observer and
// never block the collector on their sink: the reporter coalesces updates
// onto its own goroutine and the mirror uses the batching WriteAPI.
package status
