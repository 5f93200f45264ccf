// Package collector drives a sampler and a tsstore client on a fixed
// interval.
//
// Each tick:
//
//  1. If the client is Failed, wait the client's next retry delay.
//  2. Take one sample. A sampler error skips the tick (acquisition error).
//  3. If the client is not Ready, connect and authenticate.
//  4. Write the record and wait for its acknowledgement.
//  5. Sleep for the interval.
//
// A connect or write failure is logged and reported to the observers; the
// record is dropped and the next tick starts with the backoff wait. A panic
// inside a tick aborts the connection and becomes the same retry cycle. Only
// context cancellation stops the loop, after which the client is shut down.
//
// Observers receive state changes, deliveries, failures, skips and retry
// delays. Metrics, the journal and the status publishers are all observers.
package collector
