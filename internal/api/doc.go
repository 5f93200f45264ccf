// Package api provides the status HTTP server for tsfeed.
//
// It exposes read-only views of the feeder to operators and scrapers:
//
//	GET /health   200 when the journal database answers, 503 otherwise
//	GET /status   collector snapshot plus lifetime journal totals
//	GET /metrics  Prometheus exposition
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Run wraps Start and Close for use under an errgroup.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
