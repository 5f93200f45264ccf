package sampler

import (
	"context"
	"errors"
	"math"

	"github.com/nerrad567/tsfeed/internal/tsstore"
)

// Sampler produces one record per call. Implementations are called at most
// once per tick from a single goroutine.
type Sampler interface {
	Sample(ctx context.Context) (tsstore.Record, error)
}

// Func adapts a function to the Sampler interface.
type Func func(ctx context.Context) (tsstore.Record, error)

// Sample calls f.
func (f Func) Sample(ctx context.Context) (tsstore.Record, error) {
	return f(ctx)
}

var (
	// ErrSourceUnavailable is returned when a required source cannot be read.
	ErrSourceUnavailable = errors.New("sampler: source unavailable")

	// ErrParse is returned when a source has unexpected content.
	ErrParse = errors.New("sampler: unexpected source format")

	// ErrNoSensors is returned when an environment sampler has nothing to read.
	ErrNoSensors = errors.New("sampler: no sensors configured")
)

// round rounds v to the given number of decimal places.
func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
