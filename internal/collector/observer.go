package collector

import (
	"time"

	"github.com/nerrad567/tsfeed/internal/tsstore"
)

// Observer is notified of collector events. Calls are made from the
// collector goroutine and must not block for long.
type Observer interface {
	// StateChanged reports a client state transition.
	StateChanged(from, to tsstore.State)

	// Delivered reports an acknowledged record.
	Delivered(rec tsstore.Record, timestamp int64, latency time.Duration)

	// Failed reports a connect or write failure.
	Failed(err error)

	// Skipped reports a tick dropped because sampling failed.
	Skipped(err error)

	// Retrying reports the delay before the next reconnect attempt.
	Retrying(delay time.Duration)
}

// Observers fans events out to several observers in order.
type Observers []Observer

// StateChanged implements Observer.
func (o Observers) StateChanged(from, to tsstore.State) {
	for _, obs := range o {
		obs.StateChanged(from, to)
	}
}

// Delivered implements Observer.
func (o Observers) Delivered(rec tsstore.Record, timestamp int64, latency time.Duration) {
	for _, obs := range o {
		obs.Delivered(rec, timestamp, latency)
	}
}

// Failed implements Observer.
func (o Observers) Failed(err error) {
	for _, obs := range o {
		obs.Failed(err)
	}
}

// Skipped implements Observer.
func (o Observers) Skipped(err error) {
	for _, obs := range o {
		obs.Skipped(err)
	}
}

// Retrying implements Observer.
func (o Observers) Retrying(delay time.Duration) {
	for _, obs := range o {
		obs.Retrying(delay)
	}
}
