package collector

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/tsfeed/internal/tsstore"
)

// PrintClient is a Client for dry runs. It writes each record's wire line
// to w instead of a store and acknowledges it with the local Unix time.
// Nothing is dialled and no credentials are needed.
type PrintClient struct {
	mu    sync.Mutex
	w     io.Writer
	clock Clock
	state tsstore.State
}

// NewPrintClient returns a PrintClient writing to w. A nil clock means
// the wall clock.
func NewPrintClient(w io.Writer, clock Clock) *PrintClient {
	if clock == nil {
		clock = RealClock()
	}
	return &PrintClient{w: w, clock: clock, state: tsstore.StateDisconnected}
}

// Connect marks the client ready.
func (p *PrintClient) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == tsstore.StateTerminated {
		return tsstore.ErrTerminated
	}
	p.state = tsstore.StateReady
	return nil
}

// Write prints the encoded record. Invalid records are rejected the same
// way the store client rejects them.
func (p *PrintClient) Write(ctx context.Context, rec tsstore.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	line, err := tsstore.EncodeRecord(rec)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != tsstore.StateReady {
		return 0, tsstore.ErrNotReady
	}
	if _, err := p.w.Write(line); err != nil {
		p.state = tsstore.StateFailed
		return 0, &tsstore.Error{Kind: tsstore.KindTransport, Op: "write", Err: err}
	}
	return p.clock.Now().Unix(), nil
}

// Shutdown terminates the client. It is idempotent.
func (p *PrintClient) Shutdown() error {
	p.mu.Lock()
	p.state = tsstore.StateTerminated
	p.mu.Unlock()
	return nil
}

// Abort moves a ready client to Failed so the next tick reconnects.
func (p *PrintClient) Abort(error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == tsstore.StateReady {
		p.state = tsstore.StateFailed
	}
	return nil
}

// State returns the current state.
func (p *PrintClient) State() tsstore.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// NextRetryDelay is zero: there is nothing to back off from.
func (p *PrintClient) NextRetryDelay() time.Duration { return 0 }
