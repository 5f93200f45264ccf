package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/tsfeed/internal/tsstore"
)

var errWriteTimeout = &tsstore.Error{Kind: tsstore.KindTimeout, Op: "write", Err: errors.New("i/o timeout")}

// fakeClient mimics the tsstore client state machine without a transport.
type fakeClient struct {
	mu          sync.Mutex
	state       tsstore.State
	backoff     *tsstore.Backoff
	connectErrs []error
	writeErrs   []error
	ts          int64
	calls       []string
	shutdowns   int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		backoff: tsstore.NewBackoff(time.Second, time.Minute),
		ts:      1700000000,
	}
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeClient) Connect(context.Context) error {
	f.record("connect")
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			f.state = tsstore.StateFailed
			return err
		}
	}
	f.state = tsstore.StateReady
	f.backoff.Reset()
	return nil
}

func (f *fakeClient) Write(_ context.Context, rec tsstore.Record) (int64, error) {
	f.record("write")
	if f.state != tsstore.StateReady {
		return 0, tsstore.ErrNotReady
	}
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		if err != nil {
			if !errors.Is(err, tsstore.ErrInvalidRecord) {
				f.state = tsstore.StateFailed
			}
			return 0, err
		}
	}
	if _, err := tsstore.EncodeRecord(rec); err != nil {
		return 0, err
	}
	f.ts++
	return f.ts, nil
}

func (f *fakeClient) Shutdown() error {
	f.record("shutdown")
	f.shutdowns++
	f.state = tsstore.StateTerminated
	return nil
}

func (f *fakeClient) Abort(err error) error {
	f.record("abort")
	if f.state == tsstore.StateReady {
		f.state = tsstore.StateFailed
		return err
	}
	return nil
}

func (f *fakeClient) State() tsstore.State {
	return f.state
}

func (f *fakeClient) NextRetryDelay() time.Duration {
	d := f.backoff.Next()
	f.record("retry " + d.String())
	return d
}

func (f *fakeClient) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeClock fires every After immediately and records the requested
// durations. Once limit waits have been requested it cancels the run.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	waits  []time.Duration
	limit  int
	cancel context.CancelFunc
}

func newFakeClock(limit int, cancel context.CancelFunc) *fakeClock {
	return &fakeClock{
		now:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		limit:  limit,
		cancel: cancel,
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	if len(c.waits) >= c.limit {
		c.cancel()
		return nil
	}
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// recordingObserver keeps every event it sees.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	timestamps  []int64
	failures    []error
	skips       []error
	retries     []time.Duration
}

func (o *recordingObserver) StateChanged(from, to tsstore.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, from.String()+"->"+to.String())
}

func (o *recordingObserver) Delivered(_ tsstore.Record, ts int64, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.timestamps = append(o.timestamps, ts)
}

func (o *recordingObserver) Failed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, err)
}

func (o *recordingObserver) Skipped(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skips = append(o.skips, err)
}

func (o *recordingObserver) Retrying(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, d)
}

// scriptedSampler returns a fixed record, or the scripted error or panic
// for the matching call number (1-based).
type scriptedSampler struct {
	calls  int
	errs   map[int]error
	panics map[int]bool
}

func (s *scriptedSampler) Sample(context.Context) (tsstore.Record, error) {
	s.calls++
	if s.panics[s.calls] {
		panic("sensor bus wedged")
	}
	if err := s.errs[s.calls]; err != nil {
		return tsstore.Record{}, err
	}
	return tsstore.NewRecord(
		tsstore.Field{Name: "cpu_pct", Value: 12.5},
		tsstore.Field{Name: "mem_pct", Value: 40},
		tsstore.Field{Name: "load_1m", Value: 0.25},
		tsstore.Field{Name: "net_rx_mb", Value: 1},
	), nil
}
