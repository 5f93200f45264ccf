package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tsfeed/internal/infrastructure/logging"
	"github.com/nerrad567/tsfeed/internal/sampler"
	"github.com/nerrad567/tsfeed/internal/tsstore"
)

const (
	// DefaultInterval is the time between samples.
	DefaultInterval = 10 * time.Second

	// DefaultStatusEvery is the number of delivered samples between status log lines.
	DefaultStatusEvery = 60

	// summaryFields is how many fields the status line shows.
	summaryFields = 3
)

// ErrPanic wraps a panic recovered inside a tick.
var ErrPanic = errors.New("collector: recovered panic")

// Client is the subset of *tsstore.Client the collector drives.
type Client interface {
	Connect(ctx context.Context) error
	Write(ctx context.Context, rec tsstore.Record) (int64, error)
	Shutdown() error
	Abort(err error) error
	State() tsstore.State
	NextRetryDelay() time.Duration
}

// stateNotifier is implemented by clients that report transitions.
type stateNotifier interface {
	SetOnStateChange(func(from, to tsstore.State))
}

// Config contains collector settings.
type Config struct {
	// Interval between samples. Default: 10s
	Interval time.Duration

	// StatusEvery logs a status line after this many delivered samples.
	// Zero disables it.
	StatusEvery int
}

// Snapshot is a point-in-time view of the collector for status reporting.
type Snapshot struct {
	State         string    `json:"state"`
	Delivered     uint64    `json:"delivered"`
	Skipped       uint64    `json:"skipped"`
	Failures      uint64    `json:"failures"`
	LastTimestamp int64     `json:"last_timestamp,omitempty"`
	LastDelivery  time.Time `json:"last_delivery,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	Interval      string    `json:"interval"`
}

// Collector runs the sample-and-deliver loop. Run must be called at most
// once; Snapshot is safe to call concurrently with it.
type Collector struct {
	cfg      Config
	client   Client
	sampler  sampler.Sampler
	observer Observer
	clock    Clock
	logger   *logging.Logger

	delivered     atomic.Uint64
	skipped       atomic.Uint64
	failures      atomic.Uint64
	lastTimestamp atomic.Int64
	lastDelivery  atomic.Int64
	startedAt     atomic.Int64

	lastErrMu sync.Mutex
	lastErr   string
}

// Option configures a Collector.
type Option func(*Collector)

// WithObserver adds an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(c *Collector) {
		if o == nil {
			return
		}
		if multi, ok := c.observer.(Observers); ok {
			c.observer = append(multi, o)
			return
		}
		c.observer = Observers{o}
	}
}

// WithClock replaces the wall clock.
func WithClock(clk Clock) Option {
	return func(c *Collector) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// New creates a collector. If the client reports state transitions they are
// forwarded to the observers.
func New(cfg Config, client Client, s sampler.Sampler, opts ...Option) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StatusEvery < 0 {
		cfg.StatusEvery = 0
	}

	c := &Collector{
		cfg:      cfg,
		client:   client,
		sampler:  s,
		observer: Observers{},
		clock:    RealClock(),
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if n, ok := client.(stateNotifier); ok {
		n.SetOnStateChange(c.observer.StateChanged)
	}
	return c
}

// Run samples and delivers until ctx is cancelled, then shuts the client
// down. Failures never end the loop; Run always returns nil.
func (c *Collector) Run(ctx context.Context) error {
	c.startedAt.Store(c.clock.Now().UnixNano())
	c.logger.Info("collector started", "interval", c.cfg.Interval.String())

	defer func() {
		if err := c.client.Shutdown(); err != nil {
			c.logger.Warn("client shutdown failed", "error", err)
		}
		c.logger.Info("collector stopped", "delivered", c.delivered.Load())
	}()

	for ctx.Err() == nil {
		next := c.tick(ctx)
		if !c.sleep(ctx, next) {
			break
		}
	}
	return nil
}

// tick runs one sample-and-deliver cycle and returns how long to wait
// before the next one.
func (c *Collector) tick(ctx context.Context) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrPanic, r)
			c.logger.Error("tick panicked, reconnecting", "error", err)
			if abortErr := c.client.Abort(err); abortErr != nil {
				err = abortErr
			}
			c.recordFailure(err)
			next = 0
		}
	}()

	if c.client.State() == tsstore.StateFailed {
		delay := c.client.NextRetryDelay()
		c.observer.Retrying(delay)
		c.logger.Info("reconnecting after backoff", "delay", delay.String())
		if !c.sleep(ctx, delay) {
			return 0
		}
	}

	rec, err := c.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		err = tsstore.Acquisition(err)
		c.skipped.Add(1)
		c.observer.Skipped(err)
		c.logger.Warn("sample skipped", "error", err)
		return c.cfg.Interval
	}

	if c.client.State() != tsstore.StateReady {
		if err := c.client.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return 0
			}
			c.recordFailure(err)
			c.logger.Warn("connect failed", "error", err)
			return 0
		}
	}

	start := c.clock.Now()
	ts, err := c.client.Write(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		c.recordFailure(err)
		c.logger.Warn("write failed, record dropped", "error", err)
		if c.client.State() == tsstore.StateReady {
			// Rejected before reaching the wire; the connection is intact.
			return c.cfg.Interval
		}
		return 0
	}
	latency := c.clock.Now().Sub(start)

	n := c.delivered.Add(1)
	c.lastTimestamp.Store(ts)
	c.lastDelivery.Store(c.clock.Now().UnixNano())
	c.observer.Delivered(rec, ts, latency)

	if c.cfg.StatusEvery > 0 && n%uint64(c.cfg.StatusEvery) == 0 {
		c.logger.Info("collector status",
			"samples", n,
			"timestamp", ts,
			"last", summarize(rec),
		)
	}
	return c.cfg.Interval
}

// sleep waits for d or ctx, reporting false if ctx ended first.
func (c *Collector) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

func (c *Collector) recordFailure(err error) {
	c.failures.Add(1)
	c.lastErrMu.Lock()
	c.lastErr = err.Error()
	c.lastErrMu.Unlock()
	c.observer.Failed(err)
}

// Snapshot returns the collector's current counters and client state.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		State:         c.client.State().String(),
		Delivered:     c.delivered.Load(),
		Skipped:       c.skipped.Load(),
		Failures:      c.failures.Load(),
		LastTimestamp: c.lastTimestamp.Load(),
		Interval:      c.cfg.Interval.String(),
	}
	if ns := c.lastDelivery.Load(); ns != 0 {
		s.LastDelivery = time.Unix(0, ns).UTC()
	}
	if ns := c.startedAt.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns).UTC()
	}
	c.lastErrMu.Lock()
	s.LastError = c.lastErr
	c.lastErrMu.Unlock()
	return s
}

// summarize renders the first few fields as "name=value" pairs.
func summarize(rec tsstore.Record) string {
	fields := rec.Fields()
	parts := make([]string, 0, summaryFields)
	for i, f := range fields {
		if i == summaryFields {
			break
		}
		parts = append(parts, f.Name+"="+strconv.FormatFloat(f.Value, 'g', -1, 64))
	}
	return strings.Join(parts, " ")
}
