package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/tsfeed/internal/tsstore"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func connect(m *Metrics) {
	m.StateChanged(tsstore.StateDisconnected, tsstore.StateConnecting)
	m.StateChanged(tsstore.StateConnecting, tsstore.StateAuthenticating)
	m.StateChanged(tsstore.StateAuthenticating, tsstore.StateReady)
}

func TestDeliveredAndSkipped(t *testing.T) {
	m := newTestMetrics(t)
	rec := tsstore.NewRecord(tsstore.Field{Name: "temp", Value: 21.5})

	m.Delivered(rec, 1, 2*time.Millisecond)
	m.Delivered(rec, 2, 3*time.Millisecond)
	m.Skipped(errors.New("sensor missing"))

	if got := testutil.ToFloat64(m.acked); got != 2 {
		t.Errorf("acked = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.skipped); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.latency); got != 1 {
		t.Errorf("latency series = %d, want 1", got)
	}
}

func TestFailuresByKind(t *testing.T) {
	m := newTestMetrics(t)

	m.Failed(&tsstore.Error{Kind: tsstore.KindTimeout, Op: "write", Err: errors.New("i/o timeout")})
	m.Failed(&tsstore.Error{Kind: tsstore.KindTimeout, Op: "auth", Err: errors.New("i/o timeout")})
	m.Failed(&tsstore.Error{Kind: tsstore.KindProtocol, Op: "write", Err: tsstore.ErrWriteRejected})
	m.Failed(errors.New("unclassified"))

	tests := []struct {
		kind string
		want float64
	}{
		{"timeout", 2},
		{"protocol", 1},
		{"transport", 0},
		{"unknown", 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.failures.WithLabelValues(tt.kind)); got != tt.want {
			t.Errorf("failures{kind=%q} = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestConnectionStateAndReconnects(t *testing.T) {
	m := newTestMetrics(t)

	connect(m)
	if got := testutil.ToFloat64(m.state); got != float64(tsstore.StateReady) {
		t.Errorf("state = %v, want %v", got, float64(tsstore.StateReady))
	}
	if got := testutil.ToFloat64(m.reconnects); got != 0 {
		t.Errorf("reconnects after first connect = %v, want 0", got)
	}

	m.StateChanged(tsstore.StateReady, tsstore.StateFailed)
	m.Retrying(4 * time.Second)
	if got := testutil.ToFloat64(m.backoff); got != 4 {
		t.Errorf("backoff = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.state); got != float64(tsstore.StateFailed) {
		t.Errorf("state = %v, want failed", got)
	}

	m.StateChanged(tsstore.StateFailed, tsstore.StateDisconnected)
	connect(m)
	if got := testutil.ToFloat64(m.reconnects); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.backoff); got != 0 {
		t.Errorf("backoff after connect = %v, want 0", got)
	}
}

func TestNewRegistersEverything(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const want = `
# HELP tsfeed_samples_acked_total Records acknowledged by tsstore.
# TYPE tsfeed_samples_acked_total counter
tsfeed_samples_acked_total 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "tsfeed_samples_acked_total"); err != nil {
		t.Errorf("GatherAndCompare() error = %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) != 7 {
		t.Errorf("metric families = %d, want 7", len(families))
	}

	// A second registration on the same registry collides.
	if _, err := New(reg); err == nil {
		t.Error("New() on a used registry error = nil, want duplicate registration error")
	}
}
