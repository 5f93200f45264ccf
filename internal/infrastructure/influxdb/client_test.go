package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tsfeed/internal/infrastructure/config"
	"github.com/nerrad567/tsfeed/internal/infrastructure/influxdb"
)

// fakeInflux answers pings and records line-protocol write bodies.
type fakeInflux struct {
	*httptest.Server

	mu         sync.Mutex
	writes     []string
	rejectAll  bool
	pingStatus int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{pingStatus: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		w.WriteHeader(f.pingStatus)
	case strings.HasSuffix(r.URL.Path, "/write"):
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		reject := f.rejectAll
		if !reject {
			f.writes = append(f.writes, string(body))
		}
		f.mu.Unlock()
		if reject {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"rejected"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) lines() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "tsfeed-test-token",
		Org:           "tsfeed",
		Bucket:        "feeder",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, f *fakeInflux) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnect(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want %v", err, influxdb.ErrDisabled)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	f := newFakeInflux(t)
	url := f.URL
	f.Close()

	_, err := influxdb.Connect(context.Background(), testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want %v", err, influxdb.ErrConnectionFailed)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := testConfig(f.URL)
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()
}

func TestWriteDelivery(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	at := time.Unix(1_700_000_000, 0)
	client.WriteDelivery("metrics", map[string]any{"cpu_pct": 12.5}, 42, 2500*time.Microsecond, at)
	client.Flush()

	got := f.lines()
	for _, want := range []string{
		"tsfeed_delivery,store=metrics ",
		"ack_ts=42i",
		"cpu_pct=12.5",
		"latency_ms=2.5",
		" 1700000000000000000",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("line protocol %q missing %q", got, want)
		}
	}
}

func TestWriteConnectionEvent(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		kind    string
		detail  string
		want    string
		notWant string
	}{
		{
			name:    "transition",
			event:   "transition",
			detail:  "ready",
			want:    `tsfeed_connection,event=transition,store=metrics detail="ready"`,
			notWant: "kind=",
		},
		{
			name:   "failure",
			event:  "failure",
			kind:   "timeout",
			detail: "read timed out",
			want:   `tsfeed_connection,event=failure,kind=timeout,store=metrics detail="read timed out"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeInflux(t)
			client := connect(t, f)

			client.WriteConnectionEvent("metrics", tt.event, tt.kind, tt.detail, time.Unix(1, 0))
			client.Flush()

			got := f.lines()
			if !strings.Contains(got, tt.want) {
				t.Errorf("line protocol = %q, want %q", got, tt.want)
			}
			if tt.notWant != "" && strings.Contains(got, tt.notWant) {
				t.Errorf("line protocol = %q, should not contain %q", got, tt.notWant)
			}
		})
	}
}

func TestWriteAfterClose(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	client.WritePoint("dropped", nil, map[string]any{"v": 1})
	client.Flush()

	if got := f.lines(); got != "" {
		t.Errorf("writes after Close = %q, want none", got)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want %v", err, influxdb.ErrNotConnected)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestOnError(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	f.mu.Lock()
	f.rejectAll = true
	f.mu.Unlock()

	client.WritePoint("tsfeed_delivery", map[string]string{"store": "metrics"}, map[string]any{"v": 1.0})
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want %v", err, influxdb.ErrWriteFailed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("error callback not invoked")
	}
}
