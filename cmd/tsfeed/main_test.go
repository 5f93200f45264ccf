package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/tsfeed/internal/infrastructure/config"
	"github.com/nerrad567/tsfeed/internal/infrastructure/database"
	"github.com/nerrad567/tsfeed/internal/infrastructure/logging"
	"github.com/nerrad567/tsfeed/internal/journal"
	"github.com/nerrad567/tsfeed/internal/sampler"
)

// clearEnv unsets every variable run reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TSFEED_CONFIG", "TSFEED_ENDPOINT", "TSFEED_STORE_NAME", "TSFEED_API_KEY",
		"TSSTORE_API_KEY", "TSFEED_INTERVAL", "TSFEED_DATABASE_PATH", "TSFEED_MQTT_HOST",
		"TSFEED_MQTT_USERNAME", "TSFEED_MQTT_PASSWORD", "TSFEED_INFLUXDB_TOKEN",
		"TSFEED_STATUS_ADDR",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// ─── Flags ─────────────────────────────────────────────────────────

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"--config", "/etc/tsfeed.yaml", "--endpoint", "tcp://127.0.0.1:7070", "--interval", "30"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	cfg := &config.Config{}
	cfg.Store.StoreName = "from-file"
	opts.apply(cfg)

	if opts.configPath != "/etc/tsfeed.yaml" {
		t.Errorf("configPath = %q, want /etc/tsfeed.yaml", opts.configPath)
	}
	if cfg.Store.Endpoint != "tcp://127.0.0.1:7070" {
		t.Errorf("Endpoint = %q, want tcp://127.0.0.1:7070", cfg.Store.Endpoint)
	}
	if cfg.Collector.Interval != 30 {
		t.Errorf("Interval = %v, want 30", cfg.Collector.Interval)
	}
	if cfg.Store.StoreName != "from-file" {
		t.Errorf("StoreName = %q, want unset flag to keep from-file", cfg.Store.StoreName)
	}
}

func TestParseFlags_FractionalInterval(t *testing.T) {
	opts, err := parseFlags([]string{"--interval", "0.5"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	cfg := &config.Config{}
	opts.apply(cfg)
	if got := cfg.Interval(); got != 500*time.Millisecond {
		t.Errorf("Interval() = %v, want 500ms", got)
	}
}

func TestParseFlags_DryRunDisablesSinks(t *testing.T) {
	opts, err := parseFlags([]string{"--dry-run"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}

	cfg := &config.Config{}
	cfg.Logging.Output = "stdout"
	cfg.Database.Enabled = true
	cfg.MQTT.Enabled = true
	cfg.InfluxDB.Enabled = true
	cfg.Status.Enabled = true
	opts.apply(cfg)

	if cfg.Database.Enabled || cfg.MQTT.Enabled || cfg.InfluxDB.Enabled || cfg.Status.Enabled {
		t.Errorf("sinks still enabled: database=%v mqtt=%v influxdb=%v status=%v",
			cfg.Database.Enabled, cfg.MQTT.Enabled, cfg.InfluxDB.Enabled, cfg.Status.Enabled)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Logging.Output = %q, want stderr so stdout carries only records", cfg.Logging.Output)
	}
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"unknown flag", []string{"--bogus"}, nil},
		{"bad interval", []string{"--interval", "soon"}, nil},
		{"positional", []string{"extra"}, nil},
		{"help", []string{"--help"}, pflag.ErrHelp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, &bytes.Buffer{})
			if err == nil {
				t.Fatal("parseFlags() expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("parseFlags() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	clearEnv(t)

	if got := getConfigPath(""); got != "" {
		t.Errorf("getConfigPath() = %q, want empty", got)
	}

	t.Setenv("TSFEED_CONFIG", "/env/config.yaml")
	if got := getConfigPath(""); got != "/env/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env path", got)
	}
	if got := getConfigPath("/flag.yaml"); got != "/flag.yaml" {
		t.Errorf("getConfigPath(flag) = %q, want flag path", got)
	}
}

// ─── Sampler selection ─────────────────────────────────────────────

func TestNewSampler(t *testing.T) {
	dir := t.TempDir()
	sensor := writeFile(t, dir, "in_temp_input", "21500\n")

	tests := []struct {
		name    string
		cfg     config.SamplerConfig
		wantErr bool
	}{
		{name: "system", cfg: config.SamplerConfig{Kind: "system"}},
		{name: "default", cfg: config.SamplerConfig{}},
		{
			name: "environment",
			cfg: config.SamplerConfig{
				Kind: "environment",
				Environment: config.EnvironmentConfig{Sensors: []config.SensorConfig{
					{Field: "temp", Path: sensor, Scale: 0.001, Precision: 1},
				}},
			},
		},
		{name: "environment without sensors", cfg: config.SamplerConfig{Kind: "environment"}, wantErr: true},
		{name: "unknown", cfg: config.SamplerConfig{Kind: "gpio"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := newSampler(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newSampler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s == nil {
				t.Error("newSampler() returned nil sampler")
			}
		})
	}

	s, _ := newSampler(tests[2].cfg)
	rec, err := s.(*sampler.Environment).Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if v, ok := rec.Get("temp"); !ok || v != 21.5 {
		t.Errorf("temp = %v (%v), want 21.5", v, ok)
	}
}

// ─── run ───────────────────────────────────────────────────────────

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"--version"}, &out); err != nil {
		t.Fatalf("run(--version) error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "tsfeed "+version) {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"--config", "/nonexistent/tsfeed.yaml"}, "reading config file"},
		{"no credentials", nil, "store.api_key is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

// startStore serves tsstore on a Unix socket and reports every record line.
func startStore(t *testing.T, dir string) (string, <-chan string) {
	t.Helper()

	path := filepath.Join(dir, "ts.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	records := make(chan string, 16)
	go func() {
		ts := int64(1700000000)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			r := bufio.NewReader(conn)
			auth, err := r.ReadString('\n')
			if err != nil || auth != "AUTH test abc123\n" {
				conn.Write([]byte("ERR auth\n")) //nolint:errcheck // test server
				conn.Close()
				continue
			}
			conn.Write([]byte("OK\n")) //nolint:errcheck // test server
			for {
				line, err := r.ReadString('\n')
				if err != nil || line == "QUIT\n" {
					break
				}
				ts++
				conn.Write([]byte("OK " + strconv.FormatInt(ts, 10) + "\n")) //nolint:errcheck // test server
				select {
				case records <- strings.TrimSpace(line):
				default:
				}
			}
			conn.Close()
		}
	}()
	return path, records
}

func TestRun_EndToEnd(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	sockPath, records := startStore(t, dir)
	sensor := writeFile(t, dir, "temp", "t=21500\n")
	dbPath := filepath.Join(dir, "journal.db")

	cfgPath := writeFile(t, dir, "tsfeed.yaml", `
store:
  endpoint: "unix://`+sockPath+`"
  store_name: test
collector:
  interval: 1
sampler:
  kind: environment
  environment:
    sensors:
      - field: temp
        path: "`+sensor+`"
        scale: 0.001
        precision: 1
database:
  enabled: true
  path: "`+dbPath+`"
status:
  enabled: false
logging:
  level: error
  format: text
`)
	t.Setenv("TSSTORE_API_KEY", "abc123")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"--config", cfgPath}, &bytes.Buffer{}) }()

	select {
	case line := <-records:
		if line != `{"temp": 21.5}` {
			t.Errorf("record line = %q, want {\"temp\": 21.5}", line)
		}
	case err := <-done:
		t.Fatalf("run() returned early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("no record delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v, want nil on shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	db, err := database.Open(context.Background(), database.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("reopening journal: %v", err)
	}
	defer db.Close()

	totals, err := journal.New(db, "test", sockPath, logging.Discard()).Totals(context.Background())
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if totals.Acked < 1 || totals.Sessions != 1 {
		t.Errorf("totals = %+v, want at least one ack in one session", totals)
	}
}

func TestRun_StatusAddressInUse(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving status port: %v", err)
	}
	defer busy.Close()

	sockPath, records := startStore(t, dir)
	sensor := writeFile(t, dir, "temp", "t=21500\n")
	cfgPath := writeFile(t, dir, "tsfeed.yaml", `
store:
  endpoint: "unix://`+sockPath+`"
  store_name: test
collector:
  interval: 1
sampler:
  kind: environment
  environment:
    sensors:
      - field: temp
        path: "`+sensor+`"
        scale: 0.001
database:
  enabled: false
status:
  enabled: true
  addr: "`+busy.Addr().String()+`"
logging:
  level: error
  format: text
`)
	t.Setenv("TSSTORE_API_KEY", "abc123")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"--config", cfgPath}, &bytes.Buffer{}) }()

	// Two deliveries prove the loop outlived the failed listener, which
	// fails straight away at startup.
	for i := range 2 {
		select {
		case <-records:
		case err := <-done:
			t.Fatalf("run() returned after %d records: %v", i, err)
		case <-time.After(10 * time.Second):
			t.Fatalf("record %d not delivered", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil on shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestRun_DryRun(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	sensor := writeFile(t, dir, "temp", "t=21500\n")
	// No store section and no API key: a dry run never dials.
	cfgPath := writeFile(t, dir, "tsfeed.yaml", `
collector:
  interval: 0.2
sampler:
  kind: environment
  environment:
    sensors:
      - field: temp
        path: "`+sensor+`"
        scale: 0.001
        precision: 1
logging:
  level: error
  format: text
`)

	pr, pw := io.Pipe()
	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(pr)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			default:
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"--config", cfgPath, "--dry-run"}, pw)
		pw.Close()
	}()

	for i := range 2 {
		select {
		case line := <-lines:
			if line != `{"temp": 21.5}` {
				t.Errorf("line %d = %q, want {\"temp\": 21.5}", i+1, line)
			}
		case err := <-done:
			t.Fatalf("run() returned early: %v", err)
		case <-time.After(10 * time.Second):
			t.Fatalf("line %d not printed", i+1)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}
