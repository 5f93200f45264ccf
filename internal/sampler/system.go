package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nerrad567/tsfeed/internal/tsstore"
)

const (
	bytesPerMB = 1024 * 1024
	bytesPerGB = 1024 * 1024 * 1024

	// thermalZone is the SoC temperature on Raspberry Pi and most SBCs.
	thermalZone = "class/thermal/thermal_zone0/temp"
)

// SystemConfig locates the sources for the system sampler.
type SystemConfig struct {
	// ProcRoot is the procfs mount. Default: /proc
	ProcRoot string

	// SysRoot is the sysfs mount. Default: /sys
	SysRoot string

	// DiskPath is the filesystem reported by disk_pct and disk_free_gb.
	// Default: /
	DiskPath string
}

// counters carries the cumulative readings of the previous sample so the
// next one can report deltas.
type counters struct {
	cpu    cpuTimes
	net    netBytes
	primed bool
}

// System samples OS counters. The delta fields (cpu_pct, net_rx_mb,
// net_tx_mb) are computed against the previous call, so a System must not
// be shared between collectors.
type System struct {
	cfg  SystemConfig
	prev counters
	disk func(path string) (diskUsage, error)
}

// NewSystem creates a system sampler.
func NewSystem(cfg SystemConfig) *System {
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = "/proc"
	}
	if cfg.SysRoot == "" {
		cfg.SysRoot = "/sys"
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	return &System{cfg: cfg, disk: statDisk}
}

// Sample reads every source and returns:
//
//	cpu_pct, mem_pct, mem_avail_mb, disk_pct, disk_free_gb,
//	cpu_temp, load_1m, net_rx_mb, net_tx_mb
//
// On the first call cpu_pct is the average since boot and the network
// deltas are 0. A missing thermal zone reports cpu_temp 0. Disk fields are
// left out where statfs is unsupported.
func (s *System) Sample(ctx context.Context) (tsstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return tsstore.Record{}, err
	}

	cpu, err := readProc(s.cfg.ProcRoot, "stat", parseCPUStat)
	if err != nil {
		return tsstore.Record{}, err
	}
	mem, err := readProc(s.cfg.ProcRoot, "meminfo", parseMeminfo)
	if err != nil {
		return tsstore.Record{}, err
	}
	load, err := readProc(s.cfg.ProcRoot, "loadavg", parseLoadavg)
	if err != nil {
		return tsstore.Record{}, err
	}
	net, err := readProc(s.cfg.ProcRoot, "net/dev", parseNetDev)
	if err != nil {
		return tsstore.Record{}, err
	}

	var b tsstore.RecordBuilder
	b.Add("cpu_pct", round(busyPercent(s.prev.cpu, cpu), 1))

	var memPct float64
	if mem.total > 0 {
		memPct = float64(mem.total-min(mem.available, mem.total)) * 100 / float64(mem.total)
	}
	b.Add("mem_pct", round(memPct, 1))
	b.Add("mem_avail_mb", round(float64(mem.available)/bytesPerMB, 1))

	disk, err := s.disk(s.cfg.DiskPath)
	switch {
	case err == nil:
		b.Add("disk_pct", round(disk.usedPercent(), 1))
		b.Add("disk_free_gb", round(float64(disk.available)/bytesPerGB, 2))
	case errors.Is(err, errDiskUnsupported):
	default:
		return tsstore.Record{}, err
	}

	b.Add("cpu_temp", round(s.readTemperature(), 1))
	b.Add("load_1m", round(load, 2))

	var rxMB, txMB float64
	if s.prev.primed {
		rxMB = float64(delta(s.prev.net.rx, net.rx)) / bytesPerMB
		txMB = float64(delta(s.prev.net.tx, net.tx)) / bytesPerMB
	}
	b.Add("net_rx_mb", round(rxMB, 3))
	b.Add("net_tx_mb", round(txMB, 3))

	s.prev = counters{cpu: cpu, net: net, primed: true}
	return b.Record(), nil
}

// readTemperature returns the SoC temperature in degrees C, or 0.
func (s *System) readTemperature() float64 {
	data, err := os.ReadFile(filepath.Join(s.cfg.SysRoot, thermalZone))
	if err != nil {
		return 0
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0
	}
	return milli / 1000
}

// delta returns cur-prev, or 0 when a counter went backwards (interface
// reset or wrap).
func delta(prev, cur uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func readProc[T any](root, name string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	path := filepath.Join(root, name)
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer f.Close()

	v, err := parse(f)
	if err != nil {
		return zero, fmt.Errorf("reading %s: %w", path, err)
	}
	return v, nil
}

// diskUsage is a statfs result in bytes.
type diskUsage struct {
	total     uint64
	available uint64
}

func (d diskUsage) usedPercent() float64 {
	if d.total == 0 {
		return 0
	}
	return float64(d.total-min(d.available, d.total)) * 100 / float64(d.total)
}
