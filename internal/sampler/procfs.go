package sampler

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// cpuTimes is the aggregate line of /proc/stat in jiffies.
type cpuTimes struct {
	total uint64
	idle  uint64 // idle + iowait
}

// parseCPUStat reads the aggregate "cpu" line of /proc/stat.
func parseCPUStat(r io.Reader) (cpuTimes, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}

		var t cpuTimes
		for i, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("%w: /proc/stat column %d: %w", ErrParse, i+1, err)
			}
			t.total += v
			// columns: user nice system idle iowait irq softirq steal ...
			if i == 3 || i == 4 {
				t.idle += v
			}
		}
		return t, nil
	}
	if err := scanner.Err(); err != nil {
		return cpuTimes{}, err
	}
	return cpuTimes{}, fmt.Errorf("%w: no cpu line in /proc/stat", ErrParse)
}

// busyPercent returns the share of non-idle time between two readings.
func busyPercent(prev, cur cpuTimes) float64 {
	if cur.total <= prev.total {
		return 0
	}
	total := cur.total - prev.total
	var idle uint64
	if cur.idle > prev.idle {
		idle = cur.idle - prev.idle
	}
	if idle > total {
		return 0
	}
	return float64(total-idle) * 100 / float64(total)
}

// memInfo holds the /proc/meminfo values used for the memory fields, in bytes.
type memInfo struct {
	total     uint64
	available uint64
}

// parseMeminfo reads MemTotal and MemAvailable.
func parseMeminfo(r io.Reader) (memInfo, error) {
	var m memInfo
	var haveTotal, haveAvail bool

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		var dst *uint64
		switch fields[0] {
		case "MemTotal:":
			dst, haveTotal = &m.total, true
		case "MemAvailable:":
			dst, haveAvail = &m.available, true
		default:
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return memInfo{}, fmt.Errorf("%w: %s: %w", ErrParse, fields[0], err)
		}
		*dst = kb * 1024
	}
	if err := scanner.Err(); err != nil {
		return memInfo{}, err
	}
	if !haveTotal || !haveAvail {
		return memInfo{}, fmt.Errorf("%w: MemTotal or MemAvailable missing", ErrParse)
	}
	return m, nil
}

// netBytes is the byte total over all non-loopback interfaces.
type netBytes struct {
	rx uint64
	tx uint64
}

// parseNetDev sums receive and transmit bytes from /proc/net/dev, skipping lo.
func parseNetDev(r io.Reader) (netBytes, error) {
	var n netBytes

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(name) == "lo" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			continue
		}
		rx, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return netBytes{}, fmt.Errorf("%w: %s rx: %w", ErrParse, name, err)
		}
		tx, err := strconv.ParseUint(fields[8], 10, 64)
		if err != nil {
			return netBytes{}, fmt.Errorf("%w: %s tx: %w", ErrParse, name, err)
		}
		n.rx += rx
		n.tx += tx
	}
	return n, scanner.Err()
}

// parseLoadavg returns the one minute load average from /proc/loadavg.
func parseLoadavg(r io.Reader) (float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty /proc/loadavg", ErrParse)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: load: %w", ErrParse, err)
	}
	return v, nil
}
