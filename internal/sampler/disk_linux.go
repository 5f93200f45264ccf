//go:build linux

package sampler

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// errDiskUnsupported is never returned on Linux.
var errDiskUnsupported = errors.New("sampler: disk usage unsupported on this platform")

func statDisk(path string) (diskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return diskUsage{}, fmt.Errorf("%w: statfs %s: %w", ErrSourceUnavailable, path, err)
	}
	bsize := uint64(st.Bsize) //nolint:gosec // block size is never negative
	return diskUsage{
		total:     st.Blocks * bsize,
		available: st.Bavail * bsize,
	}, nil
}
