//go:build !linux

package sampler

import "errors"

var errDiskUnsupported = errors.New("sampler: disk usage unsupported on this platform")

// statDisk is a stub; disk fields are only collected on Linux.
func statDisk(_ string) (diskUsage, error) {
	return diskUsage{}, errDiskUnsupported
}
