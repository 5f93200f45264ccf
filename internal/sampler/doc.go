// Package sampler produces one flat record per tick from local data sources.
//
// Two samplers are provided:
//
//   - System reads OS counters (CPU, memory, disk, load, temperature,
//     network) from /proc, /sys and statfs.
//   - Environment reads sensor values exposed as sysfs or IIO files, each
//     with its own scale, offset and precision.
//
// Samplers have no network awareness. A failed read is returned as an error
// and the collector skips that tick.
package sampler
