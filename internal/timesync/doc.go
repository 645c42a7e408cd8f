// Package timesync anchors the child's monotonic event timestamps to
// wall-clock time. The trace file keeps raw monotonic timestamps; only the
// OpenTelemetry mirror needs absolute times.
package timesync
