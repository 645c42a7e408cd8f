package timesync

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Clock converts the child's monotonic timestamps (nanoseconds since boot)
// to wall-clock time.
type Clock struct {
	bootTime time.Time
}

// NewClock creates a Clock anchored at the system boot time from
// /proc/stat. If reading fails it falls back to a conservative estimate so
// the recording can continue.
func NewClock() (*Clock, error) {
	bootTime, err := readBootTime()
	if err != nil {
		bootTime = time.Now().Add(-time.Hour)
	}
	return &Clock{bootTime: bootTime}, nil
}

// ToWallClock converts a monotonic timestamp to wall-clock time.
func (c *Clock) ToWallClock(monotonicNanos uint64) time.Time {
	//nolint:gosec // uint64 to int64 conversion is safe for reasonable timestamps
	return c.bootTime.Add(time.Duration(monotonicNanos))
}

// BootTime returns the boot time used for conversions.
func (c *Clock) BootTime() time.Time {
	return c.bootTime
}

// readBootTime reads the btime field from /proc/stat.
func readBootTime() (time.Time, error) {
	file, err := os.Open("/proc/stat")
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to open /proc/stat: %w", err)
	}
	defer func() {
		_ = file.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		sec, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse btime: %w", err)
		}
		return time.Unix(sec, 0), nil
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, fmt.Errorf("error reading /proc/stat: %w", err)
	}
	return time.Time{}, fmt.Errorf("btime not found in /proc/stat")
}
