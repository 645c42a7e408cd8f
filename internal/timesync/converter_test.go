package timesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClock(t *testing.T) {
	clock, err := NewClock()
	require.NoError(t, err)

	// Boot time is in the past, but not absurdly so.
	assert.True(t, clock.BootTime().Before(time.Now()))
	assert.True(t, clock.BootTime().After(time.Now().AddDate(-10, 0, 0)))
}

func TestToWallClock(t *testing.T) {
	boot := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &Clock{bootTime: boot}

	assert.Equal(t, boot, clock.ToWallClock(0))
	assert.Equal(t, boot.Add(1500*time.Nanosecond), clock.ToWallClock(1500))
	assert.Equal(t, boot.Add(time.Hour), clock.ToWallClock(uint64(time.Hour.Nanoseconds())))
}

func TestToWallClock_Ordering(t *testing.T) {
	clock, err := NewClock()
	require.NoError(t, err)

	a := clock.ToWallClock(1000)
	b := clock.ToWallClock(2000)
	assert.True(t, a.Before(b))
}
