package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fibertrace/internal/annotate"
	"fibertrace/internal/config"
	"fibertrace/internal/cursor"
	"fibertrace/internal/event"
)

// testConfig points the session at a pre-seeded buffer directory so a plain
// child like sleep stands in for an instrumented process.
func testConfig(t *testing.T, command string, args ...string) *config.Config {
	t.Helper()
	base := t.TempDir()
	return &config.Config{
		Command:  command,
		Args:     args,
		Output:   filepath.Join(base, "trace.json"),
		PollHz:   200,
		TraceDir: filepath.Join(base, "bufs"),
	}
}

func seedBuffer(t *testing.T, dir string, events ...event.Event) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	b, err := cursor.CreateBuffer(dir, 0)
	require.NoError(t, err)
	for i := range events {
		require.NoError(t, b.Append(&events[i]))
	}
	require.NoError(t, b.Close())
}

func createdEvent(ts uint64, fiber uint32) event.Event {
	ev := event.Event{RingID: 0, Timestamp: ts, Kind: event.EVENT_CREATED}
	ev.FiberData().FiberID = fiber
	return ev
}

func readTrace(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		TraceEvents []map[string]any `json:"traceEvents"`
		OtherData   map[string]any   `json:"otherData"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc.TraceEvents
}

func TestRun_RecordsUntilChildExits(t *testing.T) {
	cfg := testConfig(t, "sleep", "0.3")
	seedBuffer(t, cfg.TraceDir, createdEvent(100, 1), createdEvent(200, 2))

	s := New(cfg, nil)
	err := s.Run(context.Background())
	require.NoError(t, err)

	records := readTrace(t, cfg.Output)
	require.NotEmpty(t, records)

	// One thread per ring plus one per fiber, then a create instant each.
	var threads, instants int
	for _, r := range records {
		switch r["ph"] {
		case "M":
			threads++
		case "i":
			instants++
		}
	}
	assert.Equal(t, 3, threads)
	assert.Equal(t, 2, instants)

	_, err = os.Stat(cfg.TraceDir)
	assert.True(t, os.IsNotExist(err), "buffer directory is removed after the run")
}

func TestRun_DrainsEventsWrittenNearExit(t *testing.T) {
	cfg := testConfig(t, "sleep", "0.2")
	seedBuffer(t, cfg.TraceDir, createdEvent(100, 1))

	s := New(cfg, nil)
	require.NoError(t, s.Run(context.Background()))

	records := readTrace(t, cfg.Output)
	var found bool
	for _, r := range records {
		if r["name"] == "create-fiber" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRun_CancellationCleansUp(t *testing.T) {
	cfg := testConfig(t, "sleep", "5")
	seedBuffer(t, cfg.TraceDir, createdEvent(100, 1))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	s := New(cfg, nil)
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(cfg.TraceDir)
	assert.True(t, os.IsNotExist(statErr), "buffer directory is removed on cancellation")

	// The trace file is still closed into valid JSON.
	records := readTrace(t, cfg.Output)
	assert.NotEmpty(t, records)
}

func TestRun_CancellationWhileWaitingForBuffers(t *testing.T) {
	// No buffers ever appear; the cursor wait must still honor the context.
	cfg := testConfig(t, "sleep", "5")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	s := New(cfg, nil)
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_StartFailure(t *testing.T) {
	cfg := testConfig(t, "fibertrace-no-such-binary")

	s := New(cfg, nil)
	err := s.Run(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(cfg.TraceDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_BadAnnotationFailsBeforeSpawn(t *testing.T) {
	cfg := testConfig(t, "sleep", "5")
	cfg.Annotations = []annotate.Annotation{
		{Name: "bad", Expression: "env["},
	}

	start := time.Now()
	s := New(cfg, nil)
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "fails before the child runs")
}

func TestEnvironMap(t *testing.T) {
	m := environMap([]string{"A=1", "B=x=y", "malformed", "=empty"})
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y"}, m)
}
