package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
)

// Trace Event Format phase identifiers.
//
// https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU
const (
	phaseDurationBegin = "B"
	phaseDurationEnd   = "E"
	phaseInstant       = "i"
	phaseObjectCreated = "N"
	phaseMetadata      = "M"
)

// traceEvent is one entry of the traceEvents array.
type traceEvent struct {
	Name            string         `json:"name,omitempty"`
	Phase           string         `json:"ph"`
	Category        string         `json:"cat,omitempty"`
	TimestampMicros float64        `json:"ts"`
	ProcessID       uint64         `json:"pid"`
	ThreadID        uint64         `json:"tid"`
	ID              uint64         `json:"id,omitempty"`
	Args            map[string]any `json:"args,omitempty"`
}

// TraceWriter appends Trace Event Format JSON records to an output stream.
//
// Records are streamed one per line as they arrive; the enclosing JSON
// object is completed on Close. Not safe for concurrent use: the session's
// polling strand is the only writer.
type TraceWriter struct {
	w      *bufio.Writer
	closer io.Closer
	pid    uint64
	count  int
	meta   map[string]any
	closed bool
}

// NewTraceWriter creates a TraceWriter over an arbitrary stream.
// pid is the traced child's process id, stamped on wakeup records.
func NewTraceWriter(w io.Writer, pid uint64) *TraceWriter {
	tw := &TraceWriter{
		w:    bufio.NewWriter(w),
		pid:  pid,
		meta: make(map[string]any),
	}
	if c, ok := w.(io.Closer); ok {
		tw.closer = c
	}
	return tw
}

// NewTraceFile creates the output file at path and returns a TraceWriter
// over it.
func NewTraceFile(path string, pid uint64) (*TraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace file: %w", err)
	}
	return NewTraceWriter(f, pid), nil
}

// SetMetadata records a key/value pair in the trace file's otherData
// section. Must be called before Close.
func (t *TraceWriter) SetMetadata(key string, value any) {
	t.meta[key] = value
}

// RegisterThread emits a thread_name metadata record for tid.
func (t *TraceWriter) RegisterThread(pid, tid uint64, name string, args []attribute.KeyValue) error {
	ev := traceEvent{
		Name:      "thread_name",
		Phase:     phaseMetadata,
		ProcessID: pid,
		ThreadID:  tid,
		Args:      map[string]any{"name": name},
	}
	for k, v := range attrsToArgs(args) {
		ev.Args[k] = v
	}
	return t.write(ev)
}

// DurationBegin emits a B record on tid.
func (t *TraceWriter) DurationBegin(pid, tid uint64, name, category string, ts uint64, args []attribute.KeyValue) error {
	return t.write(traceEvent{
		Name:            name,
		Phase:           phaseDurationBegin,
		Category:        category,
		TimestampMicros: micros(ts),
		ProcessID:       pid,
		ThreadID:        tid,
		Args:            attrsToArgs(args),
	})
}

// DurationEnd emits an E record on tid.
func (t *TraceWriter) DurationEnd(pid, tid uint64, name, category string, ts uint64) error {
	return t.write(traceEvent{
		Name:            name,
		Phase:           phaseDurationEnd,
		Category:        category,
		TimestampMicros: micros(ts),
		ProcessID:       pid,
		ThreadID:        tid,
	})
}

// Instant emits an i record on tid.
func (t *TraceWriter) Instant(pid, tid uint64, name, category string, ts uint64, args []attribute.KeyValue) error {
	return t.write(traceEvent{
		Name:            name,
		Phase:           phaseInstant,
		Category:        category,
		TimestampMicros: micros(ts),
		ProcessID:       pid,
		ThreadID:        tid,
		Args:            attrsToArgs(args),
	})
}

// Wakeup emits an instant record marking that tid became runnable on cpu.
func (t *TraceWriter) Wakeup(cpu uint32, ts uint64, tid uint64) error {
	return t.write(traceEvent{
		Name:            "wakeup",
		Phase:           phaseInstant,
		Category:        "sched",
		TimestampMicros: micros(ts),
		ProcessID:       t.pid,
		ThreadID:        tid,
		Args:            map[string]any{"cpu": cpu},
	})
}

// NameObject emits an object record associating name with objectID.
func (t *TraceWriter) NameObject(pid, tid uint64, name string, objectID uint64) error {
	return t.write(traceEvent{
		Name:      name,
		Phase:     phaseObjectCreated,
		ProcessID: pid,
		ThreadID:  tid,
		ID:        objectID,
	})
}

// Close completes the JSON document, flushes it, and closes the underlying
// file if there is one. Safe to call more than once.
func (t *TraceWriter) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	if t.count == 0 {
		if _, err := t.w.WriteString("{\"traceEvents\":[\n"); err != nil {
			return err
		}
	}
	if _, err := t.w.WriteString("\n],\"displayTimeUnit\":\"ns\""); err != nil {
		return err
	}
	if len(t.meta) > 0 {
		data, err := json.Marshal(t.meta)
		if err != nil {
			return fmt.Errorf("encoding trace metadata: %w", err)
		}
		if _, err := t.w.WriteString(",\"otherData\":" + string(data)); err != nil {
			return err
		}
	}
	if _, err := t.w.WriteString("}\n"); err != nil {
		return err
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("flushing trace file: %w", err)
	}
	if t.closer != nil {
		if err := t.closer.Close(); err != nil {
			return fmt.Errorf("closing trace file: %w", err)
		}
	}
	return nil
}

func (t *TraceWriter) write(ev traceEvent) error {
	if t.closed {
		return fmt.Errorf("trace writer is closed")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding trace record: %w", err)
	}
	prefix := ",\n"
	if t.count == 0 {
		prefix = "{\"traceEvents\":[\n"
	}
	if _, err := t.w.WriteString(prefix + string(data)); err != nil {
		return fmt.Errorf("writing trace record: %w", err)
	}
	t.count++
	return nil
}

// micros converts a nanosecond timestamp to the microsecond resolution the
// Trace Event Format expects, keeping sub-microsecond precision.
func micros(ts uint64) float64 {
	return float64(ts) / 1e3
}

// attrsToArgs converts an attribute list to a JSON argument mapping.
func attrsToArgs(attrs []attribute.KeyValue) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	args := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		switch kv.Value.Type() {
		case attribute.INT64:
			args[string(kv.Key)] = kv.Value.AsInt64()
		case attribute.FLOAT64:
			args[string(kv.Key)] = kv.Value.AsFloat64()
		case attribute.BOOL:
			args[string(kv.Key)] = kv.Value.AsBool()
		case attribute.STRING:
			args[string(kv.Key)] = kv.Value.AsString()
		default:
			args[string(kv.Key)] = kv.Value.Emit()
		}
	}
	return args
}
