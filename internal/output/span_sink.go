package output

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fibertrace/internal/timesync"
)

// spanEntry is one open duration slice mirrored as a span.
type spanEntry struct {
	span trace.Span
	ctx  context.Context
}

// SpanSink mirrors duration records to an OpenTelemetry collector.
//
// Each flat thread id gets its own span stack: a duration-begin starts a
// span as a child of the innermost open span on that thread, a duration-end
// finishes it. Instant records become span events on the innermost open
// span. Thread registration, wakeups and object naming have no span
// equivalent and are dropped.
type SpanSink struct {
	tracer trace.Tracer
	clock  *timesync.Clock
	stacks map[uint64][]spanEntry // flat thread id -> open spans
	names  map[uint64]string     // flat thread id -> registered name
}

// NewSpanSink creates a SpanSink exporting through tracer, converting the
// child's monotonic timestamps to wall-clock time with clock.
func NewSpanSink(tracer trace.Tracer, clock *timesync.Clock) *SpanSink {
	return &SpanSink{
		tracer: tracer,
		clock:  clock,
		stacks: make(map[uint64][]spanEntry),
		names:  make(map[uint64]string),
	}
}

// RegisterThread remembers the thread name so spans on tid can carry it.
func (s *SpanSink) RegisterThread(_, tid uint64, name string, _ []attribute.KeyValue) error {
	s.names[tid] = name
	return nil
}

// DurationBegin starts a span on tid's stack.
func (s *SpanSink) DurationBegin(_, tid uint64, name, category string, ts uint64, args []attribute.KeyValue) error {
	ctx := context.Background()
	if stack := s.stacks[tid]; len(stack) > 0 {
		ctx = stack[len(stack)-1].ctx
	}

	//nolint:gosec // int64 conversion is safe for reasonable thread ids
	attrs := []attribute.KeyValue{
		attribute.Int64("thread.id", int64(tid)),
	}
	if threadName, ok := s.names[tid]; ok {
		attrs = append(attrs, attribute.String("thread.name", threadName))
	}
	if category != "" {
		attrs = append(attrs, attribute.String("trace.category", category))
	}
	attrs = append(attrs, args...)

	ctx, span := s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(s.clock.ToWallClock(ts)),
		trace.WithAttributes(attrs...),
	)
	s.stacks[tid] = append(s.stacks[tid], spanEntry{span: span, ctx: ctx})
	return nil
}

// DurationEnd finishes the innermost open span on tid.
func (s *SpanSink) DurationEnd(_, tid uint64, _, _ string, ts uint64) error {
	stack := s.stacks[tid]
	if len(stack) == 0 {
		// End without a begin we saw; the begin predates the recording.
		return nil
	}
	entry := stack[len(stack)-1]
	s.stacks[tid] = stack[:len(stack)-1]

	entry.span.SetStatus(codes.Ok, "")
	entry.span.End(trace.WithTimestamp(s.clock.ToWallClock(ts)))
	return nil
}

// Instant attaches a span event to the innermost open span on tid.
func (s *SpanSink) Instant(_, tid uint64, name, _ string, ts uint64, args []attribute.KeyValue) error {
	stack := s.stacks[tid]
	if len(stack) == 0 {
		return nil
	}
	stack[len(stack)-1].span.AddEvent(name,
		trace.WithTimestamp(s.clock.ToWallClock(ts)),
		trace.WithAttributes(args...),
	)
	return nil
}

// Wakeup has no span equivalent.
func (s *SpanSink) Wakeup(uint32, uint64, uint64) error { return nil }

// NameObject has no span equivalent.
func (s *SpanSink) NameObject(uint64, uint64, string, uint64) error { return nil }

// Close ends any spans still open, stamped with their begin timestamps
// unavailable, so they end "now". Provider shutdown flushes them.
func (s *SpanSink) Close() error {
	for tid, stack := range s.stacks {
		for i := len(stack) - 1; i >= 0; i-- {
			stack[i].span.End()
		}
		delete(s.stacks, tid)
	}
	return nil
}
