// Package output writes trace records produced by the event translator.
//
// The Writer interface is the trace-format boundary: every record takes a
// (process-id, thread-id) pair naming its logical location, a timestamp on
// the child's monotonic clock, and an optional argument mapping.
//
// Two implementations exist. TraceWriter appends Chrome Trace Event Format
// JSON to a file for timeline viewers (Perfetto, chrome://tracing).
// SpanSink mirrors duration records to an OpenTelemetry collector as spans.
// MultiWriter fans a record out to both.
package output
