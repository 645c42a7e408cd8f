package output

import "go.opentelemetry.io/otel/attribute"

// Writer is the trace-format boundary.
//
// Thread ids are flat ids (see translator.Flat); the process id is the
// traced child's PID. Timestamps are nanoseconds on the child's monotonic
// clock. Any error returned by a Writer is fatal to the session.
type Writer interface {
	// RegisterThread introduces a thread object before any record mentions it.
	RegisterThread(pid, tid uint64, name string, args []attribute.KeyValue) error

	// DurationBegin opens a nested duration slice on the given thread.
	DurationBegin(pid, tid uint64, name, category string, ts uint64, args []attribute.KeyValue) error

	// DurationEnd closes the innermost open slice on the given thread.
	// Pairing with the matching begin is positional and resolved downstream.
	DurationEnd(pid, tid uint64, name, category string, ts uint64) error

	// Instant marks a single moment in time on the given thread.
	Instant(pid, tid uint64, name, category string, ts uint64, args []attribute.KeyValue) error

	// Wakeup marks that the thread tid became runnable, attributed to the
	// clock of execution context cpu.
	Wakeup(cpu uint32, ts uint64, tid uint64) error

	// NameObject associates a human-readable name with an object id.
	NameObject(pid, tid uint64, name string, objectID uint64) error

	// Close flushes and releases the underlying sink.
	Close() error
}
