package output

import "go.opentelemetry.io/otel/attribute"

// MultiWriter fans every record out to all wrapped writers.
// The first error stops the fan-out and propagates.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter wraps writers into a single Writer.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) RegisterThread(pid, tid uint64, name string, args []attribute.KeyValue) error {
	for _, w := range m.writers {
		if err := w.RegisterThread(pid, tid, name, args); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) DurationBegin(pid, tid uint64, name, category string, ts uint64, args []attribute.KeyValue) error {
	for _, w := range m.writers {
		if err := w.DurationBegin(pid, tid, name, category, ts, args); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) DurationEnd(pid, tid uint64, name, category string, ts uint64) error {
	for _, w := range m.writers {
		if err := w.DurationEnd(pid, tid, name, category, ts); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) Instant(pid, tid uint64, name, category string, ts uint64, args []attribute.KeyValue) error {
	for _, w := range m.writers {
		if err := w.Instant(pid, tid, name, category, ts, args); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) Wakeup(cpu uint32, ts uint64, tid uint64) error {
	for _, w := range m.writers {
		if err := w.Wakeup(cpu, ts, tid); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) NameObject(pid, tid uint64, name string, objectID uint64) error {
	for _, w := range m.writers {
		if err := w.NameObject(pid, tid, name, objectID); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every writer, returning the first error but attempting all.
func (m *MultiWriter) Close() error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
