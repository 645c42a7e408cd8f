package cursor

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"fibertrace/internal/event"
)

// BufferWriter appends records to one ring's buffer file in the layout the
// cursor reads. It mirrors the instrumented runtime's writer side and
// backs the test fixtures that stand in for a real instrumented child.
type BufferWriter struct {
	f       *os.File
	dropped uint64
}

// CreateBuffer creates the buffer file for ringID inside dir and writes
// its header.
func CreateBuffer(dir string, ringID uint32) (*BufferWriter, error) {
	path := filepath.Join(dir, fmt.Sprintf("ring-%d.buf", ringID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating ring buffer: %w", err)
	}
	bw := &BufferWriter{f: f}
	if err := bw.writeHeader(); err != nil {
		_ = f.Close() //nolint:errcheck // Best-effort cleanup in error path
		return nil, err
	}
	return bw, nil
}

// Append writes one event record.
func (b *BufferWriter) Append(ev *event.Event) error {
	if err := binary.Write(b.f, binary.LittleEndian, ev); err != nil {
		return fmt.Errorf("appending event record: %w", err)
	}
	return nil
}

// SetDropped bumps the header's dropped counter to total. The counter only
// grows; the cursor reports the delta as lost events.
func (b *BufferWriter) SetDropped(total uint64) error {
	b.dropped = total
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], total)
	if _, err := b.f.WriteAt(buf[:], 8); err != nil {
		return fmt.Errorf("updating dropped counter: %w", err)
	}
	return nil
}

// Close closes the buffer file. The file stays behind: buffers are
// preserved after exit so a final drain can read them.
func (b *BufferWriter) Close() error {
	return b.f.Close()
}

func (b *BufferWriter) writeHeader() error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], fileMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], fileVersion)
	binary.LittleEndian.PutUint64(hdr[8:16], b.dropped)
	// Sequential write so appends land after the header; SetDropped
	// patches the counter in place without moving the write offset.
	if _, err := b.f.Write(hdr[:]); err != nil {
		return fmt.Errorf("writing ring buffer header: %w", err)
	}
	return nil
}
