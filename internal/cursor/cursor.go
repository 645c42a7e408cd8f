// Package cursor reads a process's emitted runtime events in order.
//
// The instrumented runtime appends fixed-size records to one buffer file
// per ring, ring-<id>.buf, inside the trace directory. A Cursor tracks a
// read offset per file, picks up ring files as they appear, and delivers
// newly available records merged into timestamp order. Records the runtime
// could not retain show up as a per-ring dropped counter in the file
// header and are surfaced as lost-event counts instead of events.
package cursor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"fibertrace/internal/event"
)

const (
	fileMagic   uint32 = 0x46544252 // "FTRB"
	fileVersion uint32 = 1

	// headerSize is magic + version + dropped counter.
	headerSize = 16
)

// ErrNoBuffers reports that the runtime has not created any trace buffers
// yet. Opening is expected to be retried.
var ErrNoBuffers = errors.New("no trace buffers present")

// Handler receives the typed events and lost-event reports a Read delivers.
type Handler interface {
	HandleEvent(*event.Event) error
	HandleLost(ringID uint32, count uint64)
}

// ringFile is the read state for one per-ring buffer file.
type ringFile struct {
	ringID  uint32
	path    string
	offset  int64  // next unread byte
	dropped uint64 // last observed dropped counter
}

// Cursor reads the trace buffers of one process.
type Cursor struct {
	dir   string
	pid   int
	files map[uint32]*ringFile
}

// Open opens a cursor over the trace directory for the given process.
// It fails with ErrNoBuffers while the runtime has not created any buffer
// file yet; callers retry until the child has started emitting.
func Open(dir string, pid int) (*Cursor, error) {
	c := &Cursor{
		dir:   dir,
		pid:   pid,
		files: make(map[uint32]*ringFile),
	}
	if err := c.refresh(); err != nil {
		return nil, err
	}
	if len(c.files) == 0 {
		return nil, fmt.Errorf("opening trace buffers for pid %d in %s: %w", pid, dir, ErrNoBuffers)
	}
	return c, nil
}

// Read delivers all currently available events to h, merged into timestamp
// order across rings, and returns how many were delivered. Dropped-counter
// growth is reported through h.HandleLost before any event. A handler
// error aborts the pass and propagates.
func (c *Cursor) Read(h Handler) (int, error) {
	if err := c.refresh(); err != nil {
		return 0, err
	}

	var batch []event.Event
	for _, id := range c.ringIDs() {
		rf := c.files[id]
		events, lost, err := c.readRing(rf)
		if err != nil {
			return 0, err
		}
		if lost > 0 {
			h.HandleLost(rf.ringID, lost)
		}
		batch = append(batch, events...)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp < batch[j].Timestamp
	})

	for i := range batch {
		if err := h.HandleEvent(&batch[i]); err != nil {
			return i, err
		}
	}
	return len(batch), nil
}

// refresh scans the trace directory for ring buffer files that appeared
// since the last pass.
func (c *Cursor) refresh() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("trace directory %s: %w", c.dir, ErrNoBuffers)
		}
		return fmt.Errorf("scanning trace directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ringID, ok := parseRingName(entry.Name())
		if !ok {
			continue
		}
		if _, seen := c.files[ringID]; seen {
			continue
		}
		c.files[ringID] = &ringFile{
			ringID: ringID,
			path:   filepath.Join(c.dir, entry.Name()),
			offset: headerSize,
		}
	}
	return nil
}

// readRing reads the header and all complete unread records from one ring
// file. A partial trailing record is left for the next pass.
func (c *Cursor) readRing(rf *ringFile) ([]event.Event, uint64, error) {
	f, err := os.Open(rf.path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening ring buffer %s: %w", rf.path, err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // Read-only file, defer cleanup
	}()

	var hdr [headerSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			// Header not fully written yet.
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("reading ring buffer header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:4]); magic != fileMagic {
		return nil, 0, fmt.Errorf("ring buffer %s: bad magic %#x", rf.path, magic)
	}
	if version := binary.LittleEndian.Uint32(hdr[4:8]); version != fileVersion {
		return nil, 0, fmt.Errorf("ring buffer %s: unsupported version %d", rf.path, version)
	}

	var lost uint64
	if dropped := binary.LittleEndian.Uint64(hdr[8:16]); dropped > rf.dropped {
		lost = dropped - rf.dropped
		rf.dropped = dropped
	}

	info, err := f.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("statting ring buffer: %w", err)
	}
	avail := info.Size() - rf.offset
	if avail < event.RecordSize {
		return nil, lost, nil
	}
	count := avail / event.RecordSize

	raw := make([]byte, count*event.RecordSize)
	if _, err := f.ReadAt(raw, rf.offset); err != nil {
		return nil, 0, fmt.Errorf("reading ring buffer records: %w", err)
	}
	rf.offset += int64(len(raw))

	events := make([]event.Event, count)
	r := bytes.NewReader(raw)
	for i := range events {
		if err := binary.Read(r, binary.LittleEndian, &events[i]); err != nil {
			return nil, 0, fmt.Errorf("parsing event record: %w", err)
		}
	}
	return events, lost, nil
}

// ringIDs returns the known ring ids in ascending order so delivery is
// deterministic when timestamps tie.
func (c *Cursor) ringIDs() []uint32 {
	ids := make([]uint32, 0, len(c.files))
	for id := range c.files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// parseRingName extracts the ring id from a ring-<id>.buf file name.
func parseRingName(name string) (uint32, bool) {
	rest, ok := strings.CutPrefix(name, "ring-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".buf")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}
