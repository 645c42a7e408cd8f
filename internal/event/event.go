// Package event defines the raw runtime events emitted by an instrumented
// process and their binary wire layout.
package event

import (
	"bytes"
	"unsafe"
)

// Event kind constants matching the instrumentation runtime's conventions.
//
//nolint:revive,staticcheck // ALL_CAPS naming matches the runtime's C-side enum
const (
	EVENT_SCHEDULED       = 1
	EVENT_CREATED         = 2
	EVENT_SCOPE_OPEN      = 3
	EVENT_OBJECT_CREATED  = 4
	EVENT_FIBER_EXITED    = 5
	EVENT_NAMED           = 6
	EVENT_SUSPENDING      = 7
	EVENT_SPAN_ENTER      = 8
	EVENT_SPAN_EXIT       = 9
	EVENT_SCOPE_CLOSE     = 10
	EVENT_LOGGED          = 11
	EVENT_RING_IDLE_BEGIN = 12
	EVENT_RING_IDLE_END   = 13
	EVENT_GC_BEGIN        = 14
	EVENT_GC_END          = 15
	EVENT_LOST            = 16
)

// RecordSize is the fixed on-disk size of one event record in bytes.
const RecordSize = 64

// Event matches the record struct written by the instrumentation runtime.
// Using explicit struct layout to match the C union.
type Event struct {
	RingID    uint32
	Pad1      uint32 // Padding before timestamp to maintain 8-byte alignment
	Timestamp uint64 // Nanoseconds on the child's monotonic clock
	Kind      uint8
	Pad2      [7]byte // Padding to align Data field
	Data      EventData
}

// EventData is a union type matching the C union.
// The actual interpretation depends on Event.Kind.
type EventData struct {
	Raw [40]byte // Sized to fit the largest union member
}

// FiberData extracts fiber event fields.
// Valid for SCHEDULED, CREATED and FIBER_EXITED events.
func (e *Event) FiberData() *FiberEventData {
	switch e.Kind {
	case EVENT_SCHEDULED, EVENT_CREATED, EVENT_FIBER_EXITED:
	default:
		return nil
	}
	//nolint:gosec // Unsafe required for C struct interop
	return (*FiberEventData)(unsafe.Pointer(&e.Data))
}

// ScopeData extracts scope event fields.
// Valid for SCOPE_OPEN and OBJECT_CREATED events.
func (e *Event) ScopeData() *ScopeEventData {
	if e.Kind != EVENT_SCOPE_OPEN && e.Kind != EVENT_OBJECT_CREATED {
		return nil
	}
	//nolint:gosec // Unsafe required for C struct interop
	return (*ScopeEventData)(unsafe.Pointer(&e.Data))
}

// NameData extracts object naming fields. Valid for NAMED events.
func (e *Event) NameData() *NameEventData {
	if e.Kind != EVENT_NAMED {
		return nil
	}
	//nolint:gosec // Unsafe required for C struct interop
	return (*NameEventData)(unsafe.Pointer(&e.Data))
}

// StringData extracts the single-string payload. Valid for SUSPENDING,
// SPAN_ENTER, LOGGED, GC_BEGIN and GC_END events.
func (e *Event) StringData() *StringEventData {
	switch e.Kind {
	case EVENT_SUSPENDING, EVENT_SPAN_ENTER, EVENT_LOGGED, EVENT_GC_BEGIN, EVENT_GC_END:
	default:
		return nil
	}
	//nolint:gosec // Unsafe required for C struct interop
	return (*StringEventData)(unsafe.Pointer(&e.Data))
}

// LostData extracts the dropped-event count. Valid for LOST events.
func (e *Event) LostData() *LostEventData {
	if e.Kind != EVENT_LOST {
		return nil
	}
	//nolint:gosec // Unsafe required for C struct interop
	return (*LostEventData)(unsafe.Pointer(&e.Data))
}

// FiberEventData matches the fiber struct in the C union.
type FiberEventData struct {
	FiberID     uint32
	Pad         uint32 // Padding before ParentScope to maintain 8-byte alignment
	ParentScope uint64 // Only meaningful for CREATED events
}

// ScopeEventData matches the scope struct in the C union.
type ScopeEventData struct {
	ScopeID uint64
	Kind    uint32
	Pad     uint32
}

// NameEventData matches the naming struct in the C union.
type NameEventData struct {
	ObjectID uint64
	Name     [32]byte // Null-padded
}

// StringEventData matches the string struct in the C union.
// Carries an operation name, span name, GC phase name or log message.
type StringEventData struct {
	Name [40]byte // Null-padded
}

// LostEventData matches the lost-count struct in the C union.
type LostEventData struct {
	Count uint64
}

// TrimString converts a null-padded byte array payload to a Go string.
func TrimString(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}
