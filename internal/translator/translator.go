// Package translator converts raw runtime scheduling events into trace
// records.
//
// It is the stateful core of the recorder: a state machine over two
// independently numbered id spaces (rings and fibers) that registers trace
// threads on first encounter, redirects record attribution between a ring
// and its currently scheduled fiber, and pairs suspension begins with the
// resume that ends them. It is owned by the session's polling strand and is
// not safe for concurrent use.
package translator

import (
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"

	"fibertrace/internal/event"
	"fibertrace/internal/output"
)

// Trace record categories. These are part of the trace contract consumed
// by the timeline viewer, not presentation choices.
const (
	categorySuspend = "suspend"
	categorySpan    = "span"
	categoryGC      = "gc"
)

// Translator consumes raw events one at a time, in arrival order, and
// emits trace records through a Writer.
type Translator struct {
	pid    uint64
	writer output.Writer
	reg    *Registry

	events uint64
	lost   uint64
}

// New creates a Translator writing records for the child process pid.
func New(pid uint64, w output.Writer) *Translator {
	return &Translator{
		pid:    pid,
		writer: w,
		reg:    NewRegistry(),
	}
}

// Registry exposes the ring/fiber registry, primarily for inspection.
func (t *Translator) Registry() *Registry { return t.reg }

// EventCount returns the number of events processed.
func (t *Translator) EventCount() uint64 { return t.events }

// LostCount returns the total dropped-event count reported by the source.
func (t *Translator) LostCount() uint64 { return t.lost }

// HandleLost surfaces a dropped-event report. Dropped events are a
// warning, not a failure: processing continues, with no integrity claim
// for the lost span of the recording.
func (t *Translator) HandleLost(ringID uint32, count uint64) {
	t.lost += count
	log.Printf("warning: ring %d dropped %d events", ringID, count)
}

// HandleEvent translates one raw event into zero or more trace records.
// Any returned error comes from the trace writer and is fatal.
func (t *Translator) HandleEvent(ev *event.Event) error {
	r, created := t.reg.Ring(ev.RingID)
	if created {
		name := fmt.Sprintf("ring%d", ev.RingID)
		if err := t.writer.RegisterThread(t.pid, FlatRing(ev.RingID), name, nil); err != nil {
			return err
		}
	}

	// Records are attributed to the fiber scheduled on the ring, falling
	// back to the ring itself, using state as it stood before this event.
	// GC and ring-idle records bypass this and always use the ring.
	cur := t.currentThread(r)
	t.events++

	switch ev.Kind {
	case event.EVENT_SCHEDULED:
		return t.schedule(r, ev.FiberData().FiberID, ev.Timestamp, true)

	case event.EVENT_CREATED:
		d := ev.FiberData()
		f := t.reg.Fiber(d.FiberID)
		if !f.Registered {
			name := fmt.Sprintf("fiber%d", f.ID)
			if err := t.writer.RegisterThread(t.pid, FlatFiber(f.ID), name, nil); err != nil {
				return err
			}
			f.Registered = true
		}
		if err := t.schedule(r, d.FiberID, ev.Timestamp, false); err != nil {
			return err
		}
		//nolint:gosec // runtime ids fit in int64
		args := []attribute.KeyValue{
			attribute.Int64("id", int64(f.ID)),
			attribute.Int64("parent_scope", int64(d.ParentScope)),
		}
		return t.writer.Instant(t.pid, FlatFiber(f.ID), "create-fiber", "", ev.Timestamp, args)

	case event.EVENT_SCOPE_OPEN:
		d := ev.ScopeData()
		//nolint:gosec // runtime ids fit in int64
		args := []attribute.KeyValue{
			attribute.Int64("id", int64(d.ScopeID)),
			attribute.Int64("kind", int64(d.Kind)),
			attribute.Int64("ring", int64(ev.RingID)),
		}
		return t.writer.DurationBegin(t.pid, cur, "cc", "", ev.Timestamp, args)

	case event.EVENT_SCOPE_CLOSE:
		return t.writer.DurationEnd(t.pid, cur, "cc", "", ev.Timestamp)

	case event.EVENT_OBJECT_CREATED:
		// Reserved for object kinds the trace has no rendering for.
		return nil

	case event.EVENT_FIBER_EXITED:
		d := ev.FiberData()
		//nolint:gosec // runtime ids fit in int64
		args := []attribute.KeyValue{attribute.Int64("id", int64(d.FiberID))}
		return t.writer.Instant(t.pid, cur, "exit-fiber", "", ev.Timestamp, args)

	case event.EVENT_NAMED:
		d := ev.NameData()
		return t.writer.NameObject(t.pid, cur, event.TrimString(d.Name[:]), d.ObjectID)

	case event.EVENT_SUSPENDING:
		op := event.TrimString(ev.StringData().Name[:])
		if err := t.writer.DurationBegin(t.pid, cur, op, categorySuspend, ev.Timestamp, nil); err != nil {
			return err
		}
		if r.Current != nil {
			r.Current.PendingOp = op
			r.Current = nil
		}
		return nil

	case event.EVENT_SPAN_ENTER:
		name := event.TrimString(ev.StringData().Name[:])
		return t.writer.DurationBegin(t.pid, cur, name, categorySpan, ev.Timestamp, nil)

	case event.EVENT_SPAN_EXIT:
		// Pairing with the matching begin is positional, resolved by the
		// viewer's per-thread stack.
		return t.writer.DurationEnd(t.pid, cur, "", categorySpan, ev.Timestamp)

	case event.EVENT_LOGGED:
		msg := event.TrimString(ev.StringData().Name[:])
		args := []attribute.KeyValue{attribute.String("message", msg)}
		return t.writer.Instant(t.pid, cur, "log", "", ev.Timestamp, args)

	case event.EVENT_RING_IDLE_BEGIN:
		// Ring idling is a ring-level fact, never redirected to a fiber.
		return t.writer.DurationBegin(t.pid, FlatRing(ev.RingID), "suspend-domain", "", ev.Timestamp, nil)

	case event.EVENT_RING_IDLE_END:
		return t.writer.DurationEnd(t.pid, FlatRing(ev.RingID), "suspend-domain", "", ev.Timestamp)

	case event.EVENT_GC_BEGIN:
		phase := event.TrimString(ev.StringData().Name[:])
		return t.writer.DurationBegin(t.pid, FlatRing(ev.RingID), phase, categoryGC, ev.Timestamp, nil)

	case event.EVENT_GC_END:
		phase := event.TrimString(ev.StringData().Name[:])
		return t.writer.DurationEnd(t.pid, FlatRing(ev.RingID), phase, categoryGC, ev.Timestamp)

	case event.EVENT_LOST:
		t.HandleLost(ev.RingID, ev.LostData().Count)
		return nil

	default:
		// Unknown event kind from a newer runtime. Skip it.
		return nil
	}
}

// schedule makes fiber fid current on ring r, optionally emitting a wakeup
// marker, and closes the fiber's pending suspension slice if one is open.
// A fiber rescheduled while already current produces no wakeup: the marker
// records a transition to running, not the steady state.
func (t *Translator) schedule(r *Ring, fid uint32, ts uint64, wakeup bool) error {
	f := t.reg.Fiber(fid)
	wasCurrent := r.Current == f
	r.Current = f

	if wakeup && !wasCurrent {
		if err := t.writer.Wakeup(r.ID, ts, FlatFiber(fid)); err != nil {
			return err
		}
	}
	if f.PendingOp != "" {
		// The suspend slice ends on the fiber's own thread, not whatever
		// was current on the ring before this event.
		if err := t.writer.DurationEnd(t.pid, FlatFiber(fid), f.PendingOp, categorySuspend, ts); err != nil {
			return err
		}
		f.PendingOp = ""
	}
	return nil
}

// currentThread resolves the flat thread id records are attributed to:
// the ring's scheduled fiber if present, else the ring itself.
func (t *Translator) currentThread(r *Ring) uint64 {
	if r.Current != nil {
		return FlatFiber(r.Current.ID)
	}
	return FlatRing(r.ID)
}
