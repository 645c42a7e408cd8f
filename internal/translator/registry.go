package translator

// Ring is one execution context onto which fibers are scheduled.
// Created lazily on the first event mentioning its id; never destroyed.
type Ring struct {
	ID uint32

	// Current is the fiber scheduled on this ring, or nil while the ring
	// is idle or running GC or its own work.
	Current *Fiber
}

// Fiber is one cooperative task tracked by the runtime under observation.
// Created lazily the first time any event references its id; never
// destroyed.
type Fiber struct {
	ID uint32

	// PendingOp is the suspension operation name, set between a Suspending
	// event and the next Scheduled event for this fiber.
	PendingOp string

	// Registered reports whether the fiber's trace thread object has been
	// emitted. Only a Created event registers a fiber; bookkeeping creation
	// through scheduling references must not.
	Registered bool
}

// Registry holds every ring and fiber seen during a session, keyed by the
// runtime's ids. Entries are never evicted. The registry is owned by the
// session's polling strand exclusively, so access is unsynchronized.
type Registry struct {
	rings  map[uint32]*Ring
	fibers map[uint32]*Fiber
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rings:  make(map[uint32]*Ring),
		fibers: make(map[uint32]*Fiber),
	}
}

// Ring returns the ring for id, creating it if this is the first
// encounter. created reports whether the ring is new.
func (r *Registry) Ring(id uint32) (ring *Ring, created bool) {
	if ring = r.rings[id]; ring != nil {
		return ring, false
	}
	ring = &Ring{ID: id}
	r.rings[id] = ring
	return ring, true
}

// Fiber returns the fiber for id, creating a bookkeeping record if this is
// the first encounter. Creation here never registers a trace thread.
func (r *Registry) Fiber(id uint32) *Fiber {
	if f := r.fibers[id]; f != nil {
		return f
	}
	f := &Fiber{ID: id}
	r.fibers[id] = f
	return f
}

// RingCount returns the number of distinct rings seen.
func (r *Registry) RingCount() int { return len(r.rings) }

// FiberCount returns the number of distinct fibers seen.
func (r *Registry) FiberCount() int { return len(r.fibers) }
