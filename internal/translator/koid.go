package translator

// Rings and fibers are numbered independently by the runtime, but the trace
// format needs a single flat thread-id space. Shifting the runtime id left
// by two and tagging the low bits keeps the two spaces disjoint no matter
// how their numbering overlaps. The two low bits are reserved: a third id
// space would need a wider shift, not a third tag value.
const (
	tagRing  = 1
	tagFiber = 2
)

// FlatRing maps a ring id into the flat thread-id space.
func FlatRing(id uint32) uint64 {
	return uint64(id)<<2 | tagRing
}

// FlatFiber maps a fiber id into the flat thread-id space.
func FlatFiber(id uint32) uint64 {
	return uint64(id)<<2 | tagFiber
}
