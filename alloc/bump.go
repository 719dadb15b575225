package alloc

import "github.com/deploymenttheory/go-hdf5arrays/block"

// BumpAllocator is a minimal in-memory Allocator: a bump pointer that
// never reuses freed extents. It is enough to drive and test the array
// packages' allocation call patterns without a real free-space manager,
// which is out of scope for this module (§1, §6.2).
type BumpAllocator struct {
	next      block.Addr
	allocated map[block.Addr]uint64
	freed     map[block.Addr]uint64
	// doubleFreed records that some address was passed to Free twice.
	doubleFreed bool
}

// NewBumpAllocator returns an allocator that hands out extents starting
// at start.
func NewBumpAllocator(start block.Addr) *BumpAllocator {
	return &BumpAllocator{
		next:      start,
		allocated: make(map[block.Addr]uint64),
		freed:     make(map[block.Addr]uint64),
	}
}

// Allocate implements Allocator.
func (b *BumpAllocator) Allocate(_ MemType, size uint64) (block.Addr, error) {
	addr := b.next
	b.next += block.Addr(size)
	b.allocated[addr] = size
	return addr, nil
}

// Free implements Allocator.
func (b *BumpAllocator) Free(_ MemType, addr block.Addr, size uint64) error {
	if _, ok := b.freed[addr]; ok {
		b.doubleFreed = true
	}
	b.freed[addr] = size
	return nil
}

// Freed reports whether addr was freed with exactly size bytes; tests use
// it to assert the delete-discipline property (§8: "every extent ...
// freed exactly once").
func (b *BumpAllocator) Freed(addr block.Addr, size uint64) bool {
	s, ok := b.freed[addr]
	return ok && s == size
}

// FreedCount returns how many distinct addresses have been freed.
func (b *BumpAllocator) FreedCount() int {
	return len(b.freed)
}

// AllocatedCount returns how many distinct extents have been allocated.
func (b *BumpAllocator) AllocatedCount() int {
	return len(b.allocated)
}

// AllFreedExactlyOnce reports whether every extent ever allocated has
// since been freed with a matching size, no address was freed twice, and
// nothing else was freed — the delete-discipline property tests assert against directly (§8:
// "every extent previously allocated for the array is freed exactly
// once").
func (b *BumpAllocator) AllFreedExactlyOnce() bool {
	if b.doubleFreed || len(b.allocated) != len(b.freed) {
		return false
	}
	for addr, size := range b.allocated {
		if freedSize, ok := b.freed[addr]; !ok || freedSize != size {
			return false
		}
	}
	return true
}
