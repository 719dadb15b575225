// Package cache implements the generic metadata cache contract the array
// packages are built against (§6.1): protect/unprotect with pin and dirty
// accounting, flush-dependency edges, and entry status queries. A full
// production cache also owns a pin/evict policy and a block loader
// registry; here we implement just enough of that contract — modeled on
// a two-level LRU block cache — to drive and test the array core, which
// is this module's actual scope (§1: "the generic metadata cache itself
// ... [is] out of scope").
package cache

import (
	"fmt"
	"sync"

	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

// Block is an opaque in-memory representation of one cached block; the
// cache never interprets it beyond the callbacks it was registered with.
type Block = any

// LoadCallbacks is the per-block-kind registration a caller supplies to
// Protect and Flush (§6.1's get_load_size / deserialize / image_len /
// serialize / free_icr).
type LoadCallbacks struct {
	GetLoadSize func(udata any) (uint64, error)
	Deserialize func(image []byte, udata any) (Block, error)
	ImageLen    func(b Block) (uint64, error)
	Serialize   func(b Block) ([]byte, error)
	FreeICR     func(b Block) error
}

// Backing is the underlying file the cache reads from and writes to on a
// protect miss or a flush; it is supplied by the embedding file format
// and is out of scope for this module (§1).
type Backing interface {
	ReadAt(addr block.Addr, size uint64) ([]byte, error)
	WriteAt(addr block.Addr, data []byte) error
}

// EntryStatus answers get_entry_status (§6.1).
type EntryStatus struct {
	InCache   bool
	Pinned    bool
	Protected bool
	Dirty     bool
}

type entry struct {
	blk          Block
	cb           LoadCallbacks
	protectCount int
	pinned       bool
	dirty        bool

	// flushChildren must be flushed before this entry may be flushed
	// (§8: "P before D before H" — a page is a flush-dependency child
	// of its data block, a data block is a flush-dependency child of
	// the header).
	flushChildren map[block.Addr]struct{}
	// flushParents is the reverse index, used so DestroyFlushDependency
	// and eviction bookkeeping don't need a full scan.
	flushParents map[block.Addr]struct{}
}

// Cache is an in-memory, protect/unprotect metadata cache over a single
// Backing file.
type Cache struct {
	mu      sync.Mutex
	backing Backing
	entries map[block.Addr]*entry

	// capacityHint is an advisory entry-count budget set via
	// SetCapacityHint; a full LRU/clock eviction policy over unpinned,
	// clean entries is out of scope for this module (§1: "the generic
	// metadata cache itself ... [is] out of scope"), so it is recorded
	// for reporting but never used to force an eviction.
	capacityHint int
}

// New returns a Cache reading through to and writing through to backing.
func New(backing Backing) *Cache {
	return &Cache{
		backing: backing,
		entries: make(map[block.Addr]*entry),
	}
}

// SetCapacityHint records an advisory entry-count budget, surfaced back
// through CapacityHint for operational reporting (e.g. the inspect CLI
// command echoing the configured cache size).
func (c *Cache) SetCapacityHint(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacityHint = n
}

// CapacityHint returns the value last set by SetCapacityHint, or zero if
// none was set.
func (c *Cache) CapacityHint() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacityHint
}

// Len returns the number of entries currently resident.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Protect pins addr in memory, loading it from the backing file on a
// miss, and returns the decoded block. Each call increments a protect
// count; the matching Unprotect must be called exactly once per Protect
// (§4.5, §5: "at most one pinned copy of each block").
func (c *Cache) Protect(addr block.Addr, udata any, cb LoadCallbacks, flags Flags) (Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[addr]; ok {
		e.protectCount++
		if flags&Pinned != 0 {
			e.pinned = true
		}
		return e.blk, nil
	}

	size, err := cb.GetLoadSize(udata)
	if err != nil {
		return nil, fmt.Errorf("get load size for block at %d: %w", addr, errs.ErrCantProtect)
	}
	image, err := c.backing.ReadAt(addr, size)
	if err != nil {
		return nil, fmt.Errorf("read block at %d: %w", addr, errs.ErrCantProtect)
	}
	blk, err := cb.Deserialize(image, udata)
	if err != nil {
		return nil, fmt.Errorf("deserialize block at %d: %w", addr, err)
	}

	c.entries[addr] = &entry{
		blk:          blk,
		cb:           cb,
		protectCount: 1,
		pinned:       flags&Pinned != 0,
	}
	return blk, nil
}

// Insert registers a freshly created in-memory block as already
// protected, without reading it from the backing file — the path lazy
// block creation takes (§4.5, §4.7): the block's address is already
// committed to its parent, and the block itself starts dirty.
func (c *Cache) Insert(addr block.Addr, blk Block, cb LoadCallbacks, flags Flags) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[addr]; ok {
		return fmt.Errorf("insert: block at %d already cached: %w", addr, errs.ErrCantProtect)
	}
	c.entries[addr] = &entry{
		blk:          blk,
		cb:           cb,
		protectCount: 1,
		pinned:       flags&Pinned != 0,
		dirty:        flags&Dirtied != 0,
	}
	return nil
}

// Unprotect releases one protect count on addr, optionally marking it
// dirty or toggling its pin. When the count reaches zero, the block is
// unpinned, and it is clean, it is evicted immediately; a dirty block
// stays resident until Flush.
func (c *Cache) Unprotect(addr block.Addr, flags Flags) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[addr]
	if !ok {
		return fmt.Errorf("unprotect: block at %d not in cache: %w", addr, errs.ErrCantUnprotect)
	}
	if e.protectCount == 0 {
		return fmt.Errorf("unprotect: block at %d not protected: %w", addr, errs.ErrCantUnprotect)
	}

	if flags&Dirtied != 0 {
		e.dirty = true
	}
	if flags&Unpin != 0 {
		e.pinned = false
	}
	if flags&Pinned != 0 {
		e.pinned = true
	}
	e.protectCount--

	if e.protectCount == 0 && !e.pinned && !e.dirty {
		return c.evictLocked(addr)
	}
	return nil
}

// GetEntryStatus answers get_entry_status (§6.1).
func (c *Cache) GetEntryStatus(addr block.Addr) EntryStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[addr]
	if !ok {
		return EntryStatus{}
	}
	return EntryStatus{
		InCache:   true,
		Pinned:    e.pinned,
		Protected: e.protectCount > 0,
		Dirty:     e.dirty,
	}
}

// HasFlushDependency reports whether child must be flushed before
// parent, i.e. whether an edge created by CreateFlushDependency (and
// not yet removed by DestroyFlushDependency) currently exists between
// them.
func (c *Cache) HasFlushDependency(parent, child block.Addr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.entries[parent]
	if !ok {
		return false
	}
	_, ok = p.flushChildren[child]
	return ok
}

// CreateFlushDependency records that child must be flushed before parent
// may be flushed (§5, §6.1, §8).
func (c *Cache) CreateFlushDependency(parent, child block.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.entries[parent]
	if !ok {
		return fmt.Errorf("flush dependency: parent %d not in cache: %w", parent, errs.ErrCantDepend)
	}
	ch, ok := c.entries[child]
	if !ok {
		return fmt.Errorf("flush dependency: child %d not in cache: %w", child, errs.ErrCantDepend)
	}
	if p.flushChildren == nil {
		p.flushChildren = make(map[block.Addr]struct{})
	}
	p.flushChildren[child] = struct{}{}
	if ch.flushParents == nil {
		ch.flushParents = make(map[block.Addr]struct{})
	}
	ch.flushParents[parent] = struct{}{}
	return nil
}

// DestroyFlushDependency removes an edge created by CreateFlushDependency.
func (c *Cache) DestroyFlushDependency(parent, child block.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.entries[parent]
	if !ok {
		return fmt.Errorf("flush dependency: parent %d not in cache: %w", parent, errs.ErrCantUndepend)
	}
	ch, ok := c.entries[child]
	if !ok {
		return fmt.Errorf("flush dependency: child %d not in cache: %w", child, errs.ErrCantUndepend)
	}
	delete(p.flushChildren, child)
	delete(ch.flushParents, parent)
	return nil
}

// Evict forcibly removes an unprotected entry from the cache, releasing
// its in-memory representation without writing it. Used by recursive
// delete (§4.6) once a block's on-disk extent has been freed.
func (c *Cache) Evict(addr block.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(addr)
}

// Unpin clears an entry's pin, evicting it immediately if it is
// otherwise idle (unprotected and clean) — the mechanism behind the
// header's rc dropping to zero (§4.4: "incr/decr: adjust rc").
func (c *Cache) Unpin(addr block.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[addr]
	if !ok {
		return nil
	}
	e.pinned = false
	if e.protectCount == 0 && !e.dirty {
		return c.evictLocked(addr)
	}
	return nil
}

// MarkDirty marks an already-resident entry dirty without going through
// a protect/unprotect pair — the mechanism behind modified(hdr) (§4.4),
// which makes header changes visible to the next protect of the header
// without requiring the caller to hold an active protect count.
func (c *Cache) MarkDirty(addr block.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[addr]
	if !ok {
		return fmt.Errorf("mark dirty: block at %d not in cache: %w", addr, errs.ErrCantUnprotect)
	}
	e.dirty = true
	return nil
}

func (c *Cache) evictLocked(addr block.Addr) error {
	e, ok := c.entries[addr]
	if !ok {
		return nil
	}
	if e.protectCount > 0 {
		return fmt.Errorf("evict: block at %d still protected: %w", addr, errs.ErrCantUnprotect)
	}
	delete(c.entries, addr)
	if e.cb.FreeICR != nil {
		return e.cb.FreeICR(e.blk)
	}
	return nil
}

// Flush writes every dirty entry to the backing file, in an order that
// respects every flush-dependency edge (§5, §8). It fails if a dirty
// entry is still protected.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	visited := make(map[block.Addr]bool)
	var visit func(addr block.Addr) error
	visit = func(addr block.Addr) error {
		if visited[addr] {
			return nil
		}
		visited[addr] = true
		e := c.entries[addr]
		for child := range e.flushChildren {
			if _, ok := c.entries[child]; ok {
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		if e.dirty {
			if e.protectCount > 0 {
				return fmt.Errorf("flush: block at %d still protected", addr)
			}
			image, err := e.cb.Serialize(e.blk)
			if err != nil {
				return fmt.Errorf("serialize block at %d: %w", addr, err)
			}
			if err := c.backing.WriteAt(addr, image); err != nil {
				return fmt.Errorf("write block at %d: %w", addr, err)
			}
			e.dirty = false
		}
		return nil
	}

	for addr := range c.entries {
		if err := visit(addr); err != nil {
			return err
		}
	}
	return nil
}
