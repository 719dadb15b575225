package farray

import (
	"fmt"

	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

// GetAddr returns the array's header address, the handle an owning
// object persists to reopen the array later (spec.md §4.1).
func (h *Header) GetAddr() block.Addr { return h.Addr }

// NElmts returns the array's fixed configured capacity (spec.md §4.8);
// unlike an extensible array, a fixed array has no write high-water
// mark to track.
func (h *Header) NElmts() uint64 { return h.CParam.NElmts }

// GetStats returns a snapshot of the array's current data-block extent
// (spec.md §4.8).
func (h *Header) GetStats() Stats { return h.Stats }

// Set writes elmt (nat_elmt_size native bytes) at index idx, lazily
// creating the data block and, if paged, the owning page, needed to
// reach it (spec.md §4.5, §4.7, §8 scenario 3).
func (h *Header) Set(idx uint64, elmt []byte) error {
	cls, err := h.registry.Lookup(h.ClassID)
	if err != nil {
		return fmt.Errorf("set element %d: %w", idx, errs.ErrCantSet)
	}
	if uint32(len(elmt)) != cls.NatElmtSize {
		return fmt.Errorf("set element %d: expected %d native bytes, got %d: %w", idx, cls.NatElmtSize, len(elmt), errs.ErrBadValue)
	}

	ref, _, err := h.lookup(idx, true)
	if err != nil {
		return fmt.Errorf("set element %d: %w", idx, err)
	}
	if err := cls.Encode(ref.Buf, elmt, 1, nil); err != nil {
		_ = ref.Release(false)
		return fmt.Errorf("set element %d: %w", idx, errs.ErrCantSet)
	}
	return ref.Release(true)
}

// Get reads index idx into elmt (nat_elmt_size native bytes). Reading
// an index whose storage was never allocated yields the element
// class's fill value without touching disk (spec.md §4.5).
func (h *Header) Get(idx uint64, elmt []byte) error {
	cls, err := h.registry.Lookup(h.ClassID)
	if err != nil {
		return fmt.Errorf("get element %d: %w", idx, errs.ErrCantSet)
	}
	if uint32(len(elmt)) != cls.NatElmtSize {
		return fmt.Errorf("get element %d: expected %d native bytes, got %d: %w", idx, cls.NatElmtSize, len(elmt), errs.ErrBadValue)
	}

	ref, present, err := h.lookup(idx, false)
	if err != nil {
		return fmt.Errorf("get element %d: %w", idx, err)
	}
	if !present {
		return cls.Fill(elmt, 1)
	}
	if err := cls.Decode(ref.Buf, elmt, 1, nil); err != nil {
		_ = ref.Release(false)
		return fmt.Errorf("get element %d: %w", idx, err)
	}
	return ref.Release(false)
}

// Depend records that this array's header must flush before the object
// at parentAddr (spec.md §5).
func (h *Header) Depend(parentAddr block.Addr) error {
	return h.cache.CreateFlushDependency(parentAddr, h.Addr)
}

// Undepend removes a dependency created by Depend.
func (h *Header) Undepend(parentAddr block.Addr) error {
	return h.cache.DestroyFlushDependency(parentAddr, h.Addr)
}

// Support resolves the block that directly backs index idx via the
// same read-only addressing walk Get uses, then records that childAddr
// must flush before that block does (spec.md §5, §8 scenario 6).
func (h *Header) Support(idx uint64, childAddr block.Addr) error {
	addr, present, err := h.containingBlockAddr(idx)
	if err != nil {
		return fmt.Errorf("support index %d: %w", idx, err)
	}
	if !present {
		return fmt.Errorf("support index %d: no block backs this index yet: %w", idx, errs.ErrBadValue)
	}
	return h.cache.CreateFlushDependency(addr, childAddr)
}

// Unsupport removes a dependency created by Support.
func (h *Header) Unsupport(idx uint64, childAddr block.Addr) error {
	addr, present, err := h.containingBlockAddr(idx)
	if err != nil {
		return fmt.Errorf("unsupport index %d: %w", idx, err)
	}
	if !present {
		return fmt.Errorf("unsupport index %d: no block backs this index yet: %w", idx, errs.ErrBadValue)
	}
	return h.cache.DestroyFlushDependency(addr, childAddr)
}
