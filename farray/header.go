package farray

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-hdf5arrays/alloc"
	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
	"github.com/deploymenttheory/go-hdf5arrays/class"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
	"github.com/deploymenttheory/go-hdf5arrays/file"
)

// Header is the shared, cached representation of one fixed array
// (spec.md §4.1, §4.4). Unlike an extensible array's header it carries
// no addressing geometry: a fixed array has exactly one data block,
// sized once at creation and never regrown.
type Header struct {
	// DebugID is a process-local identity aid for logging and tests; it
	// is never written to disk.
	DebugID uuid.UUID

	CParam  CParam
	ClassID class.ID

	registry *class.Registry
	file     *file.File
	cache    *cache.Cache

	// Addr is this header's own on-disk address.
	Addr block.Addr
	// DataBlockAddr is the data block's address, or block.Undefined
	// before the first Set call allocates it (spec.md §4.7: lazy
	// creation).
	DataBlockAddr block.Addr

	Stats Stats

	// rc tracks open-handle shares of this header instance; fileRC tracks
	// open-handles-per-file and gates pending-delete (spec.md §3, §4.4:
	// "rc tracks open-handle shares, file_rc tracks open-handles-per-file
	// (used to enforce pending-delete)"). Every Create/Open call adjusts
	// both via Incr+FuseIncr and every Close via FuseDecr+Decr, so in
	// this single-file-per-header model the two counters always move in
	// lockstep; see DESIGN.md.
	rc            int
	fileRC        int
	pendingDelete bool
}

// headerFixedSize is the on-disk size of a header image excluding its
// frame header and trailing checksum: 3 cparam fields + data_blk_addr +
// 3 stats fields.
func headerFixedSize(sizes block.Sizes) int {
	return 4 + 8 + 1 + int(sizes.AddrSize) + 3*int(sizes.LenSize)
}

func (h *Header) onDiskSize() uint64 {
	return uint64(6 /*frame*/ + headerFixedSize(h.file.Sizes) + 4 /*checksum*/)
}

func (h *Header) encode() []byte {
	w := block.NewFrameWriter(block.MagicFAHeader, uint8(h.ClassID))
	w.PutUint32(h.CParam.RawElmtSize)
	w.PutUint64(h.CParam.NElmts)
	w.PutUint8(h.CParam.MaxDblkPageNElmtsBits)
	sizes := h.file.Sizes
	w.PutAddr(sizes.AddrSize, h.DataBlockAddr)
	w.PutLen(sizes.LenSize, h.Stats.DataBlockSize)
	w.PutLen(sizes.LenSize, h.Stats.NDataBlockPages)
	w.PutLen(sizes.LenSize, h.Stats.DataBlockPageSize)
	return w.Finish()
}

// headerUData is the udata a Header's cache load callbacks need: the
// class registry and file context aren't part of the on-disk image.
type headerUData struct {
	registry *class.Registry
	file     *file.File
	cache    *cache.Cache
	classID  class.ID
}

func decodeHeader(image []byte, ud headerUData) (*Header, error) {
	r, err := block.VerifyFrame(image, block.MagicFAHeader, uint8(ud.classID))
	if err != nil {
		return nil, err
	}
	cp := CParam{
		RawElmtSize:           r.Uint32(),
		NElmts:                r.Uint64(),
		MaxDblkPageNElmtsBits: r.Uint8(),
	}
	sizes := ud.file.Sizes
	dataBlkAddr := r.Addr(sizes.AddrSize)
	stats := Stats{
		DataBlockSize:     r.Len(sizes.LenSize),
		NDataBlockPages:   r.Len(sizes.LenSize),
		DataBlockPageSize: r.Len(sizes.LenSize),
	}
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return &Header{
		DebugID:       uuid.New(),
		CParam:        cp,
		ClassID:       ud.classID,
		registry:      ud.registry,
		file:          ud.file,
		cache:         ud.cache,
		Addr:          block.Undefined, // filled in by caller, which knows the protect address
		DataBlockAddr: dataBlkAddr,
		Stats:         stats,
	}, nil
}

// Create allocates and initializes a new fixed array header (spec.md
// §4.1: "create(cparam, ...) -> header address"). The returned Header
// is already open with one reference held by the caller.
func Create(f *file.File, c *cache.Cache, reg *class.Registry, classID class.ID, cp CParam) (*Header, error) {
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	if _, err := reg.Lookup(classID); err != nil {
		return nil, fmt.Errorf("create farray: %w: %v", errs.ErrCantInit, err)
	}

	hdr := &Header{
		DebugID:       uuid.New(),
		CParam:        cp,
		ClassID:       classID,
		registry:      reg,
		file:          f,
		cache:         c,
		DataBlockAddr: block.Undefined,
	}
	size := hdr.onDiskSize()
	addr, err := f.Alloc.Allocate(alloc.MemFAHeader, size)
	if err != nil {
		return nil, fmt.Errorf("allocate farray header: %w", errs.ErrCantCreate)
	}
	hdr.Addr = addr

	if err := c.Insert(addr, hdr, headerLoadCallbacksFor(f), cache.Pinned|cache.Dirtied); err != nil {
		return nil, fmt.Errorf("insert farray header: %w", err)
	}
	if err := c.Unprotect(addr, cache.Pinned); err != nil {
		return nil, fmt.Errorf("unprotect farray header: %w", err)
	}

	hdr.Incr()
	hdr.FuseIncr()
	return hdr, nil
}

// Open protects the header at addr, sharing an already-resident copy
// with every other open handle (spec.md §4.1: "open(header address) ->
// handle", §8 scenario 5).
func Open(f *file.File, c *cache.Cache, reg *class.Registry, classID class.ID, addr block.Addr) (*Header, error) {
	ud := headerUData{registry: reg, file: f, cache: c, classID: classID}
	blk, err := c.Protect(addr, ud, headerLoadCallbacksFor(f), cache.NoFlags)
	if err != nil {
		return nil, err
	}
	hdr := blk.(*Header)
	hdr.Addr = addr
	hdr.registry = reg
	hdr.file = f
	hdr.cache = c

	if hdr.pendingDelete {
		_ = c.Unprotect(addr, cache.NoFlags)
		return nil, fmt.Errorf("open farray header at %d: %w", addr, errs.ErrCantOpenObj)
	}

	if err := c.Unprotect(addr, cache.Pinned); err != nil {
		return nil, err
	}
	hdr.Incr()
	hdr.FuseIncr()
	return hdr, nil
}

// headerLoadCallbacksFor builds load callbacks usable before a Header
// struct exists yet, i.e. for the very first Protect of a given address.
func headerLoadCallbacksFor(f *file.File) cache.LoadCallbacks {
	return cache.LoadCallbacks{
		GetLoadSize: func(udata any) (uint64, error) {
			ud := udata.(headerUData)
			return uint64(6 + headerFixedSize(ud.file.Sizes) + 4), nil
		},
		Deserialize: func(image []byte, udata any) (cache.Block, error) {
			ud := udata.(headerUData)
			return decodeHeader(image, ud)
		},
		ImageLen: func(b cache.Block) (uint64, error) {
			return b.(*Header).onDiskSize(), nil
		},
		Serialize: func(b cache.Block) ([]byte, error) {
			return b.(*Header).encode(), nil
		},
		FreeICR: func(b cache.Block) error { return nil },
	}
}

// Incr increments the header's open-handle reference count (spec.md
// §4.4: "incr/decr: adjust rc").
func (h *Header) Incr() { h.rc++ }

// Decr releases one open-handle reference. When the count reaches zero,
// a pending delete is carried out now; otherwise the header is simply
// unpinned, making it eligible for eviction once idle (spec.md §4.1,
// §4.4, §8 scenario 5).
func (h *Header) Decr() error {
	if h.rc == 0 {
		return fmt.Errorf("decr farray header rc below zero: %w", errs.ErrCantDec)
	}
	h.rc--
	if h.rc > 0 {
		return nil
	}
	if h.pendingDelete {
		return h.performDelete()
	}
	return h.cache.Unpin(h.Addr)
}

// FuseIncr increments the header's open-handles-per-file count (spec.md
// §4.4: "fuse_incr/fuse_decr: adjust file_rc").
func (h *Header) FuseIncr() { h.fileRC++ }

// FuseDecr releases one open-handles-per-file reference, the trigger
// close uses to decide whether a pending delete may now run (spec.md
// §4.4: "fuse_incr/fuse_decr: adjust file_rc; when it reaches zero on
// the last open in a file, trigger the pending-delete check").
func (h *Header) FuseDecr() error {
	if h.fileRC == 0 {
		return fmt.Errorf("decr farray header file_rc below zero: %w", errs.ErrCantDec)
	}
	h.fileRC--
	return nil
}

// Close releases the caller's handle (spec.md §4.1, §4.4:
// "close(handle): fuse_decr; ...; then decr (which may evict) and
// invoke delete(hdr, ...); otherwise just decr").
func (h *Header) Close() error {
	if err := h.FuseDecr(); err != nil {
		return err
	}
	return h.Decr()
}

// Modified marks the header dirty after an in-place field change (e.g.
// the data block address being set for the first time), without
// requiring a protect/unprotect round trip (spec.md §4.4).
func (h *Header) Modified() error { return h.cache.MarkDirty(h.Addr) }

// Delete unlinks the array (spec.md §4.1: "delete(handle)", §4.4:
// "delete(file, addr): ...; if file_rc > 0 set pending_delete = true
// and leave the header pinned"). If other handles in this file are
// still open, the delete is deferred until the last one closes (§8
// scenario 5); otherwise it happens immediately. file_rc is checked
// against 1 rather than 0 because the caller's own handle already
// holds one fileRC reference.
func (h *Header) Delete() error {
	if h.fileRC > 1 {
		h.pendingDelete = true
		return nil
	}
	return h.performDelete()
}

// performDelete frees the data block (and any of its materialized
// pages) and the header's own on-disk extent, then evicts the header
// from the cache (spec.md §4.6).
func (h *Header) performDelete() error {
	if h.DataBlockAddr.IsDefined() {
		if err := h.deleteDataBlock(); err != nil {
			return fmt.Errorf("delete farray data block: %w", errs.ErrCantDelete)
		}
	}
	if err := h.file.Alloc.Free(alloc.MemFAHeader, h.Addr, h.onDiskSize()); err != nil {
		return fmt.Errorf("free farray header: %w", errs.ErrCantDelete)
	}
	return h.cache.Evict(h.Addr)
}
