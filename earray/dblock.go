package earray

import (
	"fmt"

	"github.com/deploymenttheory/go-hdf5arrays/alloc"
	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

// DataBlock holds a contiguous run of an extensible array's elements
// (spec.md §3, §4.2). A data block whose element count exceeds the
// configured page threshold stores no elements of its own; instead its
// elements live in separately addressed DataBlockPage blocks packed
// immediately after it on disk.
//
// The per-page "initialized" bitmap lives on the DataBlock itself only
// when the data block is addressed directly from the index block
// (Direct == true). A data block reached through a super block instead
// shares one bitmap aggregated on that SuperBlock, sized for every data
// block the row covers (spec.md §3: a per-page "initialized" bitmap of
// ceil(ndblks * dblk_npages / 8) bytes on the super block); such a data
// block's own on-disk image carries no bitmap at all.
type DataBlock struct {
	Addr   block.Addr
	NElmts uint64
	Paged  bool
	Direct bool

	Elmts          []byte // only set when !Paged
	PageInitBitmap []byte // only set when Paged && Direct, ceil(NPages/8) bytes
}

// isPaged reports whether a data block holding nelmts elements is split
// into pages (spec.md §4.2: paging is enabled per array and triggered
// once a data block's element count passes the configured threshold).
func (hdr *Header) isPaged(nelmts uint64) bool {
	return hdr.CParam.MaxDblkPageNElmtsBits > 0 && nelmts > hdr.CParam.DblkPageNElmts()
}

func (hdr *Header) nPages(nelmts uint64) uint64 {
	pageSz := hdr.CParam.DblkPageNElmts()
	return (nelmts + pageSz - 1) / pageSz
}

func (hdr *Header) pageNElmts(nelmts uint64, pageIdx uint64) uint64 {
	pageSz := hdr.CParam.DblkPageNElmts()
	start := pageIdx * pageSz
	if start+pageSz > nelmts {
		return nelmts - start
	}
	return pageSz
}

// dblkNPages is the number of pages a row's data blocks are split into,
// or zero when the row isn't paged at all — the per-data-block stride
// used to lay out a super block's aggregate page-init bitmap.
func (hdr *Header) dblkNPages(row SBlkInfo) uint64 {
	if !hdr.isPaged(row.DblkNElmts) {
		return 0
	}
	return hdr.nPages(row.DblkNElmts)
}

// dblkHeaderOnDiskSize is the size of a paged data block's own frame: a
// direct data block's frame carries its own page-init bitmap, while an
// indirect (super-block-owned) one carries none.
func (hdr *Header) dblkHeaderOnDiskSize(nelmts uint64, direct bool) uint64 {
	if !direct {
		return uint64(6 + 4)
	}
	nPages := hdr.nPages(nelmts)
	bitmapLen := int((nPages + 7) / 8)
	return uint64(6 + bitmapLen + 4)
}

// dblkOnDiskSize is the total extent a data block (and, if paged, all
// of its pages) occupies.
func (hdr *Header) dblkOnDiskSize(nelmts uint64, direct bool) uint64 {
	if !hdr.isPaged(nelmts) {
		return uint64(6 + int(nelmts)*int(hdr.CParam.RawElmtSize) + 4)
	}
	total := hdr.dblkHeaderOnDiskSize(nelmts, direct)
	nPages := hdr.nPages(nelmts)
	for i := uint64(0); i < nPages; i++ {
		total += hdr.pageOnDiskSize(hdr.pageNElmts(nelmts, i))
	}
	return total
}

// pageAddr returns the address of page i of the paged data block at
// dblkAddr holding nelmts elements total.
func (hdr *Header) pageAddr(dblkAddr block.Addr, nelmts uint64, pageIdx uint64, direct bool) block.Addr {
	off := uint64(dblkAddr) + hdr.dblkHeaderOnDiskSize(nelmts, direct)
	for i := uint64(0); i < pageIdx; i++ {
		off += hdr.pageOnDiskSize(hdr.pageNElmts(nelmts, i))
	}
	return block.Addr(off)
}

func (hdr *Header) encodeDataBlock(nelmts uint64, direct bool, db *DataBlock) []byte {
	w := block.NewFrameWriter(block.MagicEAData, uint8(hdr.ClassID))
	if db.Paged {
		if direct {
			w.PutBytes(db.PageInitBitmap)
		}
	} else {
		w.PutBytes(db.Elmts)
	}
	return w.Finish()
}

func (hdr *Header) decodeDataBlock(image []byte, nelmts uint64, direct bool) (*DataBlock, error) {
	r, err := block.VerifyFrame(image, block.MagicEAData, uint8(hdr.ClassID))
	if err != nil {
		return nil, err
	}
	db := &DataBlock{NElmts: nelmts, Paged: hdr.isPaged(nelmts), Direct: direct}
	if db.Paged {
		if direct {
			nPages := hdr.nPages(nelmts)
			db.PageInitBitmap = r.Bytes(int((nPages + 7) / 8))
		}
	} else {
		db.Elmts = r.Bytes(int(nelmts) * int(hdr.CParam.RawElmtSize))
	}
	return db, nil
}

func (hdr *Header) dataBlockLoadCallbacks(nelmts uint64, direct bool) cache.LoadCallbacks {
	return cache.LoadCallbacks{
		GetLoadSize: func(udata any) (uint64, error) {
			if hdr.isPaged(nelmts) {
				return hdr.dblkHeaderOnDiskSize(nelmts, direct), nil
			}
			return hdr.dblkOnDiskSize(nelmts, direct), nil
		},
		Deserialize: func(image []byte, udata any) (cache.Block, error) {
			return hdr.decodeDataBlock(image, nelmts, direct)
		},
		ImageLen: func(b cache.Block) (uint64, error) {
			if hdr.isPaged(nelmts) {
				return hdr.dblkHeaderOnDiskSize(nelmts, direct), nil
			}
			return hdr.dblkOnDiskSize(nelmts, direct), nil
		},
		Serialize: func(b cache.Block) ([]byte, error) { return hdr.encodeDataBlock(nelmts, direct, b.(*DataBlock)), nil },
		FreeICR:   func(b cache.Block) error { return nil },
	}
}

// pageInitBit reports whether bit i of a page-init bitmap is set —
// shared by a direct data block's own bitmap and a super block's
// aggregate bitmap.
func pageInitBit(bitmap []byte, i uint64) bool {
	return bitmap[i/8]&(1<<(i%8)) != 0
}

func setPageInitBit(bitmap []byte, i uint64) {
	bitmap[i/8] |= 1 << (i % 8)
}

// createDataBlock allocates a brand-new data block and wires it as a
// flush-dependency child of flushParent (spec.md §4.7). direct reports
// whether it is addressed straight from the index block (true, so it
// carries its own page-init bitmap) or reached through a super block
// (false, so the bitmap lives there instead). A paged data block's
// pages are themselves created lazily on first write (see
// descendDataBlock); a direct data block starts with every page-init
// bit clear.
func (hdr *Header) createDataBlock(nelmts uint64, flushParent block.Addr, direct bool) (*DataBlock, error) {
	size := hdr.dblkOnDiskSize(nelmts, direct)
	addr, err := hdr.file.Alloc.Allocate(alloc.MemEADataBlock, size)
	if err != nil {
		return nil, fmt.Errorf("allocate data block: %w", errs.ErrCantCreate)
	}

	paged := hdr.isPaged(nelmts)
	db := &DataBlock{Addr: addr, NElmts: nelmts, Paged: paged, Direct: direct}

	if paged {
		if direct {
			nPages := hdr.nPages(nelmts)
			db.PageInitBitmap = make([]byte, (nPages+7)/8)
		}
	} else {
		cls, err := hdr.registry.Lookup(hdr.ClassID)
		if err != nil {
			return nil, err
		}
		nat := make([]byte, int(nelmts)*int(cls.NatElmtSize))
		if err := cls.Fill(nat, int(nelmts)); err != nil {
			return nil, fmt.Errorf("fill data block elements: %w", errs.ErrCantSet)
		}
		db.Elmts = make([]byte, int(nelmts)*int(hdr.CParam.RawElmtSize))
		if err := cls.Encode(db.Elmts, nat, int(nelmts), nil); err != nil {
			return nil, fmt.Errorf("encode data block fill elements: %w", errs.ErrCantSet)
		}
	}

	if err := hdr.cache.Insert(addr, db, hdr.dataBlockLoadCallbacks(nelmts, direct), cache.Dirtied); err != nil {
		return nil, err
	}
	if err := hdr.cache.CreateFlushDependency(flushParent, addr); err != nil {
		return nil, err
	}
	if err := hdr.cache.Unprotect(addr, cache.NoFlags); err != nil {
		return nil, err
	}

	hdr.Stats.NDataBlocks++
	hdr.Stats.DataBlockSize += size
	return db, nil
}

// createPage lazily materializes page pageIdx of a paged data block,
// filling it with the class fill value and wiring it as a
// flush-dependency child of the data block (spec.md §4.7, §8 scenario
// 3). The caller sets the page's init bit.
func (hdr *Header) createPage(dblkAddr block.Addr, nelmts uint64, pageIdx uint64, direct bool) (*DataBlockPage, error) {
	pAddr := hdr.pageAddr(dblkAddr, nelmts, pageIdx, direct)
	pageNElmts := hdr.pageNElmts(nelmts, pageIdx)
	page, err := hdr.newFillPage(pAddr, pageNElmts)
	if err != nil {
		return nil, err
	}
	if err := hdr.cache.Insert(pAddr, page, hdr.pageLoadCallbacks(pageNElmts), cache.Dirtied); err != nil {
		return nil, err
	}
	if err := hdr.cache.CreateFlushDependency(dblkAddr, pAddr); err != nil {
		return nil, err
	}
	hdr.Stats.NDataBlockPages++
	hdr.Stats.DataBlockPageSize += hdr.pageOnDiskSize(pageNElmts)
	return page, nil
}

// deleteDataBlock frees a data block and, if paged, every one of its
// materialized pages (spec.md §4.6). For a direct data block the
// page-init bitmap is its own (pageBitmap/bitOffset are unused); for an
// indirect one the caller passes the owning super block's aggregate
// bitmap and this data block's stride offset into it.
func (hdr *Header) deleteDataBlock(addr block.Addr, nelmts uint64, flushParent block.Addr, direct bool, pageBitmap []byte, bitOffset uint64) error {
	db, err := hdr.cache.Protect(addr, nil, hdr.dataBlockLoadCallbacks(nelmts, direct), cache.NoFlags)
	if err != nil {
		return err
	}
	dblk := db.(*DataBlock)

	if dblk.Paged {
		bitmap := pageBitmap
		offset := bitOffset
		if direct {
			bitmap = dblk.PageInitBitmap
			offset = 0
		}
		nPages := hdr.nPages(nelmts)
		for i := uint64(0); i < nPages; i++ {
			if !pageInitBit(bitmap, offset+i) {
				continue
			}
			pAddr := hdr.pageAddr(addr, nelmts, i, direct)
			if _, err := hdr.cache.Protect(pAddr, nil, hdr.pageLoadCallbacks(hdr.pageNElmts(nelmts, i)), cache.NoFlags); err != nil {
				return err
			}
			if err := hdr.cache.Unprotect(pAddr, cache.NoFlags); err != nil {
				return err
			}
			if err := hdr.cache.DestroyFlushDependency(addr, pAddr); err != nil {
				return err
			}
			if err := hdr.cache.Evict(pAddr); err != nil {
				return err
			}
		}
	}

	if err := hdr.cache.Unprotect(addr, cache.NoFlags); err != nil {
		return err
	}
	if err := hdr.cache.DestroyFlushDependency(flushParent, addr); err != nil {
		return err
	}
	size := hdr.dblkOnDiskSize(nelmts, direct)
	if err := hdr.file.Alloc.Free(alloc.MemEADataBlock, addr, size); err != nil {
		return err
	}
	return hdr.cache.Evict(addr)
}
