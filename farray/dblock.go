package farray

import (
	"fmt"

	"github.com/deploymenttheory/go-hdf5arrays/alloc"
	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

// DataBlock holds every element of a fixed array (spec.md §3, §8
// scenario 3). A data block whose element count exceeds the configured
// page threshold stores no elements of its own; its elements live in
// separately addressed DataBlockPage blocks packed immediately after
// it on disk, materialized lazily on first write to each page.
type DataBlock struct {
	Addr   block.Addr
	NElmts uint64
	Paged  bool

	Elmts          []byte // only set when !Paged
	PageInitBitmap []byte // only set when Paged, ceil(NPages/8) bytes
}

// isPaged reports whether the array's single data block is split into
// pages (spec.md §8 scenario 3: nelmts=9 over a page threshold of 4
// elements yields 3 pages).
func (hdr *Header) isPaged() bool {
	return hdr.CParam.MaxDblkPageNElmtsBits > 0 && hdr.CParam.NElmts > hdr.CParam.DblkPageNElmts()
}

func (hdr *Header) nPages() uint64 {
	pageSz := hdr.CParam.DblkPageNElmts()
	return (hdr.CParam.NElmts + pageSz - 1) / pageSz
}

func (hdr *Header) pageNElmts(pageIdx uint64) uint64 {
	pageSz := hdr.CParam.DblkPageNElmts()
	start := pageIdx * pageSz
	if start+pageSz > hdr.CParam.NElmts {
		return hdr.CParam.NElmts - start
	}
	return pageSz
}

// dblkHeaderOnDiskSize is the size of a paged data block's own frame
// (bitmap only, no inline elements).
func (hdr *Header) dblkHeaderOnDiskSize() uint64 {
	bitmapLen := int((hdr.nPages() + 7) / 8)
	return uint64(6 + bitmapLen + 4)
}

// dblkOnDiskSize is the total extent the data block (and, if paged, all
// of its pages) occupies.
func (hdr *Header) dblkOnDiskSize() uint64 {
	if !hdr.isPaged() {
		return uint64(6 + int(hdr.CParam.NElmts)*int(hdr.CParam.RawElmtSize) + 4)
	}
	total := hdr.dblkHeaderOnDiskSize()
	nPages := hdr.nPages()
	for i := uint64(0); i < nPages; i++ {
		total += hdr.pageOnDiskSize(hdr.pageNElmts(i))
	}
	return total
}

// pageAddr returns the address of page i within the data block at
// dblkAddr.
func (hdr *Header) pageAddr(dblkAddr block.Addr, pageIdx uint64) block.Addr {
	off := uint64(dblkAddr) + hdr.dblkHeaderOnDiskSize()
	for i := uint64(0); i < pageIdx; i++ {
		off += hdr.pageOnDiskSize(hdr.pageNElmts(i))
	}
	return block.Addr(off)
}

func (hdr *Header) encodeDataBlock(db *DataBlock) []byte {
	w := block.NewFrameWriter(block.MagicFAData, uint8(hdr.ClassID))
	if db.Paged {
		w.PutBytes(db.PageInitBitmap)
	} else {
		w.PutBytes(db.Elmts)
	}
	return w.Finish()
}

func (hdr *Header) decodeDataBlock(image []byte) (*DataBlock, error) {
	r, err := block.VerifyFrame(image, block.MagicFAData, uint8(hdr.ClassID))
	if err != nil {
		return nil, err
	}
	db := &DataBlock{NElmts: hdr.CParam.NElmts, Paged: hdr.isPaged()}
	if db.Paged {
		db.PageInitBitmap = r.Bytes(int((hdr.nPages() + 7) / 8))
	} else {
		db.Elmts = r.Bytes(int(hdr.CParam.NElmts) * int(hdr.CParam.RawElmtSize))
	}
	return db, nil
}

func (hdr *Header) dataBlockLoadCallbacks() cache.LoadCallbacks {
	return cache.LoadCallbacks{
		GetLoadSize: func(udata any) (uint64, error) {
			if hdr.isPaged() {
				return hdr.dblkHeaderOnDiskSize(), nil
			}
			return hdr.dblkOnDiskSize(), nil
		},
		Deserialize: func(image []byte, udata any) (cache.Block, error) { return hdr.decodeDataBlock(image) },
		ImageLen: func(b cache.Block) (uint64, error) {
			if hdr.isPaged() {
				return hdr.dblkHeaderOnDiskSize(), nil
			}
			return hdr.dblkOnDiskSize(), nil
		},
		Serialize: func(b cache.Block) ([]byte, error) { return hdr.encodeDataBlock(b.(*DataBlock)), nil },
		FreeICR:   func(b cache.Block) error { return nil },
	}
}

// pageInitBit reports whether page i of db has been materialized.
func pageInitBit(bitmap []byte, i uint64) bool {
	return bitmap[i/8]&(1<<(i%8)) != 0
}

func setPageInitBit(bitmap []byte, i uint64) {
	bitmap[i/8] |= 1 << (i % 8)
}

// createDataBlock allocates the array's single data block and wires it
// as a flush-dependency child of the header (spec.md §4.7). A paged
// data block's pages are themselves created lazily on first write (see
// descendDataBlock); the data block starts with every page-init bit
// clear.
func (hdr *Header) createDataBlock() (*DataBlock, error) {
	size := hdr.dblkOnDiskSize()
	addr, err := hdr.file.Alloc.Allocate(alloc.MemFADataBlock, size)
	if err != nil {
		return nil, fmt.Errorf("allocate data block: %w", errs.ErrCantCreate)
	}

	paged := hdr.isPaged()
	db := &DataBlock{Addr: addr, NElmts: hdr.CParam.NElmts, Paged: paged}

	if paged {
		db.PageInitBitmap = make([]byte, (hdr.nPages()+7)/8)
	} else {
		cls, err := hdr.registry.Lookup(hdr.ClassID)
		if err != nil {
			return nil, err
		}
		nelmts := int(hdr.CParam.NElmts)
		nat := make([]byte, nelmts*int(cls.NatElmtSize))
		if err := cls.Fill(nat, nelmts); err != nil {
			return nil, fmt.Errorf("fill data block elements: %w", errs.ErrCantSet)
		}
		db.Elmts = make([]byte, nelmts*int(hdr.CParam.RawElmtSize))
		if err := cls.Encode(db.Elmts, nat, nelmts, nil); err != nil {
			return nil, fmt.Errorf("encode data block fill elements: %w", errs.ErrCantSet)
		}
	}

	if err := hdr.cache.Insert(addr, db, hdr.dataBlockLoadCallbacks(), cache.Dirtied); err != nil {
		return nil, err
	}
	if err := hdr.cache.CreateFlushDependency(hdr.Addr, addr); err != nil {
		return nil, err
	}
	if err := hdr.cache.Unprotect(addr, cache.NoFlags); err != nil {
		return nil, err
	}

	hdr.DataBlockAddr = addr
	if err := hdr.Modified(); err != nil {
		return nil, err
	}

	hdr.Stats.DataBlockSize = size
	return db, nil
}

// createPage lazily materializes page pageIdx of the paged data block,
// filling it with the class fill value and wiring it as a
// flush-dependency child of the data block (spec.md §8 scenario 3:
// "nelmts=9 -> 3 pages, page-init bitmap verification after reopen").
// The caller sets the page's init bit.
func (hdr *Header) createPage(dblkAddr block.Addr, pageIdx uint64) (*DataBlockPage, error) {
	pAddr := hdr.pageAddr(dblkAddr, pageIdx)
	pageNElmts := hdr.pageNElmts(pageIdx)
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

// deleteDataBlock frees the data block and, if paged, every one of its
// materialized pages (spec.md §4.6).
func (hdr *Header) deleteDataBlock() error {
	addr := hdr.DataBlockAddr
	blk, err := hdr.cache.Protect(addr, nil, hdr.dataBlockLoadCallbacks(), cache.NoFlags)
	if err != nil {
		return err
	}
	dblk := blk.(*DataBlock)

	if dblk.Paged {
		nPages := hdr.nPages()
		for i := uint64(0); i < nPages; i++ {
			if !pageInitBit(dblk.PageInitBitmap, i) {
				continue
			}
			pAddr := hdr.pageAddr(addr, i)
			if _, err := hdr.cache.Protect(pAddr, nil, hdr.pageLoadCallbacks(hdr.pageNElmts(i)), cache.NoFlags); err != nil {
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
	if err := hdr.cache.DestroyFlushDependency(hdr.Addr, addr); err != nil {
		return err
	}
	size := hdr.dblkOnDiskSize()
	if err := hdr.file.Alloc.Free(alloc.MemFADataBlock, addr, size); err != nil {
		return err
	}
	return hdr.cache.Evict(addr)
}
