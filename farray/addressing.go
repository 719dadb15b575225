package farray

import (
	"fmt"

	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

// cellRef is a live, protected reference to one element's raw on-disk
// bytes. Buf aliases the owning block's in-memory buffer directly; the
// caller reads or overwrites it in place and must call Release exactly
// once to unprotect the owning block (spec.md §4.5).
type cellRef struct {
	Buf     []byte
	Release func(dirty bool) error
}

// lookup resolves element index idx to its storage location within the
// array's single data block, descending into the owning page first if
// the data block is paged. When write is false and the data block (or
// its owning page) has never been allocated, lookup returns
// present=false and a nil ref instead of creating anything (§4.5:
// "absent reads return the class fill value without touching disk").
// When write is true, the data block and, if needed, the owning page
// are created with fill-value content before descent continues (§4.7,
// §8 scenario 3).
func (hdr *Header) lookup(idx uint64, write bool) (ref *cellRef, present bool, err error) {
	if idx >= hdr.CParam.NElmts {
		return nil, false, fmt.Errorf("index %d exceeds array bound %d: %w", idx, hdr.CParam.NElmts, errs.ErrBadValue)
	}

	if !hdr.DataBlockAddr.IsDefined() {
		if !write {
			return nil, false, nil
		}
		if _, err := hdr.createDataBlock(); err != nil {
			return nil, false, err
		}
	}

	return hdr.descendDataBlock(idx, write)
}

// containingBlockAddr resolves idx to the address of the on-disk block
// that directly holds its storage — the data block itself, or its
// owning page once that page has been materialized — without
// allocating anything along the way (spec.md §5, §8 scenario 6).
// present is false if the data block (or its owning page) has never
// been allocated.
func (hdr *Header) containingBlockAddr(idx uint64) (addr block.Addr, present bool, err error) {
	if idx >= hdr.CParam.NElmts {
		return 0, false, fmt.Errorf("index %d exceeds array bound %d: %w", idx, hdr.CParam.NElmts, errs.ErrBadValue)
	}
	if !hdr.DataBlockAddr.IsDefined() {
		return 0, false, nil
	}

	dblkAddr := hdr.DataBlockAddr
	blk, err := hdr.cache.Protect(dblkAddr, nil, hdr.dataBlockLoadCallbacks(), cache.NoFlags)
	if err != nil {
		return 0, false, err
	}
	db := blk.(*DataBlock)
	if !db.Paged {
		if err := hdr.cache.Unprotect(dblkAddr, cache.NoFlags); err != nil {
			return 0, false, err
		}
		return dblkAddr, true, nil
	}

	pageSz := hdr.CParam.DblkPageNElmts()
	pageIdx := idx / pageSz
	initialized := pageInitBit(db.PageInitBitmap, pageIdx)
	pAddr := hdr.pageAddr(dblkAddr, pageIdx)
	if err := hdr.cache.Unprotect(dblkAddr, cache.NoFlags); err != nil {
		return 0, false, err
	}
	if !initialized {
		return dblkAddr, true, nil
	}
	return pAddr, true, nil
}

// descendDataBlock resolves elmtIdx within the array's data block to a
// live cellRef.
func (hdr *Header) descendDataBlock(elmtIdx uint64, write bool) (*cellRef, bool, error) {
	dblkAddr := hdr.DataBlockAddr
	blk, err := hdr.cache.Protect(dblkAddr, nil, hdr.dataBlockLoadCallbacks(), cache.NoFlags)
	if err != nil {
		return nil, false, err
	}
	db := blk.(*DataBlock)

	if !db.Paged {
		off := elmtIdx * uint64(hdr.CParam.RawElmtSize)
		sz := uint64(hdr.CParam.RawElmtSize)
		buf := db.Elmts[off : off+sz]
		return &cellRef{
			Buf: buf,
			Release: func(dirty bool) error {
				flags := cache.NoFlags
				if dirty {
					flags |= cache.Dirtied
				}
				return hdr.cache.Unprotect(dblkAddr, flags)
			},
		}, true, nil
	}

	pageSz := hdr.CParam.DblkPageNElmts()
	pageIdx := elmtIdx / pageSz
	elmtIdxInPage := elmtIdx % pageSz

	var page *DataBlockPage
	pAddr := hdr.pageAddr(dblkAddr, pageIdx)
	pageNElmts := hdr.pageNElmts(pageIdx)

	if !pageInitBit(db.PageInitBitmap, pageIdx) {
		if !write {
			_ = hdr.cache.Unprotect(dblkAddr, cache.NoFlags)
			return nil, false, nil
		}
		p, err := hdr.createPage(dblkAddr, pageIdx)
		if err != nil {
			_ = hdr.cache.Unprotect(dblkAddr, cache.NoFlags)
			return nil, false, err
		}
		setPageInitBit(db.PageInitBitmap, pageIdx)
		if err := hdr.cache.Unprotect(dblkAddr, cache.Dirtied); err != nil {
			return nil, false, err
		}
		page = p
	} else {
		pblk, err := hdr.cache.Protect(pAddr, nil, hdr.pageLoadCallbacks(pageNElmts), cache.NoFlags)
		if err != nil {
			_ = hdr.cache.Unprotect(dblkAddr, cache.NoFlags)
			return nil, false, err
		}
		if err := hdr.cache.Unprotect(dblkAddr, cache.NoFlags); err != nil {
			return nil, false, err
		}
		page = pblk.(*DataBlockPage)
	}
	off := elmtIdxInPage * uint64(hdr.CParam.RawElmtSize)
	sz := uint64(hdr.CParam.RawElmtSize)
	buf := page.Elmts[off : off+sz]
	return &cellRef{
		Buf: buf,
		Release: func(dirty bool) error {
			flags := cache.NoFlags
			if dirty {
				flags |= cache.Dirtied
			}
			return hdr.cache.Unprotect(pAddr, flags)
		},
	}, true, nil
}
