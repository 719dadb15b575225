package earray

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

// lookup resolves element index idx to its storage location, walking
// index block -> (direct data block | super block -> data block) ->
// (elements | page) exactly as spec.md §4.5 describes. When write is
// false and any node on the path has never been allocated, lookup
// returns present=false and a nil ref instead of creating anything
// (§4.5: "absent reads return the class fill value without touching
// disk"). When write is true, every missing node along the path is
// created with fill-value content before descent continues (§4.7).
func (hdr *Header) lookup(idx uint64, write bool) (ref *cellRef, present bool, err error) {
	maxNelmts := uint64(1) << hdr.CParam.MaxNElmtsBits
	if idx >= maxNelmts {
		return nil, false, fmt.Errorf("index %d exceeds array bound %d: %w", idx, maxNelmts, errs.ErrBadValue)
	}

	if !hdr.IdxBlkAddr.IsDefined() {
		if !write {
			return nil, false, nil
		}
		if _, err := hdr.createIndexBlock(); err != nil {
			return nil, false, err
		}
	}

	if idx < uint64(hdr.CParam.IdxBlkElmts) {
		ib, err := hdr.protectIndexBlock(cache.NoFlags)
		if err != nil {
			return nil, false, err
		}
		off := idx * uint64(hdr.CParam.RawElmtSize)
		sz := int(hdr.CParam.RawElmtSize)
		buf := ib.Elmts[off : off+uint64(sz)]
		return &cellRef{
			Buf: buf,
			Release: func(dirty bool) error {
				flags := cache.NoFlags
				if dirty {
					flags |= cache.Dirtied
				}
				return hdr.unprotectIndexBlock(flags)
			},
		}, true, nil
	}

	dblkAddr, row, elmtIdx, direct, sbAddr, dblkIdxInRow, present, err := hdr.resolveDataBlock(idx-uint64(hdr.CParam.IdxBlkElmts), write)
	if err != nil || !present {
		return nil, present, err
	}

	return hdr.descendDataBlock(dblkAddr, row, elmtIdx, write, direct, sbAddr, dblkIdxInRow)
}

// resolveDataBlock walks the super-block level (if any) and returns the
// address of the data block holding element offset off (already
// relative to idx_blk_elmts), creating index-block and super-block
// entries along the way when write is set. direct reports whether the
// data block is addressed straight from the index block; when it isn't,
// sbAddr and dblkIdxInRow locate it (and its page-init bit, if paged)
// within the owning super block.
func (hdr *Header) resolveDataBlock(off uint64, write bool) (dblkAddr block.Addr, row SBlkInfo, elmtIdxInDblk uint64, direct bool, sbAddr block.Addr, dblkIdxInRow uint64, present bool, err error) {
	g := hdr.Geometry
	sblkIdx, ok := g.sblkIdxForElmt(off)
	if !ok {
		return 0, SBlkInfo{}, 0, false, 0, 0, false, fmt.Errorf("element offset %d exceeds configured array geometry: %w", off, errs.ErrBadValue)
	}
	row = g.SblkInfo[sblkIdx]
	idxInSblk := off - row.StartIdx
	dblkIdxInRow = idxInSblk / row.DblkNElmts
	elmtIdxInDblk = idxInSblk % row.DblkNElmts

	if sblkIdx < g.NSblksDirect {
		var directPos uint64
		for k := 0; k < sblkIdx; k++ {
			directPos += g.SblkInfo[k].NDblks
		}
		directPos += dblkIdxInRow

		ib, err := hdr.protectIndexBlock(cache.NoFlags)
		if err != nil {
			return 0, row, 0, true, 0, 0, false, err
		}
		addr := ib.DataBlockAddrs[directPos]
		if !addr.IsDefined() {
			if !write {
				_ = hdr.unprotectIndexBlock(cache.NoFlags)
				return 0, row, 0, true, 0, 0, false, nil
			}
			db, err := hdr.createDataBlock(row.DblkNElmts, hdr.Addr, true)
			if err != nil {
				_ = hdr.unprotectIndexBlock(cache.NoFlags)
				return 0, row, 0, true, 0, 0, false, err
			}
			ib.DataBlockAddrs[directPos] = db.Addr
			if err := hdr.unprotectIndexBlock(cache.Dirtied); err != nil {
				return 0, row, 0, true, 0, 0, false, err
			}
			return db.Addr, row, elmtIdxInDblk, true, 0, 0, true, nil
		}
		if err := hdr.unprotectIndexBlock(cache.NoFlags); err != nil {
			return 0, row, 0, true, 0, 0, false, err
		}
		return addr, row, elmtIdxInDblk, true, 0, 0, true, nil
	}

	sPos := sblkIdx - g.NSblksDirect
	ib, err := hdr.protectIndexBlock(cache.NoFlags)
	if err != nil {
		return 0, row, 0, false, 0, dblkIdxInRow, false, err
	}
	sbAddr = ib.SuperBlockAddrs[sPos]
	if !sbAddr.IsDefined() {
		if !write {
			_ = hdr.unprotectIndexBlock(cache.NoFlags)
			return 0, row, 0, false, 0, dblkIdxInRow, false, nil
		}
		sb, err := hdr.createSuperBlock(row)
		if err != nil {
			_ = hdr.unprotectIndexBlock(cache.NoFlags)
			return 0, row, 0, false, 0, dblkIdxInRow, false, err
		}
		ib.SuperBlockAddrs[sPos] = sb.Addr
		if err := hdr.unprotectIndexBlock(cache.Dirtied); err != nil {
			return 0, row, 0, false, 0, dblkIdxInRow, false, err
		}
		sbAddr = sb.Addr
	} else {
		if err := hdr.unprotectIndexBlock(cache.NoFlags); err != nil {
			return 0, row, 0, false, 0, dblkIdxInRow, false, err
		}
	}

	sb, err := hdr.protectSuperBlock(sbAddr, row, cache.NoFlags)
	if err != nil {
		return 0, row, 0, false, sbAddr, dblkIdxInRow, false, err
	}
	addr := sb.DataBlockAddrs[dblkIdxInRow]
	if !addr.IsDefined() {
		if !write {
			_ = hdr.cache.Unprotect(sbAddr, cache.NoFlags)
			return 0, row, 0, false, sbAddr, dblkIdxInRow, false, nil
		}
		db, err := hdr.createDataBlock(row.DblkNElmts, sbAddr, false)
		if err != nil {
			_ = hdr.cache.Unprotect(sbAddr, cache.NoFlags)
			return 0, row, 0, false, sbAddr, dblkIdxInRow, false, err
		}
		sb.DataBlockAddrs[dblkIdxInRow] = db.Addr
		if err := hdr.cache.Unprotect(sbAddr, cache.Dirtied); err != nil {
			return 0, row, 0, false, sbAddr, dblkIdxInRow, false, err
		}
		return db.Addr, row, elmtIdxInDblk, false, sbAddr, dblkIdxInRow, true, nil
	}
	if err := hdr.cache.Unprotect(sbAddr, cache.NoFlags); err != nil {
		return 0, row, 0, false, sbAddr, dblkIdxInRow, false, err
	}
	return addr, row, elmtIdxInDblk, false, sbAddr, dblkIdxInRow, true, nil
}

// containingBlockAddr resolves idx to the address of the on-disk block
// that directly holds its storage — the index block itself for an
// inline element, otherwise the owning data block, or its owning page
// once that page has been materialized — without allocating anything
// along the way (spec.md §5, §8 scenario 6). present is false if any
// node on the path has never been allocated.
func (hdr *Header) containingBlockAddr(idx uint64) (addr block.Addr, present bool, err error) {
	maxNelmts := uint64(1) << hdr.CParam.MaxNElmtsBits
	if idx >= maxNelmts {
		return 0, false, fmt.Errorf("index %d exceeds array bound %d: %w", idx, maxNelmts, errs.ErrBadValue)
	}
	if !hdr.IdxBlkAddr.IsDefined() {
		return 0, false, nil
	}
	if idx < uint64(hdr.CParam.IdxBlkElmts) {
		return hdr.IdxBlkAddr, true, nil
	}

	dblkAddr, row, elmtIdx, direct, sbAddr, dblkIdxInRow, present, err := hdr.resolveDataBlock(idx-uint64(hdr.CParam.IdxBlkElmts), false)
	if err != nil || !present {
		return 0, present, err
	}

	blk, err := hdr.cache.Protect(dblkAddr, nil, hdr.dataBlockLoadCallbacks(row.DblkNElmts, direct), cache.NoFlags)
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
	pageIdx := elmtIdx / pageSz

	var initialized bool
	if direct {
		initialized = pageInitBit(db.PageInitBitmap, pageIdx)
	}
	if err := hdr.cache.Unprotect(dblkAddr, cache.NoFlags); err != nil {
		return 0, false, err
	}

	if !direct {
		sb, err := hdr.protectSuperBlock(sbAddr, row, cache.NoFlags)
		if err != nil {
			return 0, false, err
		}
		globalBit := dblkIdxInRow*hdr.dblkNPages(row) + pageIdx
		initialized = pageInitBit(sb.PageInitBitmap, globalBit)
		if err := hdr.cache.Unprotect(sbAddr, cache.NoFlags); err != nil {
			return 0, false, err
		}
	}

	pAddr := hdr.pageAddr(dblkAddr, row.DblkNElmts, pageIdx, direct)
	if !initialized {
		return dblkAddr, true, nil
	}
	return pAddr, true, nil
}

// descendDataBlock resolves elmtIdx within the data block at dblkAddr
// to a live cellRef, following into the owning page first if the data
// block is paged. direct/sbAddr/dblkIdxInRow locate the page-init bit
// for a paged data block: its own bitmap when direct, otherwise the
// owning super block's aggregate bitmap at dblkIdxInRow's stride.
func (hdr *Header) descendDataBlock(dblkAddr block.Addr, row SBlkInfo, elmtIdx uint64, write bool, direct bool, sbAddr block.Addr, dblkIdxInRow uint64) (*cellRef, bool, error) {
	if !hdr.isPaged(row.DblkNElmts) {
		blk, err := hdr.cache.Protect(dblkAddr, nil, hdr.dataBlockLoadCallbacks(row.DblkNElmts, direct), cache.NoFlags)
		if err != nil {
			return nil, false, err
		}
		db := blk.(*DataBlock)
		off := elmtIdx * uint64(hdr.CParam.RawElmtSize)
		sz := uint64(hdr.CParam.RawElmtSize)
		buf := db.Elmts[off : off+sz]
		addr := dblkAddr
		return &cellRef{
			Buf: buf,
			Release: func(dirty bool) error {
				flags := cache.NoFlags
				if dirty {
					flags |= cache.Dirtied
				}
				return hdr.cache.Unprotect(addr, flags)
			},
		}, true, nil
	}

	pageSz := hdr.CParam.DblkPageNElmts()
	pageIdx := elmtIdx / pageSz
	elmtIdxInPage := elmtIdx % pageSz
	pAddr := hdr.pageAddr(dblkAddr, row.DblkNElmts, pageIdx, direct)
	pageNElmts := hdr.pageNElmts(row.DblkNElmts, pageIdx)

	var page *DataBlockPage
	if direct {
		blk, err := hdr.cache.Protect(dblkAddr, nil, hdr.dataBlockLoadCallbacks(row.DblkNElmts, true), cache.NoFlags)
		if err != nil {
			return nil, false, err
		}
		db := blk.(*DataBlock)
		if !pageInitBit(db.PageInitBitmap, pageIdx) {
			if !write {
				_ = hdr.cache.Unprotect(dblkAddr, cache.NoFlags)
				return nil, false, nil
			}
			p, err := hdr.createPage(dblkAddr, row.DblkNElmts, pageIdx, true)
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
	} else {
		sb, err := hdr.protectSuperBlock(sbAddr, row, cache.NoFlags)
		if err != nil {
			return nil, false, err
		}
		globalBit := dblkIdxInRow*hdr.dblkNPages(row) + pageIdx
		if !pageInitBit(sb.PageInitBitmap, globalBit) {
			if !write {
				_ = hdr.cache.Unprotect(sbAddr, cache.NoFlags)
				return nil, false, nil
			}
			p, err := hdr.createPage(dblkAddr, row.DblkNElmts, pageIdx, false)
			if err != nil {
				_ = hdr.cache.Unprotect(sbAddr, cache.NoFlags)
				return nil, false, err
			}
			setPageInitBit(sb.PageInitBitmap, globalBit)
			if err := hdr.cache.Unprotect(sbAddr, cache.Dirtied); err != nil {
				return nil, false, err
			}
			page = p
		} else {
			pblk, err := hdr.cache.Protect(pAddr, nil, hdr.pageLoadCallbacks(pageNElmts), cache.NoFlags)
			if err != nil {
				_ = hdr.cache.Unprotect(sbAddr, cache.NoFlags)
				return nil, false, err
			}
			if err := hdr.cache.Unprotect(sbAddr, cache.NoFlags); err != nil {
				return nil, false, err
			}
			page = pblk.(*DataBlockPage)
		}
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
