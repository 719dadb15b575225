package earray

// SBlkInfo is one row of the super-block geometry table (spec.md §3):
// the data-block count, per-data-block element count, and cumulative
// starting element index and data-block index a super block of this
// index covers. It is a pure function of CParam.
type SBlkInfo struct {
	NDblks     uint64
	DblkNElmts uint64
	StartIdx   uint64
	StartDblk  uint64
}

// covered is the number of elements this row's super block spans.
func (s SBlkInfo) covered() uint64 { return s.NDblks * s.DblkNElmts }

// Geometry is the precomputed, CParam-derived layout of an extensible
// array's super-block levels.
type Geometry struct {
	SblkInfo         []SBlkInfo
	NSblksDirect     int    // leading super blocks whose data blocks are addressed directly from the index block
	NDblkAddrsDirect uint64 // total direct data-block address slots in the index block
	NSblks           int    // super-block address slots in the index block (SblkInfo beyond the direct prefix)
}

// computeGeometry builds the super-block table for cp (spec.md §3, §4.3):
// "doubles the per-super-block data-block count at every other super
// block, doubling data-block size at the other". Concretely, starting
// from (ndblks=sup_blk_min_data_ptrs, dblk_nelmts=data_blk_min_elmts),
// ndblks doubles after every odd-indexed row and dblk_nelmts doubles
// after every even-indexed row, so the first two rows ("direct" rows)
// share the minimum ndblks before the first doubling takes effect.
func computeGeometry(cp CParam) Geometry {
	maxNelmts := uint64(1) << cp.MaxNElmtsBits
	// Elements addressable below the super-block levels are held
	// directly in the index block; geometry only needs to cover the
	// remainder.
	var coverLimit uint64
	if maxNelmts > uint64(cp.IdxBlkElmts) {
		coverLimit = maxNelmts - uint64(cp.IdxBlkElmts)
	}

	ndblks := uint64(cp.SupBlkMinDataPtrs)
	dblkNelmts := uint64(cp.DataBlkMinElmts)

	var table []SBlkInfo
	var startIdx, startDblk uint64
	nsblksDirect := -1

	const safetyCap = 256 // doubling every ~2 rows covers any 62-bit span long before this
	for i := 0; i < safetyCap; i++ {
		row := SBlkInfo{NDblks: ndblks, DblkNElmts: dblkNelmts, StartIdx: startIdx, StartDblk: startDblk}
		table = append(table, row)

		if nsblksDirect == -1 && ndblks > uint64(cp.SupBlkMinDataPtrs) {
			nsblksDirect = i
		}

		startIdx += row.covered()
		startDblk += ndblks

		if startIdx >= coverLimit {
			break
		}

		if i%2 == 1 {
			ndblks *= 2
		} else {
			dblkNelmts *= 2
		}
	}

	if nsblksDirect == -1 {
		nsblksDirect = len(table)
	}

	var ndblkAddrsDirect uint64
	for i := 0; i < nsblksDirect && i < len(table); i++ {
		ndblkAddrsDirect += table[i].NDblks
	}

	return Geometry{
		SblkInfo:         table,
		NSblksDirect:     nsblksDirect,
		NDblkAddrsDirect: ndblkAddrsDirect,
		NSblks:           len(table) - nsblksDirect,
	}
}

// directRowForDblk returns the geometry row that direct data-block slot
// i (an index into the index block's flat DataBlockAddrs array) belongs
// to, by walking the cumulative NDblks of each direct row.
func (g Geometry) directRowForDblk(i uint64) SBlkInfo {
	var seen uint64
	for k := 0; k < g.NSblksDirect && k < len(g.SblkInfo); k++ {
		row := g.SblkInfo[k]
		if i < seen+row.NDblks {
			return row
		}
		seen += row.NDblks
	}
	return g.SblkInfo[0]
}

// sblkIdxForElmt returns the smallest k such that row k's covered range
// contains off (an element offset already relative to idx_blk_elmts),
// resolving Open Question (a) of spec.md §9 by searching the
// authoritative geometry table directly instead of trusting a closed-form
// bit-shift formula.
func (g Geometry) sblkIdxForElmt(off uint64) (int, bool) {
	for k, row := range g.SblkInfo {
		if off < row.StartIdx+row.covered() {
			return k, true
		}
	}
	return 0, false
}
