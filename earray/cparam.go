// Package earray implements the Extensible Array: an index-addressed
// array whose logical length grows on demand, backed by a multi-level
// addressing tree (index block → super blocks → data blocks → data-block
// pages) mediated by a shared metadata cache (spec.md §§3–4).
package earray

import (
	"fmt"

	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

// CParam holds the immutable creation parameters of an extensible array
// (spec.md §3). They fully determine the array's geometry and never
// change after Create.
type CParam struct {
	RawElmtSize           uint32
	MaxNElmtsBits         uint8
	IdxBlkElmts           uint32
	SupBlkMinDataPtrs     uint32
	DataBlkMinElmts       uint32
	MaxDblkPageNElmtsBits uint8
}

// maxSupportedBits bounds MaxNElmtsBits so 1<<bits never overflows a
// uint64 element index.
const maxSupportedBits = 62

// Validate checks cparam for internal consistency, matching the failure
// mode §7 calls CantInit.
func (cp CParam) Validate() error {
	if cp.RawElmtSize == 0 {
		return fmt.Errorf("raw_elmt_size must be > 0: %w", errs.ErrCantInit)
	}
	if cp.MaxNElmtsBits == 0 || cp.MaxNElmtsBits > maxSupportedBits {
		return fmt.Errorf("max_nelmts_bits must be in [1,%d]: %w", maxSupportedBits, errs.ErrCantInit)
	}
	if cp.IdxBlkElmts == 0 {
		return fmt.Errorf("idx_blk_elmts must be > 0: %w", errs.ErrCantInit)
	}
	if cp.SupBlkMinDataPtrs == 0 {
		return fmt.Errorf("sup_blk_min_data_ptrs must be > 0: %w", errs.ErrCantInit)
	}
	if cp.DataBlkMinElmts == 0 {
		return fmt.Errorf("data_blk_min_elmts must be > 0: %w", errs.ErrCantInit)
	}
	if cp.MaxDblkPageNElmtsBits > 62 {
		return fmt.Errorf("max_dblk_page_nelmts_bits out of range: %w", errs.ErrCantInit)
	}
	return nil
}

// DblkPageNElmts returns the element capacity of one data-block page:
// 2^max_dblk_page_nelmts_bits.
func (cp CParam) DblkPageNElmts() uint64 {
	return uint64(1) << cp.MaxDblkPageNElmtsBits
}
