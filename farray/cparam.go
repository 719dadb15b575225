// Package farray implements the Fixed Array: an index-addressed array
// whose element count is fixed at creation time, backed by a single
// (optionally paged) data block mediated by the same shared metadata
// cache protocol the extensible array uses (spec.md §§3–4). It is the
// simpler sibling of package earray: no index block, no super blocks,
// just a header and one data block.
package farray

import (
	"fmt"

	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

// CParam holds the immutable creation parameters of a fixed array
// (spec.md §3).
type CParam struct {
	RawElmtSize           uint32
	NElmts                uint64
	MaxDblkPageNElmtsBits uint8
}

// Validate checks cparam for internal consistency.
func (cp CParam) Validate() error {
	if cp.RawElmtSize == 0 {
		return fmt.Errorf("raw_elmt_size must be > 0: %w", errs.ErrCantInit)
	}
	if cp.NElmts == 0 {
		return fmt.Errorf("nelmts must be > 0: %w", errs.ErrCantInit)
	}
	if cp.MaxDblkPageNElmtsBits > 62 {
		return fmt.Errorf("max_dblk_page_nelmts_bits out of range: %w", errs.ErrCantInit)
	}
	return nil
}

// DblkPageNElmts returns the element capacity of one data-block page.
func (cp CParam) DblkPageNElmts() uint64 {
	return uint64(1) << cp.MaxDblkPageNElmtsBits
}
