// Package alloc defines the file-space allocator contract the array
// packages consume (§6.2) — the allocator itself, a real free-space
// manager over an on-disk file, is an external collaborator out of scope
// for this module (§1).
package alloc

import "github.com/deploymenttheory/go-hdf5arrays/block"

// MemType tags which kind of block an allocation or free is for; EA and
// FA block kinds use distinct tags (§6.2) so an embedding file format can
// account for them separately.
type MemType uint8

const (
	MemEAHeader MemType = iota
	MemEAIndexBlock
	MemEASuperBlock
	MemEADataBlock
	MemEADataBlockPage
	MemFAHeader
	MemFADataBlock
	MemFADataBlockPage
)

// Allocator allocates and frees extents of file space.
type Allocator interface {
	// Allocate reserves size bytes of file space for memType and
	// returns its address.
	Allocate(memType MemType, size uint64) (block.Addr, error)

	// Free releases the size-byte extent at addr that was previously
	// returned by Allocate for memType.
	Free(memType MemType, addr block.Addr, size uint64) error
}
