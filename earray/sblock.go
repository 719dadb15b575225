package earray

import (
	"fmt"

	"github.com/deploymenttheory/go-hdf5arrays/alloc"
	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

// SuperBlock groups a run of same-sized data blocks behind one
// addressable node once an array has grown past the data blocks the
// index block can point to directly (spec.md §3, §4.3). When its row is
// paged, it also carries the aggregate per-page "initialized" bitmap
// for every data block it governs, sized
// ceil(ndblks*dblk_npages/8) bytes (spec.md §3) — the data blocks
// themselves carry none.
type SuperBlock struct {
	Addr           block.Addr
	DataBlockAddrs []block.Addr
	PageInitBitmap []byte
}

func sblkBitmapLen(row SBlkInfo, dblkNPages uint64) int {
	if dblkNPages == 0 {
		return 0
	}
	return int((row.NDblks*dblkNPages + 7) / 8)
}

func (hdr *Header) sblkOnDiskSize(row SBlkInfo) uint64 {
	sizes := hdr.file.Sizes
	bitmapLen := sblkBitmapLen(row, hdr.dblkNPages(row))
	return uint64(6 + int(row.NDblks)*int(sizes.AddrSize) + bitmapLen + 4)
}

func (hdr *Header) encodeSuperBlock(sb *SuperBlock) []byte {
	w := block.NewFrameWriter(block.MagicEASuper, uint8(hdr.ClassID))
	sizes := hdr.file.Sizes
	for _, a := range sb.DataBlockAddrs {
		w.PutAddr(sizes.AddrSize, a)
	}
	if len(sb.PageInitBitmap) > 0 {
		w.PutBytes(sb.PageInitBitmap)
	}
	return w.Finish()
}

func (hdr *Header) decodeSuperBlock(image []byte, row SBlkInfo) (*SuperBlock, error) {
	r, err := block.VerifyFrame(image, block.MagicEASuper, uint8(hdr.ClassID))
	if err != nil {
		return nil, err
	}
	sizes := hdr.file.Sizes
	sb := &SuperBlock{DataBlockAddrs: make([]block.Addr, row.NDblks)}
	for i := range sb.DataBlockAddrs {
		sb.DataBlockAddrs[i] = r.Addr(sizes.AddrSize)
	}
	if bitmapLen := sblkBitmapLen(row, hdr.dblkNPages(row)); bitmapLen > 0 {
		sb.PageInitBitmap = r.Bytes(bitmapLen)
	}
	return sb, nil
}

func (hdr *Header) superBlockLoadCallbacks(row SBlkInfo) cache.LoadCallbacks {
	return cache.LoadCallbacks{
		GetLoadSize: func(udata any) (uint64, error) { return hdr.sblkOnDiskSize(row), nil },
		Deserialize: func(image []byte, udata any) (cache.Block, error) { return hdr.decodeSuperBlock(image, row) },
		ImageLen:    func(b cache.Block) (uint64, error) { return hdr.sblkOnDiskSize(row), nil },
		Serialize:   func(b cache.Block) ([]byte, error) { return hdr.encodeSuperBlock(b.(*SuperBlock)), nil },
		FreeICR:     func(b cache.Block) error { return nil },
	}
}

// createSuperBlock allocates a brand-new, all-undefined super block for
// geometry row and wires it as a flush-dependency child of the header
// (spec.md §4.3, §4.7).
func (hdr *Header) createSuperBlock(row SBlkInfo) (*SuperBlock, error) {
	size := hdr.sblkOnDiskSize(row)
	addr, err := hdr.file.Alloc.Allocate(alloc.MemEASuperBlock, size)
	if err != nil {
		return nil, fmt.Errorf("allocate super block: %w", errs.ErrCantCreate)
	}
	sb := &SuperBlock{Addr: addr, DataBlockAddrs: make([]block.Addr, row.NDblks)}
	for i := range sb.DataBlockAddrs {
		sb.DataBlockAddrs[i] = block.Undefined
	}
	if bitmapLen := sblkBitmapLen(row, hdr.dblkNPages(row)); bitmapLen > 0 {
		sb.PageInitBitmap = make([]byte, bitmapLen)
	}
	if err := hdr.cache.Insert(addr, sb, hdr.superBlockLoadCallbacks(row), cache.Dirtied); err != nil {
		return nil, err
	}
	if err := hdr.cache.CreateFlushDependency(hdr.Addr, addr); err != nil {
		return nil, err
	}
	if err := hdr.cache.Unprotect(addr, cache.NoFlags); err != nil {
		return nil, err
	}
	hdr.Stats.NSuperBlocks++
	hdr.Stats.SuperBlockSize += size
	return sb, nil
}

func (hdr *Header) protectSuperBlock(addr block.Addr, row SBlkInfo, flags cache.Flags) (*SuperBlock, error) {
	blk, err := hdr.cache.Protect(addr, nil, hdr.superBlockLoadCallbacks(row), flags)
	if err != nil {
		return nil, fmt.Errorf("protect super block: %w", errs.ErrCantProtect)
	}
	return blk.(*SuperBlock), nil
}

// deleteSuperBlock frees every data block a super block addresses, then
// the super block itself (spec.md §4.6).
func (hdr *Header) deleteSuperBlock(addr block.Addr, row SBlkInfo) error {
	sb, err := hdr.protectSuperBlock(addr, row, cache.NoFlags)
	if err != nil {
		return err
	}
	dblkNPages := hdr.dblkNPages(row)
	for i, dAddr := range sb.DataBlockAddrs {
		if !dAddr.IsDefined() {
			continue
		}
		bitOffset := uint64(i) * dblkNPages
		if err := hdr.deleteDataBlock(dAddr, row.DblkNElmts, addr, false, sb.PageInitBitmap, bitOffset); err != nil {
			return err
		}
	}
	if err := hdr.cache.Unprotect(addr, cache.NoFlags); err != nil {
		return err
	}
	if err := hdr.cache.DestroyFlushDependency(hdr.Addr, addr); err != nil {
		return err
	}
	size := hdr.sblkOnDiskSize(row)
	if err := hdr.file.Alloc.Free(alloc.MemEASuperBlock, addr, size); err != nil {
		return err
	}
	return hdr.cache.Evict(addr)
}
