package earray

import (
	"fmt"

	"github.com/deploymenttheory/go-hdf5arrays/alloc"
	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

// IndexBlock is the root of an extensible array's addressing tree
// (spec.md §3, §4.2): a fixed number of elements stored inline, a run of
// direct data-block addresses, and a run of super-block addresses.
type IndexBlock struct {
	Addr block.Addr

	Elmts           []byte // cp.IdxBlkElmts * cp.RawElmtSize bytes
	DataBlockAddrs  []block.Addr
	SuperBlockAddrs []block.Addr
}

func (hdr *Header) idxBlkOnDiskSize() uint64 {
	sizes := hdr.file.Sizes
	g := hdr.Geometry
	n := 6 + int(hdr.CParam.IdxBlkElmts)*int(hdr.CParam.RawElmtSize) +
		int(g.NDblkAddrsDirect)*int(sizes.AddrSize) +
		int(g.NSblks)*int(sizes.AddrSize) + 4
	return uint64(n)
}

func (hdr *Header) encodeIndexBlock(ib *IndexBlock) []byte {
	w := block.NewFrameWriter(block.MagicEAIndex, uint8(hdr.ClassID))
	w.PutBytes(ib.Elmts)
	sizes := hdr.file.Sizes
	for _, a := range ib.DataBlockAddrs {
		w.PutAddr(sizes.AddrSize, a)
	}
	for _, a := range ib.SuperBlockAddrs {
		w.PutAddr(sizes.AddrSize, a)
	}
	return w.Finish()
}

func (hdr *Header) decodeIndexBlock(image []byte) (*IndexBlock, error) {
	r, err := block.VerifyFrame(image, block.MagicEAIndex, uint8(hdr.ClassID))
	if err != nil {
		return nil, err
	}
	g := hdr.Geometry
	ib := &IndexBlock{
		Elmts:           r.Bytes(int(hdr.CParam.IdxBlkElmts) * int(hdr.CParam.RawElmtSize)),
		DataBlockAddrs:  make([]block.Addr, g.NDblkAddrsDirect),
		SuperBlockAddrs: make([]block.Addr, g.NSblks),
	}
	sizes := hdr.file.Sizes
	for i := range ib.DataBlockAddrs {
		ib.DataBlockAddrs[i] = r.Addr(sizes.AddrSize)
	}
	for i := range ib.SuperBlockAddrs {
		ib.SuperBlockAddrs[i] = r.Addr(sizes.AddrSize)
	}
	return ib, nil
}

func (hdr *Header) indexBlockLoadCallbacks() cache.LoadCallbacks {
	return cache.LoadCallbacks{
		GetLoadSize: func(udata any) (uint64, error) { return hdr.idxBlkOnDiskSize(), nil },
		Deserialize: func(image []byte, udata any) (cache.Block, error) { return hdr.decodeIndexBlock(image) },
		ImageLen:    func(b cache.Block) (uint64, error) { return hdr.idxBlkOnDiskSize(), nil },
		Serialize:   func(b cache.Block) ([]byte, error) { return hdr.encodeIndexBlock(b.(*IndexBlock)), nil },
		FreeICR:     func(b cache.Block) error { return nil },
	}
}

// createIndexBlock allocates and inserts a brand-new, all-fill-value
// index block, wiring it as a flush-dependency child of the header
// (spec.md §4.7: lazy creation on the first Set).
func (hdr *Header) createIndexBlock() (*IndexBlock, error) {
	size := hdr.idxBlkOnDiskSize()
	addr, err := hdr.file.Alloc.Allocate(alloc.MemEAIndexBlock, size)
	if err != nil {
		return nil, fmt.Errorf("allocate index block: %w", errs.ErrCantCreate)
	}

	elmtClass, err := hdr.registry.Lookup(hdr.ClassID)
	if err != nil {
		return nil, fmt.Errorf("lookup element class: %w", errs.ErrCantCreate)
	}
	nat := make([]byte, int(hdr.CParam.IdxBlkElmts)*int(elmtClass.NatElmtSize))
	if err := elmtClass.Fill(nat, int(hdr.CParam.IdxBlkElmts)); err != nil {
		return nil, fmt.Errorf("fill index block elements: %w", errs.ErrCantSet)
	}
	raw := make([]byte, int(hdr.CParam.IdxBlkElmts)*int(hdr.CParam.RawElmtSize))
	if err := elmtClass.Encode(raw, nat, int(hdr.CParam.IdxBlkElmts), nil); err != nil {
		return nil, fmt.Errorf("encode index block fill elements: %w", errs.ErrCantSet)
	}

	g := hdr.Geometry
	ib := &IndexBlock{
		Addr:            addr,
		Elmts:           raw,
		DataBlockAddrs:  make([]block.Addr, g.NDblkAddrsDirect),
		SuperBlockAddrs: make([]block.Addr, g.NSblks),
	}
	for i := range ib.DataBlockAddrs {
		ib.DataBlockAddrs[i] = block.Undefined
	}
	for i := range ib.SuperBlockAddrs {
		ib.SuperBlockAddrs[i] = block.Undefined
	}

	if err := hdr.cache.Insert(addr, ib, hdr.indexBlockLoadCallbacks(), cache.Pinned|cache.Dirtied); err != nil {
		return nil, err
	}
	if err := hdr.cache.CreateFlushDependency(hdr.Addr, addr); err != nil {
		return nil, err
	}
	if err := hdr.cache.Unprotect(addr, cache.NoFlags); err != nil {
		return nil, err
	}

	hdr.IdxBlkAddr = addr
	if err := hdr.Modified(); err != nil {
		return nil, err
	}
	return ib, nil
}

// protectIndexBlock protects the already-allocated index block.
func (hdr *Header) protectIndexBlock(flags cache.Flags) (*IndexBlock, error) {
	blk, err := hdr.cache.Protect(hdr.IdxBlkAddr, nil, hdr.indexBlockLoadCallbacks(), flags)
	if err != nil {
		return nil, fmt.Errorf("protect index block: %w", errs.ErrCantProtect)
	}
	return blk.(*IndexBlock), nil
}

func (hdr *Header) unprotectIndexBlock(flags cache.Flags) error {
	return hdr.cache.Unprotect(hdr.IdxBlkAddr, flags)
}

// deleteIndexBlock recursively frees every super block, data block, and
// page reachable from the index block, then the index block itself
// (spec.md §4.6).
func (hdr *Header) deleteIndexBlock() error {
	ib, err := hdr.protectIndexBlock(cache.NoFlags)
	if err != nil {
		return err
	}

	for i, addr := range ib.DataBlockAddrs {
		if !addr.IsDefined() {
			continue
		}
		row := hdr.Geometry.directRowForDblk(uint64(i))
		if err := hdr.deleteDataBlock(addr, row.DblkNElmts, hdr.Addr, true, nil, 0); err != nil {
			return err
		}
	}
	for i, addr := range ib.SuperBlockAddrs {
		if !addr.IsDefined() {
			continue
		}
		row := hdr.Geometry.SblkInfo[hdr.Geometry.NSblksDirect+i]
		if err := hdr.deleteSuperBlock(addr, row); err != nil {
			return err
		}
	}

	if err := hdr.unprotectIndexBlock(cache.NoFlags); err != nil {
		return err
	}
	if err := hdr.cache.DestroyFlushDependency(hdr.Addr, hdr.IdxBlkAddr); err != nil {
		return err
	}
	if err := hdr.file.Alloc.Free(alloc.MemEAIndexBlock, hdr.IdxBlkAddr, hdr.idxBlkOnDiskSize()); err != nil {
		return err
	}
	return hdr.cache.Evict(hdr.IdxBlkAddr)
}
