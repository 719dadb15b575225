package farray

import (
	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
)

// DataBlockPage is one fixed-size slice of a fixed array's elements
// (spec.md §3, §8 scenario 3). Only a data block whose element count
// exceeds the configured page threshold is split into pages.
type DataBlockPage struct {
	Addr  block.Addr
	Elmts []byte
}

func (hdr *Header) pageOnDiskSize(nelmts uint64) uint64 {
	return uint64(6 + int(nelmts)*int(hdr.CParam.RawElmtSize) + 4)
}

func (hdr *Header) encodeDataBlockPage(p *DataBlockPage) []byte {
	w := block.NewFrameWriter(block.MagicFAPage, uint8(hdr.ClassID))
	w.PutBytes(p.Elmts)
	return w.Finish()
}

func (hdr *Header) decodeDataBlockPage(image []byte, nelmts uint64) (*DataBlockPage, error) {
	r, err := block.VerifyFrame(image, block.MagicFAPage, uint8(hdr.ClassID))
	if err != nil {
		return nil, err
	}
	return &DataBlockPage{Elmts: r.Bytes(int(nelmts) * int(hdr.CParam.RawElmtSize))}, nil
}

func (hdr *Header) pageLoadCallbacks(nelmts uint64) cache.LoadCallbacks {
	return cache.LoadCallbacks{
		GetLoadSize: func(udata any) (uint64, error) { return hdr.pageOnDiskSize(nelmts), nil },
		Deserialize: func(image []byte, udata any) (cache.Block, error) { return hdr.decodeDataBlockPage(image, nelmts) },
		ImageLen:    func(b cache.Block) (uint64, error) { return hdr.pageOnDiskSize(nelmts), nil },
		Serialize:   func(b cache.Block) ([]byte, error) { return hdr.encodeDataBlockPage(b.(*DataBlockPage)), nil },
		FreeICR:     func(b cache.Block) error { return nil },
	}
}

// newFillPage returns a page whose elements are all the class fill
// value, for lazy page creation (spec.md §8 scenario 3).
func (hdr *Header) newFillPage(addr block.Addr, nelmts uint64) (*DataBlockPage, error) {
	cls, err := hdr.registry.Lookup(hdr.ClassID)
	if err != nil {
		return nil, err
	}
	nat := make([]byte, int(nelmts)*int(cls.NatElmtSize))
	if err := cls.Fill(nat, int(nelmts)); err != nil {
		return nil, err
	}
	raw := make([]byte, int(nelmts)*int(hdr.CParam.RawElmtSize))
	if err := cls.Encode(raw, nat, int(nelmts), nil); err != nil {
		return nil, err
	}
	return &DataBlockPage{Addr: addr, Elmts: raw}, nil
}
