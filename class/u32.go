package class

import "encoding/binary"

// NewUint32Class returns a demonstration class storing uint32 elements
// raw and native, with the given fill value. It is the class the package
// tests exercise the array core against; real clients supply their own.
func NewUint32Class(id ID, fill uint32) *Class {
	return &Class{
		ID:          id,
		Name:        "uint32",
		NatElmtSize: 4,
		RawElmtSize: 4,
		Fill: func(buf []byte, nelmts int) error {
			for i := 0; i < nelmts; i++ {
				binary.LittleEndian.PutUint32(buf[i*4:i*4+4], fill)
			}
			return nil
		},
		Encode: func(raw []byte, nat []byte, nelmts int, _ Context) error {
			copy(raw[:nelmts*4], nat[:nelmts*4])
			return nil
		},
		Decode: func(raw []byte, nat []byte, nelmts int, _ Context) error {
			copy(nat[:nelmts*4], raw[:nelmts*4])
			return nil
		},
	}
}

// DecodeUint32 is a small test/CLI convenience reading one native uint32
// out of a decoded element buffer at index i.
func DecodeUint32(buf []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
}

// EncodeUint32 is the write-side counterpart of DecodeUint32.
func EncodeUint32(buf []byte, i int, v uint32) {
	binary.LittleEndian.PutUint32(buf[i*4:i*4+4], v)
}
