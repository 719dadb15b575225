// Package chksum implements the file format's metadata integrity check: a
// parameterless, non-cryptographic 32-bit hash (Bob Jenkins' "lookup3",
// the same family HDF5 uses for its metadata checksums) computed over
// every byte of a block image that precedes its trailing checksum field;
// verify recomputes it over those bytes and compares.
package chksum

import "encoding/binary"

// Size is the width in bytes of the trailing checksum field every block
// carries.
const Size = 4

const (
	initval = uint32(0xdeadbeef)
)

func rot(x uint32, k uint) uint32 { return (x << k) | (x >> (32 - k)) }

func mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= rot(c, 4)
	c += b
	b -= a
	b ^= rot(a, 6)
	a += c
	c -= b
	c ^= rot(b, 8)
	b += a
	a -= c
	a ^= rot(c, 16)
	c += b
	b -= a
	b ^= rot(a, 19)
	a += c
	c -= b
	c ^= rot(b, 4)
	b += a
	return a, b, c
}

func final(a, b, c uint32) (uint32, uint32, uint32) {
	c ^= b
	c -= rot(b, 14)
	a ^= c
	a -= rot(c, 11)
	b ^= a
	b -= rot(a, 25)
	c ^= b
	c -= rot(b, 16)
	a ^= c
	a -= rot(c, 4)
	b ^= a
	b -= rot(a, 14)
	c ^= b
	c -= rot(b, 24)
	return a, b, c
}

// Compute returns the lookup3 hash of data, matching Bob Jenkins'
// little-endian "hashlittle" over arbitrary byte buffers.
func Compute(data []byte) uint32 {
	length := len(data)
	a := initval + uint32(length)
	b, c := a, a

	for length > 12 {
		a += binary.LittleEndian.Uint32(data[0:4])
		b += binary.LittleEndian.Uint32(data[4:8])
		c += binary.LittleEndian.Uint32(data[8:12])
		a, b, c = mix(a, b, c)
		data = data[12:]
		length -= 12
	}

	if length > 0 {
		var tail [12]byte
		copy(tail[:], data)
		a += binary.LittleEndian.Uint32(tail[0:4])
		b += binary.LittleEndian.Uint32(tail[4:8])
		c += binary.LittleEndian.Uint32(tail[8:12])
		a, b, c = final(a, b, c)
	}

	return c
}

// ComputeTrailer computes the checksum of image as it would appear on
// disk: the hash covers everything except image's final Size bytes (the
// checksum field itself), matching the C1 block layout
// ([payload][checksum:4]).
func ComputeTrailer(image []byte) uint32 {
	n := len(image)
	body := make([]byte, n-Size)
	copy(body, image[:n-Size])
	return Compute(body)
}

// Verify reports whether image's trailing 4-byte little-endian checksum
// matches ComputeTrailer of its preceding bytes.
func Verify(image []byte) bool {
	n := len(image)
	if n < Size {
		return false
	}
	want := binary.LittleEndian.Uint32(image[n-Size:])
	return ComputeTrailer(image) == want
}

// PutTrailer computes the checksum over image[:len(image)-Size] and
// writes it into the trailing Size bytes.
func PutTrailer(image []byte) {
	n := len(image)
	cksum := ComputeTrailer(image)
	binary.LittleEndian.PutUint32(image[n-Size:], cksum)
}
