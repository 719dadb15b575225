package block

import "encoding/binary"

// Reader decodes fixed-width little-endian fields from an already fully
// read block image, tracking a cursor over a slice rather than an
// io.Reader, since the cache hands decode a complete image of a length
// it already determined via get_load_size (§6.1).
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current read cursor.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Skip advances the cursor by n bytes without decoding them.
func (r *Reader) Skip(n int) { r.pos += n }

// Uint8 decodes one byte.
func (r *Reader) Uint8() uint8 {
	v := r.buf[r.pos]
	r.pos++
	return v
}

// Uint16 decodes a little-endian uint16.
func (r *Reader) Uint16() uint16 {
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

// Uint32 decodes a little-endian uint32.
func (r *Reader) Uint32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

// Uint64 decodes a little-endian uint64.
func (r *Reader) Uint64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

// Uint decodes a little-endian unsigned integer of the given encoded
// width (1, 2, 4, or 8 bytes), widened to uint64.
func (r *Reader) Uint(width uint8) uint64 {
	switch width {
	case 1:
		return uint64(r.Uint8())
	case 2:
		return uint64(r.Uint16())
	case 4:
		return uint64(r.Uint32())
	case 8:
		return r.Uint64()
	default:
		panic("block: unsupported encoded width")
	}
}

// Addr decodes a file address encoded at the given width, mapping the
// all-ones pattern for that width to Undefined.
func (r *Reader) Addr(width uint8) Addr {
	raw := r.Uint(width)
	if raw == maxForWidth(width) {
		return Undefined
	}
	return Addr(raw)
}

// Len decodes a length/count field encoded at the given width.
func (r *Reader) Len(width uint8) uint64 {
	return r.Uint(width)
}

// Bytes copies out the next n bytes and advances the cursor.
func (r *Reader) Bytes(n int) []byte {
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out
}
