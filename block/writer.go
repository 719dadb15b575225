package block

import "encoding/binary"

// Writer accumulates a block image, the write-side counterpart of
// Reader.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the accumulated image.
func (w *Writer) Bytes() []byte { return w.buf }

// PutUint8 appends one byte.
func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// PutUint16 appends a little-endian uint16.
func (w *Writer) PutUint16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutUint32 appends a little-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutUint64 appends a little-endian uint64.
func (w *Writer) PutUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutUint appends v encoded at the given width (1, 2, 4, or 8 bytes).
func (w *Writer) PutUint(width uint8, v uint64) {
	switch width {
	case 1:
		w.PutUint8(uint8(v))
	case 2:
		w.PutUint16(uint16(v))
	case 4:
		w.PutUint32(uint32(v))
	case 8:
		w.PutUint64(v)
	default:
		panic("block: unsupported encoded width")
	}
}

// PutAddr appends addr encoded at the given width, mapping Undefined to
// that width's all-ones pattern.
func (w *Writer) PutAddr(width uint8, addr Addr) {
	if !addr.IsDefined() {
		w.PutUint(width, maxForWidth(width))
		return
	}
	w.PutUint(width, uint64(addr))
}

// PutLen appends a length/count field at the given width.
func (w *Writer) PutLen(width uint8, v uint64) {
	w.PutUint(width, v)
}

// PutBytes appends raw bytes verbatim.
func (w *Writer) PutBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// PutZeros appends n zero bytes (e.g. reserving space for a checksum
// field before Finish overwrites it).
func (w *Writer) PutZeros(n int) {
	w.buf = append(w.buf, make([]byte, n)...)
}
