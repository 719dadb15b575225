package block

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-hdf5arrays/chksum"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

// Version is the single on-disk block format version this package
// implements (§6.3: "a 1-byte version (currently 0)").
const Version = 0

// Magic tags, one distinct 4-byte ASCII signature per block kind (§6.3).
const (
	MagicEAHeader = "EAHD"
	MagicEAIndex  = "EAIB"
	MagicEASuper  = "EASB"
	MagicEAData   = "EADB"
	MagicEAPage   = "EADP"
	MagicFAHeader = "FAHD"
	MagicFAData   = "FADB"
	MagicFAPage   = "FADP"
)

// frameHeaderSize is magic(4) + version(1) + class id(1).
const frameHeaderSize = 6

// VerifyChecksums gates whether VerifyFrame enforces the trailing
// checksum. It defaults to on; the cmd layer wires it to the
// checksum-verification toggle in internal/config so a caller can trade
// integrity checking for raw throughput on a trusted file.
var VerifyChecksums = true

// VerifyFrame checks magic, version, class id, and the trailing checksum
// of image, then returns a Reader positioned just past the 6-byte frame
// header and ending before the trailing checksum, so the caller can
// decode its payload. wantClassID is the id the
// owning header expects; a mismatch is BadValue (§4.1: "class id (must
// be ... match header's class)").
func VerifyFrame(image []byte, wantMagic string, wantClassID class_ID) (*Reader, error) {
	if len(image) < frameHeaderSize+chksum.Size {
		return nil, fmt.Errorf("image of %d bytes too short for a %s block: %w", len(image), wantMagic, errs.ErrBadValue)
	}
	if string(image[0:4]) != wantMagic {
		return nil, fmt.Errorf("bad magic %q, want %q: %w", image[0:4], wantMagic, errs.ErrBadValue)
	}
	if image[4] != Version {
		return nil, fmt.Errorf("unsupported block version %d: %w", image[4], errs.ErrBadValue)
	}
	if class_ID(image[5]) != wantClassID {
		return nil, fmt.Errorf("class id mismatch: block has %d, header has %d: %w", image[5], wantClassID, errs.ErrBadValue)
	}
	if VerifyChecksums && !chksum.Verify(image) {
		return nil, fmt.Errorf("checksum mismatch in %s block: %w", wantMagic, errs.ErrBadValue)
	}
	r := NewReader(image[:len(image)-chksum.Size])
	r.Skip(frameHeaderSize)
	return r, nil
}

// class_ID avoids an import cycle with package class (which never needs
// to know about block framing); it is numerically identical to class.ID.
type class_ID = uint8

// NewFrameWriter returns a Writer preloaded with the frame header
// (magic + version + class id). The caller appends the block's payload
// and calls Finish to seal it with a trailing checksum.
func NewFrameWriter(magic string, classID class_ID) *Writer {
	w := NewWriter()
	w.PutBytes([]byte(magic))
	w.PutUint8(Version)
	w.PutUint8(classID)
	return w
}

// Finish appends a trailing checksum computed over everything written so
// far and returns the complete, bit-exact block image.
func (w *Writer) Finish() []byte {
	body := w.Bytes()
	out := make([]byte, len(body)+chksum.Size)
	copy(out, body)
	binary.LittleEndian.PutUint32(out[len(body):], chksum.Compute(body))
	return out
}
