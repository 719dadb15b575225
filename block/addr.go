// Package block holds the shared on-disk framing every persistent block
// uses: the [magic][version][class id] ... [checksum] envelope (§4.1,
// §6.3), variable-width address/length encoding, and small reader/writer
// helpers for binary struct codecs.
package block

// Addr is a physical file address, encoded on disk with the file's
// configured address width (1, 2, 4, or 8 bytes). Undefined marks an
// address slot that has not been allocated yet.
type Addr uint64

// Undefined is the all-ones sentinel meaning "not yet allocated" (§6.3).
const Undefined Addr = ^Addr(0)

// IsDefined reports whether a has been allocated.
func (a Addr) IsDefined() bool { return a != Undefined }
