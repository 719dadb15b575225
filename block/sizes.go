package block

import "fmt"

// Sizes is the pair of encoded-field widths a file is configured with
// (§4.1: "length and address fields use the file's configured
// encoded-length and encoded-address widths").
type Sizes struct {
	AddrSize uint8 // bytes used to encode an Addr on disk
	LenSize  uint8 // bytes used to encode a length/count on disk
}

// DefaultSizes is a reasonable default for new files: 8-byte addresses
// and lengths, matching the 64-bit element-index domain used throughout
// the addressing logic (§4.5).
var DefaultSizes = Sizes{AddrSize: 8, LenSize: 8}

func maxForWidth(size uint8) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (8 * size)) - 1
}

func validWidth(size uint8) error {
	switch size {
	case 1, 2, 4, 8:
		return nil
	default:
		return fmt.Errorf("block: unsupported encoded width %d", size)
	}
}
