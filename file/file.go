// Package file bundles the storage collaborators an array header needs:
// a raw byte-addressable device, a file-space allocator, and the
// encoded address/length widths in effect for this file. It generalizes
// a fixed-block-size device abstraction to the variable-length extents
// EA/FA blocks occupy.
package file

import (
	"fmt"

	"github.com/deploymenttheory/go-hdf5arrays/alloc"
	"github.com/deploymenttheory/go-hdf5arrays/block"
)

// Device is the raw storage a File reads and writes through; a
// production implementation wraps an *os.File opened on the container
// file.
type Device interface {
	ReadAt(off int64, n int) ([]byte, error)
	WriteAt(off int64, data []byte) error
}

// File is the per-open-handle storage context threaded through every
// array operation. It implements cache.Backing directly so a header's
// cache can read through to and write through to it.
type File struct {
	Device Device
	Alloc  alloc.Allocator
	Sizes  block.Sizes
}

// New returns a File over the given device, allocator, and encoded
// field widths.
func New(device Device, allocator alloc.Allocator, sizes block.Sizes) *File {
	return &File{Device: device, Alloc: allocator, Sizes: sizes}
}

// ReadAt implements cache.Backing.
func (f *File) ReadAt(addr block.Addr, size uint64) ([]byte, error) {
	if !addr.IsDefined() {
		return nil, fmt.Errorf("file: read at undefined address")
	}
	return f.Device.ReadAt(int64(addr), int(size))
}

// WriteAt implements cache.Backing.
func (f *File) WriteAt(addr block.Addr, data []byte) error {
	if !addr.IsDefined() {
		return fmt.Errorf("file: write at undefined address")
	}
	return f.Device.WriteAt(int64(addr), data)
}
