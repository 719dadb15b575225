// Package class defines the pluggable element class contract that the
// array packages encode and decode through. A class is supplied by the
// client that owns the array (the array core never interprets element
// bytes itself) and is looked up by a one-byte id stored in every block's
// header.
package class

import "fmt"

// ID identifies a registered class. It is encoded as a single byte in
// every persistent block, so it must fit in [0, 255].
type ID uint8

// Class is the callback table a client registers for one element type.
// NatElmtSize is the in-memory (native) size of one element; RawElmtSize
// is its on-disk size — the two may differ (e.g. packed vs. aligned).
type Class struct {
	ID          ID
	Name        string
	NatElmtSize uint32
	RawElmtSize uint32

	// Fill writes the class's fill value into nelmts consecutive native
	// elements starting at buf.
	Fill func(buf []byte, nelmts int) error

	// Encode converts nelmts native elements at nat into raw on-disk
	// bytes at raw. len(raw) must be nelmts*RawElmtSize, len(nat) must
	// be nelmts*NatElmtSize.
	Encode func(raw []byte, nat []byte, nelmts int, ctx Context) error

	// Decode is the inverse of Encode.
	Decode func(raw []byte, nat []byte, nelmts int, ctx Context) error
}

// Context is an opaque, client-supplied decode/encode context threaded
// through a header's lifetime (e.g. a datatype or dataspace needed to
// interpret raw bytes). The array core never inspects it.
type Context interface{}

// Registry is an indexed set of classes keyed by id, mirroring the
// client-class-id arrays HDF5 keeps per array kind (one registry for EA,
// one for FA).
type Registry struct {
	classes [256]*Class
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds cls to the registry under its own id. It is an error to
// register two classes under the same id.
func (r *Registry) Register(cls *Class) error {
	if r.classes[cls.ID] != nil {
		return fmt.Errorf("class id %d already registered (%s)", cls.ID, r.classes[cls.ID].Name)
	}
	r.classes[cls.ID] = cls
	return nil
}

// Lookup returns the class for id, or an error if id is unregistered or
// out of range. A read of class id from an on-disk block must always
// route through Lookup so that an invalid id fails closed.
func (r *Registry) Lookup(id ID) (*Class, error) {
	cls := r.classes[id]
	if cls == nil {
		return nil, fmt.Errorf("class id %d is not registered", id)
	}
	return cls, nil
}
