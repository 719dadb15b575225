// Package errs defines the sentinel error kinds emitted by the array
// packages. Call sites wrap a sentinel with context via fmt.Errorf's %w
// verb; callers test the kind with errors.Is.
package errs

import "errors"

var (
	// ErrBadValue signals a signature, checksum, version, or class id
	// mismatch while decoding a block image, or an owner-address mismatch.
	ErrBadValue = errors.New("bad value")

	// ErrCantAlloc signals an in-memory allocation failure for a
	// decoded block.
	ErrCantAlloc = errors.New("can't allocate")

	// ErrCantProtect signals a cache protect failure.
	ErrCantProtect = errors.New("can't protect")

	// ErrCantUnprotect signals a cache unprotect failure.
	ErrCantUnprotect = errors.New("can't unprotect")

	// ErrCantCreate signals a file-space allocator failure while
	// creating a block.
	ErrCantCreate = errors.New("can't create")

	// ErrCantInit signals a header initialization failure, e.g. an
	// invalid creation parameter.
	ErrCantInit = errors.New("can't initialize")

	// ErrCantInc signals a reference-count increment past its bound.
	ErrCantInc = errors.New("can't increment refcount")

	// ErrCantDec signals a reference-count decrement below zero.
	ErrCantDec = errors.New("can't decrement refcount")

	// ErrCantDepend signals a flush-dependency edge could not be
	// created.
	ErrCantDepend = errors.New("can't create flush dependency")

	// ErrCantUndepend signals a flush-dependency edge could not be
	// destroyed.
	ErrCantUndepend = errors.New("can't destroy flush dependency")

	// ErrCantSet signals the element class's fill callback failed.
	ErrCantSet = errors.New("can't set")

	// ErrCantDelete signals recursive delete encountered an
	// unrecoverable state.
	ErrCantDelete = errors.New("can't delete")

	// ErrCantOpenObj signals open was attempted on a header that is
	// pending delete.
	ErrCantOpenObj = errors.New("can't open object pending delete")
)
