package block_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
)

var allMagics = []string{
	block.MagicEAHeader,
	block.MagicEAIndex,
	block.MagicEASuper,
	block.MagicEAData,
	block.MagicEAPage,
	block.MagicFAHeader,
	block.MagicFAData,
	block.MagicFAPage,
}

// TestFrameRoundTripsPerBlockKind builds a frame for every magic tag the
// format defines, appends a fixed payload, and checks that verifying it
// back hands out a reader positioned at the same payload bytes,
// byte-for-byte.
func TestFrameRoundTripsPerBlockKind(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
	const classID = 7

	for _, magic := range allMagics {
		t.Run(magic, func(t *testing.T) {
			w := block.NewFrameWriter(magic, classID)
			w.PutBytes(payload)
			image := w.Finish()

			r, err := block.VerifyFrame(image, magic, classID)
			require.NoError(t, err)
			assert.Equal(t, len(payload), r.Remaining())
			assert.Equal(t, payload, r.Bytes(len(payload)))
		})
	}
}

func TestVerifyFrameRejectsWrongMagic(t *testing.T) {
	w := block.NewFrameWriter(block.MagicEAHeader, 1)
	w.PutUint32(42)
	image := w.Finish()

	_, err := block.VerifyFrame(image, block.MagicFAHeader, 1)
	assert.ErrorIs(t, err, errs.ErrBadValue)
}

func TestVerifyFrameRejectsClassIDMismatch(t *testing.T) {
	w := block.NewFrameWriter(block.MagicEAHeader, 1)
	w.PutUint32(42)
	image := w.Finish()

	_, err := block.VerifyFrame(image, block.MagicEAHeader, 2)
	assert.ErrorIs(t, err, errs.ErrBadValue)
}

// TestVerifyFrameDetectsCorruption flips every bit of a valid frame
// image in turn and checks that each corruption is caught: either the
// checksum no longer matches, or (when the flipped bit happens to land
// in the magic/version/class-id header) the structural check fails
// first. Either way VerifyFrame must return BadValue.
func TestVerifyFrameDetectsCorruption(t *testing.T) {
	w := block.NewFrameWriter(block.MagicEAData, 3)
	w.PutUint64(0x0123456789ABCDEF)
	w.PutUint32(99)
	good := w.Finish()

	require.NoError(t, func() error {
		_, err := block.VerifyFrame(good, block.MagicEAData, 3)
		return err
	}())

	for byteIdx := range good {
		for bit := 0; bit < 8; bit++ {
			corrupt := make([]byte, len(good))
			copy(corrupt, good)
			corrupt[byteIdx] ^= 1 << bit

			_, err := block.VerifyFrame(corrupt, block.MagicEAData, 3)
			assert.ErrorIs(t, err, errs.ErrBadValue, "byte %d bit %d should be detected", byteIdx, bit)
		}
	}
}
