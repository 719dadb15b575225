package chksum_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-hdf5arrays/chksum"
)

func TestComputeIsDeterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, 13 times")
	assert.Equal(t, chksum.Compute(data), chksum.Compute(data))
}

func TestComputeDiffersOnDifferentInput(t *testing.T) {
	assert.NotEqual(t, chksum.Compute([]byte("a")), chksum.Compute([]byte("b")))
}

// TestPutTrailerThenVerifyRoundTrips covers every block kind's shared
// trailer convention: PutTrailer followed by Verify must accept the
// image it just stamped, for images of varying length.
func TestPutTrailerThenVerifyRoundTrips(t *testing.T) {
	for _, n := range []int{chksum.Size, chksum.Size + 1, chksum.Size + 12, chksum.Size + 37} {
		image := make([]byte, n)
		for i := range image {
			image[i] = byte(i*31 + 7)
		}
		chksum.PutTrailer(image)
		assert.True(t, chksum.Verify(image), "length %d", n)
	}
}

func TestVerifyRejectsImageShorterThanTrailer(t *testing.T) {
	assert.False(t, chksum.Verify([]byte{1, 2, 3}))
}

// TestVerifyDetectsEveryBitFlip drives the §8 "checksum detection"
// property directly at the hash layer: corrupting any single bit of a
// stamped image, anywhere including the trailer itself, must make
// Verify report false.
func TestVerifyDetectsEveryBitFlip(t *testing.T) {
	image := make([]byte, 20)
	for i := range image {
		image[i] = byte(i * 7)
	}
	chksum.PutTrailer(image)
	require.True(t, chksum.Verify(image))

	for byteIdx := range image {
		for bit := 0; bit < 8; bit++ {
			corrupt := make([]byte, len(image))
			copy(corrupt, image)
			corrupt[byteIdx] ^= 1 << bit
			assert.False(t, chksum.Verify(corrupt), "byte %d bit %d", byteIdx, bit)
		}
	}
}
