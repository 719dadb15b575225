package earray_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-hdf5arrays/alloc"
	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
	"github.com/deploymenttheory/go-hdf5arrays/class"
	"github.com/deploymenttheory/go-hdf5arrays/earray"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
	"github.com/deploymenttheory/go-hdf5arrays/file"
)

const testClassID class.ID = 1

func newTestArray(t *testing.T, cp earray.CParam) (*earray.Header, *file.File, *cache.Cache) {
	t.Helper()
	dev := file.NewMemDevice()
	a := alloc.NewBumpAllocator(0)
	f := file.New(dev, a, block.DefaultSizes)
	c := cache.New(f)
	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))

	hdr, err := earray.Create(f, c, reg, testClassID, cp)
	require.NoError(t, err)
	return hdr, f, c
}

func smallCParam() earray.CParam {
	return earray.CParam{
		RawElmtSize:           4,
		MaxNElmtsBits:         20,
		IdxBlkElmts:           4,
		SupBlkMinDataPtrs:     4,
		DataBlkMinElmts:       2,
		MaxDblkPageNElmtsBits: 0,
	}
}

func getU32(t *testing.T, hdr *earray.Header, idx uint64) uint32 {
	t.Helper()
	buf := make([]byte, 4)
	require.NoError(t, hdr.Get(idx, buf))
	return class.DecodeUint32(buf, 0)
}

func setU32(t *testing.T, hdr *earray.Header, idx uint64, v uint32) {
	t.Helper()
	buf := make([]byte, 4)
	class.EncodeUint32(buf, 0, v)
	require.NoError(t, hdr.Set(idx, buf))
}

func TestGetAbsentReturnsFillValue(t *testing.T) {
	hdr, _, _ := newTestArray(t, smallCParam())
	assert.Equal(t, uint32(0xffffffff), getU32(t, hdr, 100))
	assert.Equal(t, uint64(0), hdr.NElmts())
}

func TestSetThenGetRoundTripsWithinIndexBlock(t *testing.T) {
	hdr, _, _ := newTestArray(t, smallCParam())
	setU32(t, hdr, 2, 42)
	assert.Equal(t, uint32(42), getU32(t, hdr, 2))
	assert.Equal(t, uint32(0xffffffff), getU32(t, hdr, 0))
	assert.Equal(t, uint64(3), hdr.NElmts())
}

func TestSetBeyondIndexBlockCreatesDataBlocks(t *testing.T) {
	hdr, _, _ := newTestArray(t, smallCParam())
	setU32(t, hdr, 4, 7)  // first direct data block
	setU32(t, hdr, 10, 9) // further out, possibly a later direct data block
	assert.Equal(t, uint32(7), getU32(t, hdr, 4))
	assert.Equal(t, uint32(9), getU32(t, hdr, 10))
	assert.Equal(t, uint32(0xffffffff), getU32(t, hdr, 5))
}

func TestSetFarIndexReachesSuperBlockLevel(t *testing.T) {
	hdr, _, _ := newTestArray(t, smallCParam())
	const farIdx = 5000
	setU32(t, hdr, farIdx, 123)
	assert.Equal(t, uint32(123), getU32(t, hdr, farIdx))
	assert.Equal(t, uint32(0xffffffff), getU32(t, hdr, farIdx-1))
	assert.Equal(t, uint64(farIdx+1), hdr.NElmts())
}

func TestCloseAndReopenPreservesData(t *testing.T) {
	hdr, f, c := newTestArray(t, smallCParam())
	setU32(t, hdr, 4000, 77)
	addr := hdr.GetAddr()
	require.NoError(t, hdr.Close())
	require.NoError(t, c.Flush())

	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))
	reopened, err := earray.Open(f, c, reg, testClassID, addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(77), getU32(t, reopened, 4000))
	require.NoError(t, reopened.Close())
}

func TestTwoHandlesDeleteDefersUntilLastClose(t *testing.T) {
	hdr1, f, c := newTestArray(t, smallCParam())
	addr := hdr1.GetAddr()

	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))
	hdr2, err := earray.Open(f, c, reg, testClassID, addr)
	require.NoError(t, err)

	require.NoError(t, hdr2.Delete())

	// First handle's close must not trigger the delete.
	require.NoError(t, hdr1.Close())
	status := c.GetEntryStatus(addr)
	assert.True(t, status.InCache)

	// Second handle's close does trigger it.
	require.NoError(t, hdr2.Close())
	status = c.GetEntryStatus(addr)
	assert.False(t, status.InCache)
}

// TestDeleteFreesEveryAllocatedExtentExactlyOnce builds a tree spanning
// the index block, a direct paged data block, and a super-block-level
// paged data block, then deletes it and checks the delete-discipline
// property directly against the allocator's bookkeeping (spec.md §8:
// "every extent previously allocated for the array is freed exactly
// once"), plus that the header can no longer be reopened afterward.
func TestDeleteFreesEveryAllocatedExtentExactlyOnce(t *testing.T) {
	dev := file.NewMemDevice()
	a := alloc.NewBumpAllocator(0)
	f := file.New(dev, a, block.DefaultSizes)
	c := cache.New(f)
	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))

	hdr, err := earray.Create(f, c, reg, testClassID, pagedCParam())
	require.NoError(t, err)
	addr := hdr.GetAddr()

	setU32(t, hdr, 2, 11)    // direct data block, page 0
	setU32(t, hdr, 5000, 22) // super-block level

	require.Greater(t, a.AllocatedCount(), 4)

	require.NoError(t, hdr.Delete())
	assert.True(t, a.AllFreedExactlyOnce())
	assert.Equal(t, a.AllocatedCount(), a.FreedCount())

	reg2 := class.NewRegistry()
	require.NoError(t, reg2.Register(class.NewUint32Class(testClassID, 0xffffffff)))
	_, err = earray.Open(f, c, reg2, testClassID, addr)
	assert.Error(t, err)
}

func pagedCParam() earray.CParam {
	return earray.CParam{
		RawElmtSize:           4,
		MaxNElmtsBits:         20,
		IdxBlkElmts:           2,
		SupBlkMinDataPtrs:     4,
		DataBlkMinElmts:       16,
		MaxDblkPageNElmtsBits: 2, // 4 elements per page
	}
}

func TestPagedDataBlockLazilyCreatesOnlyTouchedPages(t *testing.T) {
	hdr, _, _ := newTestArray(t, pagedCParam())
	// index 2 lands in the first direct data block, which has
	// DataBlkMinElmts=16 elements split across 4 pages of 4.
	setU32(t, hdr, 2, 11)  // page 0
	setU32(t, hdr, 10, 22) // page 2
	assert.Equal(t, uint32(11), getU32(t, hdr, 2))
	assert.Equal(t, uint32(22), getU32(t, hdr, 10))
	// Untouched neighbors, including ones sharing a page with a
	// written element, still read as fill value.
	assert.Equal(t, uint32(0xffffffff), getU32(t, hdr, 3))
	assert.Equal(t, uint32(0xffffffff), getU32(t, hdr, 9))
	stats := hdr.GetStats()
	assert.Equal(t, uint64(2), stats.NDataBlockPages)
}

func TestDependUndependAreInverses(t *testing.T) {
	dev := file.NewMemDevice()
	a := alloc.NewBumpAllocator(0)
	f := file.New(dev, a, block.DefaultSizes)
	c := cache.New(f)
	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))

	hdr, err := earray.Create(f, c, reg, testClassID, smallCParam())
	require.NoError(t, err)
	parent, err := earray.Create(f, c, reg, testClassID, smallCParam())
	require.NoError(t, err)

	require.NoError(t, hdr.Depend(parent.GetAddr()))
	assert.True(t, c.HasFlushDependency(parent.GetAddr(), hdr.GetAddr()))

	require.NoError(t, hdr.Undepend(parent.GetAddr()))
	assert.False(t, c.HasFlushDependency(parent.GetAddr(), hdr.GetAddr()))

	require.NoError(t, hdr.Close())
	require.NoError(t, parent.Close())
}

func TestSupportWiresDependencyToContainingBlockNotHeader(t *testing.T) {
	dev := file.NewMemDevice()
	a := alloc.NewBumpAllocator(0)
	f := file.New(dev, a, block.DefaultSizes)
	c := cache.New(f)
	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))

	hdr, err := earray.Create(f, c, reg, testClassID, smallCParam())
	require.NoError(t, err)
	// Index 1 is below IdxBlkElmts=4, so it is stored inline in the
	// index block itself: the block containing it is hdr.IdxBlkAddr,
	// not hdr.GetAddr().
	setU32(t, hdr, 1, 42)

	child, err := earray.Create(f, c, reg, testClassID, smallCParam())
	require.NoError(t, err)

	require.NoError(t, hdr.Support(1, child.GetAddr()))
	assert.True(t, c.HasFlushDependency(hdr.IdxBlkAddr, child.GetAddr()))
	assert.False(t, c.HasFlushDependency(hdr.GetAddr(), child.GetAddr()))

	require.NoError(t, hdr.Unsupport(1, child.GetAddr()))
	assert.False(t, c.HasFlushDependency(hdr.IdxBlkAddr, child.GetAddr()))

	require.NoError(t, hdr.Close())
	require.NoError(t, child.Close())
}

func TestSupportErrorsWhenIndexNotYetBacked(t *testing.T) {
	hdr, _, _ := newTestArray(t, smallCParam())
	err := hdr.Support(1, hdr.GetAddr())
	assert.ErrorIs(t, err, errs.ErrBadValue)
}

// TestCorruptedDataBlockGetFailsWithBadValue drives spec.md §8 scenario
// 4 end to end: corrupt a data-block image on disk, then Get on any
// index it backs must fail with BadValue rather than returning garbage
// or panicking.
func TestCorruptedDataBlockGetFailsWithBadValue(t *testing.T) {
	dev := file.NewMemDevice()
	a := alloc.NewBumpAllocator(0)
	f := file.New(dev, a, block.DefaultSizes)
	c := cache.New(f)
	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))

	hdr, err := earray.Create(f, c, reg, testClassID, smallCParam())
	require.NoError(t, err)
	setU32(t, hdr, 4000, 77) // far beyond IdxBlkElmts=4: lands in a data block under a super block
	require.NoError(t, c.Flush())

	stats := hdr.GetStats()
	require.Equal(t, uint64(1), stats.NDataBlocks)
	dblkSize := stats.DataBlockSize
	dblkAddr := block.Addr(uint64(dev.Len()) - dblkSize)

	// Evict the clean, unprotected cached copy so the next Get re-reads
	// (and re-verifies) the on-disk image rather than the in-memory one.
	require.NoError(t, c.Evict(dblkAddr))

	raw, err := dev.ReadAt(int64(dblkAddr), int(dblkSize))
	require.NoError(t, err)
	corrupted := make([]byte, len(raw))
	copy(corrupted, raw)
	corrupted[6] ^= 0xFF // low byte of the payload, just past the frame header
	require.NoError(t, dev.WriteAt(int64(dblkAddr), corrupted))

	buf := make([]byte, 4)
	err = hdr.Get(4000, buf)
	assert.ErrorIs(t, err, errs.ErrBadValue)
}

func TestStatsTrackBlockCreation(t *testing.T) {
	hdr, _, _ := newTestArray(t, smallCParam())
	setU32(t, hdr, 4, 1)
	stats := hdr.GetStats()
	assert.GreaterOrEqual(t, stats.NDataBlocks, uint64(1))
}
