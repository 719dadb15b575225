package farray_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-hdf5arrays/alloc"
	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
	"github.com/deploymenttheory/go-hdf5arrays/class"
	"github.com/deploymenttheory/go-hdf5arrays/errs"
	"github.com/deploymenttheory/go-hdf5arrays/farray"
	"github.com/deploymenttheory/go-hdf5arrays/file"
)

const testClassID class.ID = 1

func newTestArray(t *testing.T, cp farray.CParam) (*farray.Header, *file.File, *cache.Cache) {
	t.Helper()
	dev := file.NewMemDevice()
	a := alloc.NewBumpAllocator(0)
	f := file.New(dev, a, block.DefaultSizes)
	c := cache.New(f)
	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))

	hdr, err := farray.Create(f, c, reg, testClassID, cp)
	require.NoError(t, err)
	return hdr, f, c
}

func unpagedCParam() farray.CParam {
	return farray.CParam{RawElmtSize: 4, NElmts: 6, MaxDblkPageNElmtsBits: 0}
}

// pagedCParam matches spec.md §8 scenario 3: nelmts=9 over a 4-element
// page threshold yields 3 pages (4, 4, 1).
func pagedCParam() farray.CParam {
	return farray.CParam{RawElmtSize: 4, NElmts: 9, MaxDblkPageNElmtsBits: 2}
}

func getU32(t *testing.T, hdr *farray.Header, idx uint64) uint32 {
	t.Helper()
	buf := make([]byte, 4)
	require.NoError(t, hdr.Get(idx, buf))
	return class.DecodeUint32(buf, 0)
}

func setU32(t *testing.T, hdr *farray.Header, idx uint64, v uint32) {
	t.Helper()
	buf := make([]byte, 4)
	class.EncodeUint32(buf, 0, v)
	require.NoError(t, hdr.Set(idx, buf))
}

func TestGetAbsentReturnsFillValue(t *testing.T) {
	hdr, _, _ := newTestArray(t, unpagedCParam())
	assert.Equal(t, uint32(0xffffffff), getU32(t, hdr, 3))
	assert.Equal(t, uint64(6), hdr.NElmts())
}

func TestSetThenGetRoundTrips(t *testing.T) {
	hdr, _, _ := newTestArray(t, unpagedCParam())
	setU32(t, hdr, 2, 42)
	assert.Equal(t, uint32(42), getU32(t, hdr, 2))
	assert.Equal(t, uint32(0xffffffff), getU32(t, hdr, 0))
}

func TestOutOfBoundsIndexErrors(t *testing.T) {
	hdr, _, _ := newTestArray(t, unpagedCParam())
	buf := make([]byte, 4)
	assert.Error(t, hdr.Get(6, buf))
	assert.Error(t, hdr.Set(100, buf))
}

func TestPagedArrayCreatesExpectedPageCount(t *testing.T) {
	hdr, _, _ := newTestArray(t, pagedCParam())
	setU32(t, hdr, 0, 1)
	setU32(t, hdr, 5, 2)
	setU32(t, hdr, 8, 3)
	assert.Equal(t, uint32(1), getU32(t, hdr, 0))
	assert.Equal(t, uint32(2), getU32(t, hdr, 5))
	assert.Equal(t, uint32(3), getU32(t, hdr, 8))
	// untouched neighbor within a touched page still reads fill value
	assert.Equal(t, uint32(0xffffffff), getU32(t, hdr, 1))
	assert.Equal(t, uint32(0xffffffff), getU32(t, hdr, 4))

	stats := hdr.GetStats()
	assert.Equal(t, uint64(3), stats.NDataBlockPages)
}

func TestCloseAndReopenPreservesPageInitBitmap(t *testing.T) {
	hdr, f, c := newTestArray(t, pagedCParam())
	setU32(t, hdr, 8, 99) // last page, index 2 of 3
	addr := hdr.GetAddr()
	require.NoError(t, hdr.Close())
	require.NoError(t, c.Flush())

	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))
	reopened, err := farray.Open(f, c, reg, testClassID, addr)
	require.NoError(t, err)

	assert.Equal(t, uint32(99), getU32(t, reopened, 8))
	// page 0 was never written, even after reopen it should still read
	// as fill value rather than stale/garbage bytes.
	assert.Equal(t, uint32(0xffffffff), getU32(t, reopened, 0))
	stats := reopened.GetStats()
	assert.Equal(t, uint64(1), stats.NDataBlockPages)
	require.NoError(t, reopened.Close())
}

func TestTwoHandlesDeleteDefersUntilLastClose(t *testing.T) {
	hdr1, f, c := newTestArray(t, unpagedCParam())
	addr := hdr1.GetAddr()

	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))
	hdr2, err := farray.Open(f, c, reg, testClassID, addr)
	require.NoError(t, err)

	require.NoError(t, hdr2.Delete())

	require.NoError(t, hdr1.Close())
	status := c.GetEntryStatus(addr)
	assert.True(t, status.InCache)

	require.NoError(t, hdr2.Close())
	status = c.GetEntryStatus(addr)
	assert.False(t, status.InCache)
}

// TestCorruptedDataBlockGetFailsWithBadValue drives spec.md §8 scenario
// 4 end to end: corrupt the data-block image on disk, then Get on any
// index it backs must fail with BadValue rather than returning garbage
// or panicking.
func TestCorruptedDataBlockGetFailsWithBadValue(t *testing.T) {
	dev := file.NewMemDevice()
	a := alloc.NewBumpAllocator(0)
	f := file.New(dev, a, block.DefaultSizes)
	c := cache.New(f)
	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))

	hdr, err := farray.Create(f, c, reg, testClassID, unpagedCParam())
	require.NoError(t, err)
	setU32(t, hdr, 3, 77)
	require.NoError(t, c.Flush())

	dblkAddr := hdr.DataBlockAddr
	dblkSize := hdr.GetStats().DataBlockSize

	require.NoError(t, c.Evict(dblkAddr))

	raw, err := dev.ReadAt(int64(dblkAddr), int(dblkSize))
	require.NoError(t, err)
	corrupted := make([]byte, len(raw))
	copy(corrupted, raw)
	corrupted[6] ^= 0xFF
	require.NoError(t, dev.WriteAt(int64(dblkAddr), corrupted))

	buf := make([]byte, 4)
	err = hdr.Get(3, buf)
	assert.ErrorIs(t, err, errs.ErrBadValue)
}

// TestDeleteFreesEveryAllocatedExtentExactlyOnce builds a paged data
// block spanning several pages, deletes it, and checks the
// delete-discipline property directly against the allocator's
// bookkeeping (spec.md §8: "every extent previously allocated for the
// array is freed exactly once"), plus that the header can no longer be
// reopened afterward.
func TestDeleteFreesEveryAllocatedExtentExactlyOnce(t *testing.T) {
	dev := file.NewMemDevice()
	a := alloc.NewBumpAllocator(0)
	f := file.New(dev, a, block.DefaultSizes)
	c := cache.New(f)
	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))

	hdr, err := farray.Create(f, c, reg, testClassID, pagedCParam())
	require.NoError(t, err)
	addr := hdr.GetAddr()

	setU32(t, hdr, 0, 11)
	setU32(t, hdr, 5, 22)
	setU32(t, hdr, 8, 33)

	require.Greater(t, a.AllocatedCount(), 1)

	require.NoError(t, hdr.Delete())
	assert.True(t, a.AllFreedExactlyOnce())
	assert.Equal(t, a.AllocatedCount(), a.FreedCount())

	reg2 := class.NewRegistry()
	require.NoError(t, reg2.Register(class.NewUint32Class(testClassID, 0xffffffff)))
	_, err = farray.Open(f, c, reg2, testClassID, addr)
	assert.Error(t, err)
}

func TestDependUndependAreInverses(t *testing.T) {
	dev := file.NewMemDevice()
	a := alloc.NewBumpAllocator(0)
	f := file.New(dev, a, block.DefaultSizes)
	c := cache.New(f)
	reg := class.NewRegistry()
	require.NoError(t, reg.Register(class.NewUint32Class(testClassID, 0xffffffff)))

	hdr, err := farray.Create(f, c, reg, testClassID, unpagedCParam())
	require.NoError(t, err)
	parent, err := farray.Create(f, c, reg, testClassID, unpagedCParam())
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

	hdr, err := farray.Create(f, c, reg, testClassID, unpagedCParam())
	require.NoError(t, err)
	setU32(t, hdr, 1, 42)

	child, err := farray.Create(f, c, reg, testClassID, unpagedCParam())
	require.NoError(t, err)

	require.NoError(t, hdr.Support(1, child.GetAddr()))
	assert.True(t, c.HasFlushDependency(hdr.DataBlockAddr, child.GetAddr()))
	assert.False(t, c.HasFlushDependency(hdr.GetAddr(), child.GetAddr()))

	require.NoError(t, hdr.Unsupport(1, child.GetAddr()))
	assert.False(t, c.HasFlushDependency(hdr.DataBlockAddr, child.GetAddr()))

	require.NoError(t, hdr.Close())
	require.NoError(t, child.Close())
}

func TestSupportErrorsWhenIndexNotYetBacked(t *testing.T) {
	hdr, _, _ := newTestArray(t, unpagedCParam())
	err := hdr.Support(1, hdr.GetAddr())
	assert.ErrorIs(t, err, errs.ErrBadValue)
}
