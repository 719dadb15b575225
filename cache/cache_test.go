package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-hdf5arrays/block"
	"github.com/deploymenttheory/go-hdf5arrays/cache"
	"github.com/deploymenttheory/go-hdf5arrays/file"
)

type testBlock struct {
	val byte
}

func testCallbacks() cache.LoadCallbacks {
	return cache.LoadCallbacks{
		GetLoadSize: func(udata any) (uint64, error) { return 1, nil },
		Deserialize: func(image []byte, udata any) (cache.Block, error) {
			return &testBlock{val: image[0]}, nil
		},
		ImageLen: func(b cache.Block) (uint64, error) { return 1, nil },
		Serialize: func(b cache.Block) ([]byte, error) {
			return []byte{b.(*testBlock).val}, nil
		},
		FreeICR: func(b cache.Block) error { return nil },
	}
}

func TestProtectMissReadsThroughBacking(t *testing.T) {
	dev := file.NewMemDevice()
	require.NoError(t, dev.WriteAt(0, []byte{0x42}))
	f := file.New(dev, nil, block.DefaultSizes)
	c := cache.New(f)

	blk, err := c.Protect(0, nil, testCallbacks(), cache.NoFlags)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), blk.(*testBlock).val)

	status := c.GetEntryStatus(0)
	assert.True(t, status.InCache)
	assert.True(t, status.Protected)
	assert.False(t, status.Dirty)
}

func TestProtectSharesOnePinnedCopy(t *testing.T) {
	dev := file.NewMemDevice()
	require.NoError(t, dev.WriteAt(0, []byte{7}))
	f := file.New(dev, nil, block.DefaultSizes)
	c := cache.New(f)

	b1, err := c.Protect(0, nil, testCallbacks(), cache.NoFlags)
	require.NoError(t, err)
	b2, err := c.Protect(0, nil, testCallbacks(), cache.NoFlags)
	require.NoError(t, err)
	assert.Same(t, b1, b2)

	require.NoError(t, c.Unprotect(0, cache.NoFlags))
	// still protected once
	assert.True(t, c.GetEntryStatus(0).Protected)
	require.NoError(t, c.Unprotect(0, cache.NoFlags))
	assert.False(t, c.GetEntryStatus(0).InCache)
}

func TestUnprotectDirtyStaysResidentUntilFlush(t *testing.T) {
	dev := file.NewMemDevice()
	require.NoError(t, dev.WriteAt(0, []byte{1}))
	f := file.New(dev, nil, block.DefaultSizes)
	c := cache.New(f)

	blk, err := c.Protect(0, nil, testCallbacks(), cache.NoFlags)
	require.NoError(t, err)
	blk.(*testBlock).val = 9
	require.NoError(t, c.Unprotect(0, cache.Dirtied))

	status := c.GetEntryStatus(0)
	assert.True(t, status.InCache)
	assert.True(t, status.Dirty)
	assert.False(t, status.Protected)

	require.NoError(t, c.Flush())
	got, err := dev.ReadAt(0, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(9), got[0])
}

func TestUnprotectImbalanceErrors(t *testing.T) {
	dev := file.NewMemDevice()
	f := file.New(dev, nil, block.DefaultSizes)
	c := cache.New(f)
	err := c.Unprotect(0, cache.NoFlags)
	assert.Error(t, err)
}

func TestFlushOrderRespectsDependencies(t *testing.T) {
	dev := file.NewMemDevice()
	require.NoError(t, dev.WriteAt(0, []byte{1}))
	require.NoError(t, dev.WriteAt(1, []byte{1}))
	require.NoError(t, dev.WriteAt(2, []byte{1}))
	f := file.New(dev, nil, block.DefaultSizes)
	c := cache.New(f)

	var order []block.Addr
	cb := cache.LoadCallbacks{
		GetLoadSize: func(udata any) (uint64, error) { return 1, nil },
		Deserialize: func(image []byte, udata any) (cache.Block, error) {
			return &testBlock{val: image[0]}, nil
		},
		ImageLen: func(b cache.Block) (uint64, error) { return 1, nil },
		FreeICR:  func(b cache.Block) error { return nil },
	}

	mkSerialize := func(addr block.Addr) func(cache.Block) ([]byte, error) {
		return func(b cache.Block) ([]byte, error) {
			order = append(order, addr)
			return []byte{b.(*testBlock).val}, nil
		}
	}

	hdrCB, dbCB, pageCB := cb, cb, cb
	hdrCB.Serialize = mkSerialize(0)
	dbCB.Serialize = mkSerialize(1)
	pageCB.Serialize = mkSerialize(2)

	const hdrAddr, dbAddr, pageAddr block.Addr = 0, 1, 2

	_, err := c.Protect(hdrAddr, nil, hdrCB, cache.Pinned)
	require.NoError(t, err)
	_, err = c.Protect(dbAddr, nil, dbCB, cache.Pinned)
	require.NoError(t, err)
	_, err = c.Protect(pageAddr, nil, pageCB, cache.Pinned)
	require.NoError(t, err)

	require.NoError(t, c.CreateFlushDependency(hdrAddr, dbAddr))
	require.NoError(t, c.CreateFlushDependency(dbAddr, pageAddr))

	require.NoError(t, c.Unprotect(hdrAddr, cache.Dirtied))
	require.NoError(t, c.Unprotect(dbAddr, cache.Dirtied))
	require.NoError(t, c.Unprotect(pageAddr, cache.Dirtied))

	require.NoError(t, c.Flush())
	require.Equal(t, []block.Addr{pageAddr, dbAddr, hdrAddr}, order)
}

func TestHasFlushDependencyReflectsCreateAndDestroy(t *testing.T) {
	dev := file.NewMemDevice()
	require.NoError(t, dev.WriteAt(0, []byte{1}))
	require.NoError(t, dev.WriteAt(1, []byte{1}))
	f := file.New(dev, nil, block.DefaultSizes)
	c := cache.New(f)

	_, err := c.Protect(0, nil, testCallbacks(), cache.Pinned)
	require.NoError(t, err)
	_, err = c.Protect(1, nil, testCallbacks(), cache.Pinned)
	require.NoError(t, err)

	assert.False(t, c.HasFlushDependency(0, 1))
	require.NoError(t, c.CreateFlushDependency(0, 1))
	assert.True(t, c.HasFlushDependency(0, 1))
	require.NoError(t, c.DestroyFlushDependency(0, 1))
	assert.False(t, c.HasFlushDependency(0, 1))
}

func TestDestroyFlushDependencyRestoresEdgeSet(t *testing.T) {
	dev := file.NewMemDevice()
	require.NoError(t, dev.WriteAt(0, []byte{1}))
	require.NoError(t, dev.WriteAt(1, []byte{1}))
	f := file.New(dev, nil, block.DefaultSizes)
	c := cache.New(f)

	_, err := c.Protect(0, nil, testCallbacks(), cache.Pinned)
	require.NoError(t, err)
	_, err = c.Protect(1, nil, testCallbacks(), cache.Pinned)
	require.NoError(t, err)

	require.NoError(t, c.CreateFlushDependency(0, 1))
	require.NoError(t, c.DestroyFlushDependency(0, 1))

	// With the edge gone, both flush independently with no cycle/
	// ordering error even though entry 1 is dirtied after 0.
	require.NoError(t, c.Unprotect(0, cache.Dirtied))
	require.NoError(t, c.Unprotect(1, cache.Dirtied))
	require.NoError(t, c.Flush())
}
