package earray

// Stats reports the current extent of an extensible array's addressing
// tree (spec.md §4.8: "report nelmts, max index set, and block/page
// counts and byte totals").
type Stats struct {
	MaxIdxSet uint64 // one past the highest index ever Set

	NSuperBlocks      uint64
	SuperBlockSize    uint64
	NDataBlocks       uint64
	DataBlockSize     uint64
	NDataBlockPages   uint64
	DataBlockPageSize uint64
}
