package farray

// Stats tracks the on-disk footprint of one fixed array's data block
// and, if paged, its materialized pages (spec.md §8 scenario 3).
type Stats struct {
	DataBlockSize     uint64
	NDataBlockPages   uint64
	DataBlockPageSize uint64
}
