package cache

// Flags are the cache protect/unprotect modifiers of §6.1.
type Flags uint8

const (
	// NoFlags requests default behavior.
	NoFlags Flags = 0
	// Dirtied marks the block dirty on Unprotect.
	Dirtied Flags = 1 << 0
	// Pinned keeps the block resident past Unprotect until explicitly
	// unpinned.
	Pinned Flags = 1 << 1
	// Unpin releases a previous Pinned.
	Unpin Flags = 1 << 2
	// ReadOnly requests the block without intent to dirty it.
	ReadOnly Flags = 1 << 3
)
