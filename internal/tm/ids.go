package tm

import "context"

// DefaultIDBlockSize is how many ids an allocator claims from storage at a
// time.
const DefaultIDBlockSize = 100

// IDAllocator hands out unique, strictly increasing ids for one counter
// name. It claims blocks of ids from the shared counter row and dispenses
// them from memory, so most allocations never touch storage. Ids from a
// discarded allocator are never reused; the remainder of its block becomes
// a permanent gap.
//
// An allocator is not safe for concurrent use. Each logical writer owns its
// own instance.
type IDAllocator struct {
	storage   Storage
	counter   string
	blockSize int

	next      int64
	remaining int
}

// NewIDAllocator creates an allocator for the named counter. blockSize <= 0
// selects DefaultIDBlockSize.
func NewIDAllocator(storage Storage, counter string, blockSize int) *IDAllocator {
	if blockSize <= 0 {
		blockSize = DefaultIDBlockSize
	}
	return &IDAllocator{storage: storage, counter: counter, blockSize: blockSize}
}

// Next returns the next id, claiming a fresh block when the current one is
// exhausted.
func (a *IDAllocator) Next(ctx context.Context) (int64, error) {
	if a.remaining == 0 {
		first, err := a.storage.ClaimIDBlock(ctx, a.counter, a.blockSize)
		if err != nil {
			return 0, wrapStorage("claim id block", a.counter, 0, err)
		}
		a.next = first
		a.remaining = a.blockSize
	}
	id := a.next
	a.next++
	a.remaining--
	return id, nil
}
