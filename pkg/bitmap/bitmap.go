// Package bitmap implements the dense integer id allocators used by the
// kernel registry for IPCP ids, port ids and CEP ids: a fixed-size bitset,
// first-fit allocation, and an error on exhaustion.
package bitmap

import "github.com/rlite-project/rlite-go/pkg/rlerr"

// DefaultBits is the bitmap width used by the kernel registry for all three
// id spaces (IPCP, port, CEP), matching the 1024-bit tables in spec.md §4.1.
const DefaultBits = 1024

// Bitmap is a fixed-width bit allocator. Not safe for concurrent use; the
// caller (kernel.Registry) serializes access with its own lock.
type Bitmap struct {
	bits []uint64
	n    int
}

// New returns a Bitmap able to allocate ids in [0, n).
func New(n int) *Bitmap {
	words := (n + 63) / 64
	return &Bitmap{bits: make([]uint64, words), n: n}
}

// Alloc returns the first unset bit, sets it, and returns its index.
// Returns rlerr.ErrNoSpace if the bitmap is full.
func (b *Bitmap) Alloc() (int, error) {
	for w := range b.bits {
		if b.bits[w] == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			idx := w*64 + bit
			if idx >= b.n {
				break
			}
			if b.bits[w]&(1<<uint(bit)) == 0 {
				b.bits[w] |= 1 << uint(bit)
				return idx, nil
			}
		}
	}
	return 0, rlerr.ErrNoSpace
}

// Set marks idx as allocated, for callers that need a specific id (e.g.
// restoring persisted state on daemon restart). Returns rlerr.ErrExists if
// idx was already set.
func (b *Bitmap) Set(idx int) error {
	if idx < 0 || idx >= b.n {
		return rlerr.ErrInvalidArg
	}
	w, bit := idx/64, uint(idx%64)
	if b.bits[w]&(1<<bit) != 0 {
		return rlerr.ErrExists
	}
	b.bits[w] |= 1 << bit
	return nil
}

// Free clears idx, making it available for reuse.
func (b *Bitmap) Free(idx int) {
	if idx < 0 || idx >= b.n {
		return
	}
	w, bit := idx/64, uint(idx%64)
	b.bits[w] &^= 1 << bit
}

// Test reports whether idx is currently allocated.
func (b *Bitmap) Test(idx int) bool {
	if idx < 0 || idx >= b.n {
		return false
	}
	w, bit := idx/64, uint(idx%64)
	return b.bits[w]&(1<<bit) != 0
}
