// Package revocation implements the tiered token revocation pipeline:
// a TTL shortcut, a bloom filter, a per-instance cache, and the
// authoritative remote store, plus the mutation and rebuild paths that
// keep instances in sync.
package revocation

import (
	"math"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// bloomFalsePositiveRate is the target rate filters are sized for.
const bloomFalsePositiveRate = 0.01

// minBloomCapacity keeps tiny revocation sets from producing
// degenerate filters.
const minBloomCapacity = 1024

// bloomFilter is a fixed-size bloom filter over string members. The
// bit array is immutable in size; Add sets bits in place with atomic
// word operations so concurrent Add and Contains need no lock.
type bloomFilter struct {
	bits   []uint64
	nbits  uint64
	hashes int
}

// newBloomFilter sizes a filter for the expected member count at the
// target false positive rate.
func newBloomFilter(expected int) *bloomFilter {
	if expected < minBloomCapacity {
		expected = minBloomCapacity
	}
	n := float64(expected)
	m := math.Ceil(-n * math.Log(bloomFalsePositiveRate) / (math.Ln2 * math.Ln2))
	k := int(math.Round(m / n * math.Ln2))
	if k < 1 {
		k = 1
	}
	nbits := uint64(m)
	words := (nbits + 63) / 64
	return &bloomFilter{
		bits:   make([]uint64, words),
		nbits:  words * 64,
		hashes: k,
	}
}

// Add inserts a member.
func (f *bloomFilter) Add(member string) {
	h1, h2 := bloomHashes(member)
	for i := 0; i < f.hashes; i++ {
		pos := (h1 + uint64(i)*h2) % f.nbits
		word := &f.bits[pos/64]
		mask := uint64(1) << (pos % 64)
		for {
			old := atomic.LoadUint64(word)
			if old&mask != 0 || atomic.CompareAndSwapUint64(word, old, old|mask) {
				break
			}
		}
	}
}

// Contains reports whether the member may be present. False positives
// occur at roughly the configured rate; false negatives never.
func (f *bloomFilter) Contains(member string) bool {
	h1, h2 := bloomHashes(member)
	for i := 0; i < f.hashes; i++ {
		pos := (h1 + uint64(i)*h2) % f.nbits
		if atomic.LoadUint64(&f.bits[pos/64])&(uint64(1)<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// bloomHashes derives the two base hashes for double hashing. The
// second hash is forced odd so the probe sequence covers the bit
// array.
func bloomHashes(member string) (uint64, uint64) {
	h1 := xxhash.Sum64String(member)
	h2 := xxhash.Sum64String(member+"\x00") | 1
	return h1, h2
}

// swappableFilter is the atomically replaceable filter the checker
// reads. Rebuilds construct a fresh filter off to the side and swap it
// in; readers never block.
type swappableFilter struct {
	ptr atomic.Pointer[bloomFilter]
}

func newSwappableFilter(expected int) *swappableFilter {
	s := &swappableFilter{}
	s.ptr.Store(newBloomFilter(expected))
	return s
}

func (s *swappableFilter) Add(member string)           { s.ptr.Load().Add(member) }
func (s *swappableFilter) Contains(member string) bool { return s.ptr.Load().Contains(member) }
func (s *swappableFilter) Swap(f *bloomFilter)         { s.ptr.Store(f) }
