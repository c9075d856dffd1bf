// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mphf implements a minimal perfect hash function over a fixed set of
// 64-bit fingerprints using the BBHash construction described in
// https://arxiv.org/abs/1702.03154.
//
// # BBHash
//
// The function is a cascade of bit arrays. Level 0 has gamma*n bits. Every
// fingerprint is hashed to one bit of the level; fingerprints that land on a
// bit alone claim it, fingerprints that collide with another are pushed to the
// next level, which is sized gamma*(number of collided fingerprints). After
// MaxLevels levels any stragglers are placed in a small fallback table.
//
// The slot for a fingerprint is the rank of its bit across the concatenated
// levels, i.e. the number of set bits before it. Since exactly one bit is set
// per fingerprint the ranks form the dense range [0, n) and the function is
// minimal. Ranks are answered in constant time from a table of cumulative
// popcounts stored every rankBlockWords words.
//
// A fingerprint that was not part of the build may land on a set bit of some
// level, in which case Find returns the slot of an unrelated key. This is
// inherent to minimal perfect hashing; callers that need to reject foreign
// keys must store and compare the keys themselves.
package mphf

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	// DefaultGamma is the number of bits per remaining key allocated at each
	// level. Larger values make the build faster and lookups shallower at the
	// cost of space.
	DefaultGamma = 2.0
	// DefaultMaxLevels bounds the depth of the cascade. Keys still colliding
	// after this many levels go to the fallback table.
	DefaultMaxLevels = 32

	rankBlockWords = 8
	rankBlockBits  = rankBlockWords * 64
)

// level describes one bit array of the cascade. The bits of all levels live
// in MPHF.words; a level occupies the bit range [offset, offset+size).
type level struct {
	offset uint64
	size   uint64
	seed   uint64
}

// MPHF is a minimal perfect hash function over the fingerprints it was built
// from. An MPHF is immutable and safe for concurrent use.
type MPHF struct {
	n      uint64
	levels []level
	words  []uint64
	// ranks[j] is the number of set bits in words[:j*rankBlockWords].
	ranks []uint64
	// fallback holds the fingerprints that collided at every level, mapped to
	// their slot.
	fallback map[uint64]uint64
}

// Len returns the number of fingerprints the function was built over.
func (f *MPHF) Len() int {
	return int(f.n)
}

// Find returns the slot for fingerprint h. The second return value reports
// whether h resolved through a level or the fallback table; it is true for
// every fingerprint of the build set and may also be true for foreign
// fingerprints. When it is false the returned slot is Index(h).
func (f *MPHF) Find(h uint64) (uint64, bool) {
	for i := range f.levels {
		l := &f.levels[i]
		bit := l.offset + reduce(mix(h, l.seed), l.size)
		if f.words[bit>>6]&(1<<(bit&63)) != 0 {
			return f.rank(bit), true
		}
	}
	if slot, ok := f.fallback[h]; ok {
		return slot, true
	}
	if f.n == 0 {
		return 0, false
	}
	return reduce(mix(h, 0), f.n), false
}

// Index returns a slot in [0, Len()) for fingerprint h. For fingerprints of
// the build set the slot is unique. Index must not be called on an empty
// function.
func (f *MPHF) Index(h uint64) uint64 {
	slot, _ := f.Find(h)
	return slot
}

// BitsPerKey returns the space used by the level bits and rank table divided
// by the number of keys. The fallback table is not included.
func (f *MPHF) BitsPerKey() float64 {
	if f.n == 0 {
		return 0
	}
	return float64(64*(len(f.words)+len(f.ranks))) / float64(f.n)
}

// rank returns the number of set bits strictly before bit.
func (f *MPHF) rank(bit uint64) uint64 {
	w := bit >> 6
	block := w / rankBlockWords
	r := f.ranks[block]
	for i := block * rankBlockWords; i < w; i++ {
		r += uint64(bits.OnesCount64(f.words[i]))
	}
	return r + uint64(bits.OnesCount64(f.words[w]&((1<<(bit&63))-1)))
}

// String returns a description of the level layout. Useful for debugging.
func (f *MPHF) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "n=%d levels=%d fallback=%d bits/key=%.2f\n",
		f.n, len(f.levels), len(f.fallback), f.BitsPerKey())
	for i, l := range f.levels {
		fmt.Fprintf(&buf, "  %2d: offset=%d size=%d\n", i, l.offset, l.size)
	}
	return buf.String()
}

// levelSeed returns the mixing seed for level i.
func levelSeed(i int) uint64 {
	return uint64(i+1) * 0x9e3779b97f4a7c15
}

// mix is the splitmix64 finalizer applied to h^seed.
func mix(h, seed uint64) uint64 {
	h ^= seed
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return h
}

// reduce maps h uniformly onto [0, n) without a division. See
// https://lemire.me/blog/2016/06/27/a-fast-alternative-to-the-modulo-reduction/.
func reduce(h, n uint64) uint64 {
	hi, _ := bits.Mul64(h, n)
	return hi
}
