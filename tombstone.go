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

package frozen

import (
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
)

// tombstone tracks which slots have been reaped. A set bit marks a dead slot,
// so a freshly allocated tombstone has every slot alive.
//
// Kill and Rehydrate are idempotent and report whether the slot changed
// state. Len counts the alive slots and changes only when a slot changes
// state.
type tombstone interface {
	Len() int
	Kill(i uint64) bool
	Rehydrate(i uint64) bool
	Dead(i uint64) bool
}

// bitTombstone is the tombstone of the sync maps. It requires exclusive
// access for Kill and Rehydrate.
type bitTombstone struct {
	dead *bitset.BitSet
	live int
}

var _ tombstone = (*bitTombstone)(nil)

func newBitTombstone(n int) *bitTombstone {
	return &bitTombstone{dead: bitset.New(uint(n)), live: n}
}

func (t *bitTombstone) Len() int {
	return t.live
}

func (t *bitTombstone) Kill(i uint64) bool {
	if t.dead.Test(uint(i)) {
		return false
	}
	t.dead.Set(uint(i))
	t.live--
	return true
}

func (t *bitTombstone) Rehydrate(i uint64) bool {
	if !t.dead.Test(uint(i)) {
		return false
	}
	t.dead.Clear(uint(i))
	t.live++
	return true
}

func (t *bitTombstone) Dead(i uint64) bool {
	return t.dead.Test(uint(i))
}

// atomicTombstone is the tombstone of the atomic maps. The state change of a
// slot is a single atomic read-modify-write of its word, so concurrent Kills
// of the same slot flip it once and adjust the count once.
type atomicTombstone struct {
	words []atomic.Uint64
	live  atomic.Int64
}

var _ tombstone = (*atomicTombstone)(nil)

func newAtomicTombstone(n int) *atomicTombstone {
	t := &atomicTombstone{words: make([]atomic.Uint64, (n+63)/64)}
	t.live.Store(int64(n))
	return t
}

func (t *atomicTombstone) Len() int {
	return int(t.live.Load())
}

func (t *atomicTombstone) Kill(i uint64) bool {
	m := uint64(1) << (i & 63)
	if t.words[i>>6].Or(m)&m != 0 {
		return false
	}
	t.live.Add(-1)
	return true
}

func (t *atomicTombstone) Rehydrate(i uint64) bool {
	m := uint64(1) << (i & 63)
	if t.words[i>>6].And(^m)&m == 0 {
		return false
	}
	t.live.Add(1)
	return true
}

func (t *atomicTombstone) Dead(i uint64) bool {
	return t.words[i>>6].Load()&(1<<(i&63)) != 0
}
