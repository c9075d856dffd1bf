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

import "github.com/cockroachdb/frozen/internal/mphf"

// keyStorage is the per-slot key state of a map: the liveness of every slot
// and, for verified maps, the key that was assigned to it.
type keyStorage[K comparable] interface {
	tombstone
	// Key returns the key assigned to slot i. It panics for storage that does
	// not keep keys.
	Key(i uint64) K
}

// withKeys stores the keys in slot order next to a tombstone.
type withKeys[K comparable, T tombstone] struct {
	keys unsafeSlice[K]
	n    uint64
	dead T
}

func newWithKeys[K comparable, T tombstone](keys []K, dead T) *withKeys[K, T] {
	return &withKeys[K, T]{keys: makeUnsafeSlice(keys), n: uint64(len(keys)), dead: dead}
}

func (s *withKeys[K, T]) Len() int                { return s.dead.Len() }
func (s *withKeys[K, T]) Kill(i uint64) bool      { return s.dead.Kill(i) }
func (s *withKeys[K, T]) Rehydrate(i uint64) bool { return s.dead.Rehydrate(i) }
func (s *withKeys[K, T]) Dead(i uint64) bool      { return s.dead.Dead(i) }

func (s *withKeys[K, T]) Key(i uint64) K {
	return *s.keys.At(i)
}

// all returns the keys in slot order.
func (s *withKeys[K, T]) all() []K {
	return s.keys.Slice(0, s.n)
}

// noKeys keeps only the tombstone.
type noKeys[K comparable, T tombstone] struct {
	dead T
}

func (s *noKeys[K, T]) Len() int                { return s.dead.Len() }
func (s *noKeys[K, T]) Kill(i uint64) bool      { return s.dead.Kill(i) }
func (s *noKeys[K, T]) Rehydrate(i uint64) bool { return s.dead.Rehydrate(i) }
func (s *noKeys[K, T]) Dead(i uint64) bool      { return s.dead.Dead(i) }

func (s *noKeys[K, T]) Key(i uint64) K {
	panic("frozen: keys are not stored by unverified maps")
}

// index composes the perfect hash function with the key storage.
type index[K comparable, S keyStorage[K]] struct {
	f    *mphf.MPHF
	hash func(key K, seed uint64) uint64
	seed uint64
	keys S
}

func newIndex[K comparable, V any, S keyStorage[K]](l layout, c *config[K, V], keys S) index[K, S] {
	return index[K, S]{f: l.f, hash: c.hash, seed: l.seed, keys: keys}
}

// slots returns N, the number of keys the index was built over.
func (x *index[K, S]) slots() uint64 {
	return uint64(x.f.Len())
}

// indexOf returns the slot for k. For keys outside the build set the slot is
// that of an unrelated key. The boolean is false only when the index is
// empty and there is no slot to return.
func (x *index[K, S]) indexOf(k K) (uint64, bool) {
	if x.f.Len() == 0 {
		return 0, false
	}
	return x.f.Index(x.hash(k, x.seed)), true
}

// find returns the slot assigned to k, ignoring liveness. The boolean is
// false if k was not part of the build. Only valid for storage that keeps
// keys.
func (x *index[K, S]) find(k K) (uint64, bool) {
	i, ok := x.indexOf(k)
	if !ok || x.keys.Key(i) != k {
		return 0, false
	}
	return i, true
}

// containsKey reports whether k was part of the build and is alive. Only
// valid for storage that keeps keys.
func (x *index[K, S]) containsKey(k K) bool {
	i, ok := x.indexOf(k)
	if !ok || x.keys.Dead(i) {
		return false
	}
	return x.keys.Key(i) == k
}

// len returns the number of alive slots.
func (x *index[K, S]) len() int {
	return x.keys.Len()
}
