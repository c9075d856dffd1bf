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
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// syncStore keeps values inline in a slot array next to a bitmap of the
// present slots. The value of a slot that is not present is the zero value and
// is never returned. A syncStore requires exclusive access for every mutation.
type syncStore[V any] struct {
	n       uint64
	values  unsafeSlice[V]
	present *bitset.BitSet
	release func(value V)
}

// newSyncStore returns a store of n slots with no value present.
func newSyncStore[V any](n int, release func(V)) *syncStore[V] {
	return &syncStore[V]{
		n:       uint64(n),
		values:  makeUnsafeSlice(make([]V, n)),
		present: bitset.New(uint(n)),
		release: release,
	}
}

// adoptSyncStore returns a store owning values, which must be in slot order,
// with every slot present.
func adoptSyncStore[V any](values []V, release func(V)) *syncStore[V] {
	s := &syncStore[V]{
		n:       uint64(len(values)),
		values:  makeUnsafeSlice(values),
		present: bitset.New(uint(len(values))),
		release: release,
	}
	if len(values) > 0 {
		s.present.FlipRange(0, uint(len(values)))
	}
	return s
}

func (s *syncStore[V]) isPresent(i uint64) bool {
	return s.present.Test(uint(i))
}

// update stores v in slot i, releasing the value it replaces.
func (s *syncStore[V]) update(i uint64, v V) {
	if s.present.Test(uint(i)) {
		s.drop(i)
	}
	*s.values.At(i) = v
	s.present.Set(uint(i))
}

// remove releases the value in slot i, if any.
func (s *syncStore[V]) remove(i uint64) {
	if s.present.Test(uint(i)) {
		s.drop(i)
		s.present.Clear(uint(i))
	}
}

func (s *syncStore[V]) get(i uint64) (V, bool) {
	if !s.present.Test(uint(i)) {
		var zero V
		return zero, false
	}
	return *s.values.At(i), true
}

// getPtr returns a pointer to the value in slot i, or nil if there is none.
// The pointer is valid until the slot is next updated or removed.
func (s *syncStore[V]) getPtr(i uint64) *V {
	if !s.present.Test(uint(i)) {
		return nil
	}
	return s.values.At(i)
}

// drop releases the value in slot i and clears the slot so that the store
// does not retain anything the value references.
func (s *syncStore[V]) drop(i uint64) {
	p := s.values.At(i)
	if s.release != nil {
		s.release(*p)
	}
	var zero V
	*p = zero
}

// close releases every present value. The store is empty afterwards.
func (s *syncStore[V]) close() {
	for i, ok := s.present.NextSet(0); ok; i, ok = s.present.NextSet(i + 1) {
		s.drop(uint64(i))
	}
	s.present.ClearAll()
	s.checkInvariants()
}

func (s *syncStore[V]) checkInvariants() {
	if invariants {
		if c := s.present.Count(); c > uint(s.n) {
			panic(fmt.Sprintf("invariant failed: %d present slots of %d", c, s.n))
		}
	}
}
