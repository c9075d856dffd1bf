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

import "sync/atomic"

// cell holds one value of an atomic store. The value is immutable once the
// cell is published. refs counts the holders of the value: the store while
// the cell is in a slot, plus every outstanding Ref. The release function
// runs when refs drops to zero, which happens exactly once.
type cell[V any] struct {
	value V
	refs  atomic.Int64
}

func newCell[V any](v V) *cell[V] {
	c := &cell[V]{value: v}
	c.refs.Store(1)
	return c
}

// atomicStore keeps every value in its own cell behind an atomic pointer per
// slot. A nil pointer is an absent value. Every state change of a slot is a
// single pointer swap, and a reader that loaded a cell keeps reading the
// value of that cell no matter what happens to the slot afterwards.
type atomicStore[V any] struct {
	slots   []atomic.Pointer[cell[V]]
	release func(value V)
}

func newAtomicStore[V any](n int, release func(V)) *atomicStore[V] {
	return &atomicStore[V]{
		slots:   make([]atomic.Pointer[cell[V]], n),
		release: release,
	}
}

// adoptAtomicStore returns a store with values, which must be in slot order,
// present in every slot.
func adoptAtomicStore[V any](values []V, release func(V), workers int) *atomicStore[V] {
	s := newAtomicStore[V](len(values), release)
	parallelChunks(len(values), workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			s.slots[i].Store(newCell(values[i]))
		}
	})
	return s
}

func (s *atomicStore[V]) unref(c *cell[V]) {
	if c.refs.Add(-1) == 0 && s.release != nil {
		s.release(c.value)
	}
}

func (s *atomicStore[V]) isPresent(i uint64) bool {
	return s.slots[i].Load() != nil
}

// update publishes v in slot i and gives up the store's hold on the value it
// replaces.
func (s *atomicStore[V]) update(i uint64, v V) {
	if old := s.slots[i].Swap(newCell(v)); old != nil {
		s.unref(old)
	}
}

func (s *atomicStore[V]) remove(i uint64) {
	if old := s.slots[i].Swap(nil); old != nil {
		s.unref(old)
	}
}

// get returns a copy of the value in slot i. The copy is not counted: if the
// release function recycles resources owned by V, use acquire.
func (s *atomicStore[V]) get(i uint64) (V, bool) {
	if c := s.slots[i].Load(); c != nil {
		return c.value, true
	}
	var zero V
	return zero, false
}

// acquire returns a counted reference to the value in slot i, or nil if there
// is none.
func (s *atomicStore[V]) acquire(i uint64) *Ref[V] {
	for {
		c := s.slots[i].Load()
		if c == nil {
			return nil
		}
		for r := c.refs.Load(); r > 0; r = c.refs.Load() {
			if c.refs.CompareAndSwap(r, r+1) {
				return &Ref[V]{c: c, s: s}
			}
		}
		// The last holder let go of c between the load and the increment. The
		// store drops its hold only after swapping c out of the slot, so the
		// next load observes a different cell.
	}
}

// close removes every value. Must not run concurrently with other
// operations on the store.
func (s *atomicStore[V]) close() {
	for i := range s.slots {
		if old := s.slots[i].Swap(nil); old != nil {
			s.unref(old)
		}
	}
}

// Ref is a counted reference to a value of an atomic map, returned by
// Acquire. The value stays valid, and the map's release function is held
// back, until Release is called, even if the map replaces or drops the value
// in the meantime.
type Ref[V any] struct {
	c        *cell[V]
	s        *atomicStore[V]
	released atomic.Bool
}

// Value returns the referenced value.
func (r *Ref[V]) Value() V {
	return r.c.value
}

// Release gives up the reference. Calling Release more than once has no
// effect.
func (r *Ref[V]) Release() {
	if r.released.CompareAndSwap(false, true) {
		r.s.unref(r.c)
	}
}
