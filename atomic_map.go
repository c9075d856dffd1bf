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

import "github.com/cockroachdb/errors"

// AtomicVerifiedMap is a frozen map that stores its keys and rejects keys
// that were not part of the build. All methods except Close are safe for
// concurrent use.
//
// Each slot is linearizable on its own; operations on different keys are not
// ordered with respect to each other. A lookup checks liveness, then the key,
// then loads the value, and may observe a concurrent ReapKey between those
// steps. The value returned is then one that was current when it was loaded.
type AtomicVerifiedMap[K comparable, V any] struct {
	index index[K, *withKeys[K, *atomicTombstone]]
	store *atomicStore[V]
}

// NewAtomicVerifiedMap builds a map over keys with no values present. The
// keys must be distinct. The keys slice is copied and may be reused.
func NewAtomicVerifiedMap[K comparable, V any](
	keys []K, options ...option[K, V],
) (*AtomicVerifiedMap[K, V], error) {
	c := newConfig(options)
	l, err := build(keys, c)
	if err != nil {
		return nil, err
	}
	return &AtomicVerifiedMap[K, V]{
		index: newIndex(l, c, newWithKeys(scatter(keys, l.slots, c.parallelism), newAtomicTombstone(len(keys)))),
		store: newAtomicStore[V](len(keys), c.release),
	}, nil
}

// NewAtomicVerifiedMapWithValues builds a map over keys in which values[j] is
// present for keys[j].
func NewAtomicVerifiedMapWithValues[K comparable, V any](
	keys []K, values []V, options ...option[K, V],
) (*AtomicVerifiedMap[K, V], error) {
	if len(keys) != len(values) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d keys, %d values", len(keys), len(values))
	}
	c := newConfig(options)
	l, err := build(keys, c)
	if err != nil {
		return nil, err
	}
	return &AtomicVerifiedMap[K, V]{
		index: newIndex(l, c, newWithKeys(scatter(keys, l.slots, c.parallelism), newAtomicTombstone(len(keys)))),
		store: adoptAtomicStore(scatter(values, l.slots, c.parallelism), c.release, c.parallelism),
	}, nil
}

// Get returns a copy of the value for key. The boolean is false if key is
// unknown, reaped or has no value. If the release function recycles
// resources owned by the value, use Acquire instead.
func (m *AtomicVerifiedMap[K, V]) Get(key K) (value V, ok bool) {
	i, ok := m.index.indexOf(key)
	if !ok || m.index.keys.Dead(i) || m.index.keys.Key(i) != key {
		return value, false
	}
	return m.store.get(i)
}

// Acquire returns a counted reference to the value for key, or false if key
// is unknown, reaped or has no value. The caller must call Release on the
// reference.
func (m *AtomicVerifiedMap[K, V]) Acquire(key K) (*Ref[V], bool) {
	i, ok := m.index.indexOf(key)
	if !ok || m.index.keys.Dead(i) || m.index.keys.Key(i) != key {
		return nil, false
	}
	r := m.store.acquire(i)
	return r, r != nil
}

// Contains reports whether key was part of the build and has not been reaped.
func (m *AtomicVerifiedMap[K, V]) Contains(key K) bool {
	return m.index.containsKey(key)
}

// ContainsValue reports whether key was part of the build and has a value.
// Reaping does not hide the value from ContainsValue.
func (m *AtomicVerifiedMap[K, V]) ContainsValue(key K) bool {
	i, ok := m.index.find(key)
	return ok && m.store.isPresent(i)
}

// Upsert sets the value for key. Readers that loaded the previous value keep
// it. Upserting a reaped key returns ErrKeyDead and upserting a key that was
// not part of the build returns ErrKeyUnknown.
func (m *AtomicVerifiedMap[K, V]) Upsert(key K, value V) error {
	i, ok := m.index.indexOf(key)
	if !ok {
		return ErrKeyUnknown
	}
	if m.index.keys.Dead(i) {
		return ErrKeyDead
	}
	if m.index.keys.Key(i) != key {
		return ErrKeyUnknown
	}
	m.store.update(i, value)
	return nil
}

// DropValue removes the value for key, if any.
func (m *AtomicVerifiedMap[K, V]) DropValue(key K) error {
	i, ok := m.index.find(key)
	if !ok {
		return ErrKeyUnknown
	}
	m.store.remove(i)
	return nil
}

// ReapKey hides key and its value from lookups and iteration. Of several
// concurrent ReapKey calls for the same key exactly one succeeds; the others
// return ErrKeyDead.
func (m *AtomicVerifiedMap[K, V]) ReapKey(key K) error {
	i, ok := m.index.indexOf(key)
	if !ok {
		return ErrKeyUnknown
	}
	if m.index.keys.Dead(i) {
		return ErrKeyDead
	}
	if m.index.keys.Key(i) != key {
		return ErrKeyUnknown
	}
	if !m.index.keys.Kill(i) {
		return ErrKeyDead
	}
	return nil
}

// RehydrateKey undoes ReapKey. Rehydrating a key that is alive returns
// ErrKeyAlive.
func (m *AtomicVerifiedMap[K, V]) RehydrateKey(key K) error {
	i, ok := m.index.indexOf(key)
	if !ok {
		return ErrKeyUnknown
	}
	if !m.index.keys.Dead(i) {
		return ErrKeyAlive
	}
	if m.index.keys.Key(i) != key {
		return ErrKeyUnknown
	}
	if !m.index.keys.Rehydrate(i) {
		return ErrKeyAlive
	}
	return nil
}

// All calls yield sequentially for each key and value that is alive and
// present, in slot order. If yield returns false, All stops the iteration.
// All does not take a snapshot: concurrent modifications may or may not be
// observed.
func (m *AtomicVerifiedMap[K, V]) All(yield func(key K, value V) bool) {
	for i, n := uint64(0), m.index.slots(); i < n; i++ {
		if m.index.keys.Dead(i) {
			continue
		}
		c := m.store.slots[i].Load()
		if c == nil {
			continue
		}
		if !yield(m.index.keys.Key(i), c.value) {
			return
		}
	}
}

// Keys calls yield sequentially for every key the map was built over,
// including reaped keys, in slot order.
func (m *AtomicVerifiedMap[K, V]) Keys(yield func(key K) bool) {
	for _, k := range m.index.keys.all() {
		if !yield(k) {
			return
		}
	}
}

// Len returns the number of keys that have not been reaped.
func (m *AtomicVerifiedMap[K, V]) Len() int {
	return m.index.len()
}

// Close removes every value from the map. Values referenced by outstanding
// Refs are released when the last Ref is. Close must not run concurrently
// with other methods. Close is idempotent.
func (m *AtomicVerifiedMap[K, V]) Close() {
	m.store.close()
}

// AtomicUnverifiedMap is a frozen map that does not store its keys. Passing a
// key that was not part of the build operates on the slot of some unrelated
// key. All methods except Close are safe for concurrent use.
type AtomicUnverifiedMap[K comparable, V any] struct {
	index index[K, *noKeys[K, *atomicTombstone]]
	store *atomicStore[V]
}

// NewAtomicUnverifiedMap builds a map over keys with no values present. The
// keys must be distinct. The keys slice is not retained.
func NewAtomicUnverifiedMap[K comparable, V any](
	keys []K, options ...option[K, V],
) (*AtomicUnverifiedMap[K, V], error) {
	c := newConfig(options)
	l, err := build(keys, c)
	if err != nil {
		return nil, err
	}
	return &AtomicUnverifiedMap[K, V]{
		index: newIndex(l, c, &noKeys[K, *atomicTombstone]{dead: newAtomicTombstone(len(keys))}),
		store: newAtomicStore[V](len(keys), c.release),
	}, nil
}

// NewAtomicUnverifiedMapWithValues builds a map over keys in which values[j]
// is present for keys[j].
func NewAtomicUnverifiedMapWithValues[K comparable, V any](
	keys []K, values []V, options ...option[K, V],
) (*AtomicUnverifiedMap[K, V], error) {
	if len(keys) != len(values) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d keys, %d values", len(keys), len(values))
	}
	c := newConfig(options)
	l, err := build(keys, c)
	if err != nil {
		return nil, err
	}
	return &AtomicUnverifiedMap[K, V]{
		index: newIndex(l, c, &noKeys[K, *atomicTombstone]{dead: newAtomicTombstone(len(keys))}),
		store: adoptAtomicStore(scatter(values, l.slots, c.parallelism), c.release, c.parallelism),
	}, nil
}

// Get returns a copy of the value in the slot of key. The boolean is false if
// the slot is reaped or has no value.
func (m *AtomicUnverifiedMap[K, V]) Get(key K) (value V, ok bool) {
	i, ok := m.index.indexOf(key)
	if !ok || m.index.keys.Dead(i) {
		return value, false
	}
	return m.store.get(i)
}

// Acquire returns a counted reference to the value in the slot of key, or
// false if the slot is reaped or has no value.
func (m *AtomicUnverifiedMap[K, V]) Acquire(key K) (*Ref[V], bool) {
	i, ok := m.index.indexOf(key)
	if !ok || m.index.keys.Dead(i) {
		return nil, false
	}
	r := m.store.acquire(i)
	return r, r != nil
}

// ContainsValue reports whether the slot of key has a value.
func (m *AtomicUnverifiedMap[K, V]) ContainsValue(key K) bool {
	i, ok := m.index.indexOf(key)
	return ok && m.store.isPresent(i)
}

// Upsert sets the value in the slot of key. Upserting into a reaped slot
// returns ErrKeyDead.
func (m *AtomicUnverifiedMap[K, V]) Upsert(key K, value V) error {
	i, ok := m.index.indexOf(key)
	if !ok {
		return ErrKeyUnknown
	}
	if m.index.keys.Dead(i) {
		return ErrKeyDead
	}
	m.store.update(i, value)
	return nil
}

// DropValue removes the value in the slot of key, if any.
func (m *AtomicUnverifiedMap[K, V]) DropValue(key K) {
	if i, ok := m.index.indexOf(key); ok {
		m.store.remove(i)
	}
}

// ReapKey hides the slot of key from lookups and iteration. Reaping a reaped
// slot returns ErrKeyDead.
func (m *AtomicUnverifiedMap[K, V]) ReapKey(key K) error {
	i, ok := m.index.indexOf(key)
	if !ok {
		return ErrKeyUnknown
	}
	if !m.index.keys.Kill(i) {
		return ErrKeyDead
	}
	return nil
}

// RehydrateKey undoes ReapKey. Rehydrating a slot that is alive returns
// ErrKeyAlive.
func (m *AtomicUnverifiedMap[K, V]) RehydrateKey(key K) error {
	i, ok := m.index.indexOf(key)
	if !ok {
		return ErrKeyUnknown
	}
	if !m.index.keys.Rehydrate(i) {
		return ErrKeyAlive
	}
	return nil
}

// Values calls yield sequentially for each value whose slot is alive and
// present, in slot order. If yield returns false, Values stops the
// iteration.
func (m *AtomicUnverifiedMap[K, V]) Values(yield func(value V) bool) {
	for i, n := uint64(0), m.index.slots(); i < n; i++ {
		if m.index.keys.Dead(i) {
			continue
		}
		c := m.store.slots[i].Load()
		if c == nil {
			continue
		}
		if !yield(c.value) {
			return
		}
	}
}

// Len returns the number of slots that have not been reaped.
func (m *AtomicUnverifiedMap[K, V]) Len() int {
	return m.index.len()
}

// Close removes every value from the map. Close must not run concurrently
// with other methods. Close is idempotent.
func (m *AtomicUnverifiedMap[K, V]) Close() {
	m.store.close()
}
