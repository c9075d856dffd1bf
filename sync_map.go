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

// SyncVerifiedMap is a frozen map that stores its keys and rejects keys that
// were not part of the build. It is not safe for concurrent use.
type SyncVerifiedMap[K comparable, V any] struct {
	index index[K, *withKeys[K, *bitTombstone]]
	store *syncStore[V]
}

// NewSyncVerifiedMap builds a map over keys with no values present. The keys
// must be distinct. The keys slice is copied and may be reused.
func NewSyncVerifiedMap[K comparable, V any](
	keys []K, options ...option[K, V],
) (*SyncVerifiedMap[K, V], error) {
	c := newConfig(options)
	l, err := build(keys, c)
	if err != nil {
		return nil, err
	}
	return &SyncVerifiedMap[K, V]{
		index: newIndex(l, c, newWithKeys(scatter(keys, l.slots, c.parallelism), newBitTombstone(len(keys)))),
		store: newSyncStore[V](len(keys), c.release),
	}, nil
}

// NewSyncVerifiedMapWithValues builds a map over keys in which values[j] is
// present for keys[j].
func NewSyncVerifiedMapWithValues[K comparable, V any](
	keys []K, values []V, options ...option[K, V],
) (*SyncVerifiedMap[K, V], error) {
	if len(keys) != len(values) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d keys, %d values", len(keys), len(values))
	}
	c := newConfig(options)
	l, err := build(keys, c)
	if err != nil {
		return nil, err
	}
	return &SyncVerifiedMap[K, V]{
		index: newIndex(l, c, newWithKeys(scatter(keys, l.slots, c.parallelism), newBitTombstone(len(keys)))),
		store: adoptSyncStore(scatter(values, l.slots, c.parallelism), c.release),
	}, nil
}

// Get returns the value for key. The boolean is false if key is unknown,
// reaped or has no value.
func (m *SyncVerifiedMap[K, V]) Get(key K) (value V, ok bool) {
	i, ok := m.index.indexOf(key)
	if !ok || m.index.keys.Dead(i) || m.index.keys.Key(i) != key {
		return value, false
	}
	return m.store.get(i)
}

// GetPtr returns a pointer to the value for key, or nil if key is unknown,
// reaped or has no value. The pointer is valid until the key is next
// upserted or its value dropped.
func (m *SyncVerifiedMap[K, V]) GetPtr(key K) *V {
	i, ok := m.index.indexOf(key)
	if !ok || m.index.keys.Dead(i) || m.index.keys.Key(i) != key {
		return nil
	}
	return m.store.getPtr(i)
}

// Contains reports whether key was part of the build and has not been reaped.
func (m *SyncVerifiedMap[K, V]) Contains(key K) bool {
	return m.index.containsKey(key)
}

// ContainsValue reports whether key was part of the build and has a value.
// Reaping does not hide the value from ContainsValue.
func (m *SyncVerifiedMap[K, V]) ContainsValue(key K) bool {
	i, ok := m.index.find(key)
	return ok && m.store.isPresent(i)
}

// Upsert sets the value for key, releasing the value it replaces. Upserting a
// reaped key returns ErrKeyDead and upserting a key that was not part of the
// build returns ErrKeyUnknown.
func (m *SyncVerifiedMap[K, V]) Upsert(key K, value V) error {
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

// DropValue releases the value for key, if any. Reaped keys may have their
// value dropped.
func (m *SyncVerifiedMap[K, V]) DropValue(key K) error {
	i, ok := m.index.find(key)
	if !ok {
		return ErrKeyUnknown
	}
	m.store.remove(i)
	return nil
}

// ReapKey hides key and its value from lookups and iteration. The value is
// retained. Reaping a reaped key returns ErrKeyDead.
func (m *SyncVerifiedMap[K, V]) ReapKey(key K) error {
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
	m.index.keys.Kill(i)
	return nil
}

// RehydrateKey undoes ReapKey. Rehydrating a key that is alive returns
// ErrKeyAlive.
func (m *SyncVerifiedMap[K, V]) RehydrateKey(key K) error {
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
	m.index.keys.Rehydrate(i)
	return nil
}

// All calls yield sequentially for each key and value that is alive and
// present in the map. If yield returns false, All stops the iteration. The
// order is the slot order of the keys, which is unrelated to the order they
// were passed in. The map must not be modified during iteration.
func (m *SyncVerifiedMap[K, V]) All(yield func(key K, value V) bool) {
	for i, n := uint64(0), m.index.slots(); i < n; i++ {
		if m.index.keys.Dead(i) || !m.store.isPresent(i) {
			continue
		}
		if !yield(m.index.keys.Key(i), *m.store.values.At(i)) {
			return
		}
	}
}

// Keys calls yield sequentially for every key the map was built over,
// including reaped keys, in slot order.
func (m *SyncVerifiedMap[K, V]) Keys(yield func(key K) bool) {
	for _, k := range m.index.keys.all() {
		if !yield(k) {
			return
		}
	}
}

// Len returns the number of keys that have not been reaped.
func (m *SyncVerifiedMap[K, V]) Len() int {
	return m.index.len()
}

// Close releases every value in the map. Keys stay readable but the map holds
// no values afterwards. Close is idempotent.
func (m *SyncVerifiedMap[K, V]) Close() {
	m.store.close()
}

// SyncUnverifiedMap is a frozen map that does not store its keys. Passing a
// key that was not part of the build operates on the slot of some unrelated
// key. It is not safe for concurrent use.
type SyncUnverifiedMap[K comparable, V any] struct {
	index index[K, *noKeys[K, *bitTombstone]]
	store *syncStore[V]
}

// NewSyncUnverifiedMap builds a map over keys with no values present. The
// keys must be distinct. The keys slice is not retained.
func NewSyncUnverifiedMap[K comparable, V any](
	keys []K, options ...option[K, V],
) (*SyncUnverifiedMap[K, V], error) {
	c := newConfig(options)
	l, err := build(keys, c)
	if err != nil {
		return nil, err
	}
	return &SyncUnverifiedMap[K, V]{
		index: newIndex(l, c, &noKeys[K, *bitTombstone]{dead: newBitTombstone(len(keys))}),
		store: newSyncStore[V](len(keys), c.release),
	}, nil
}

// NewSyncUnverifiedMapWithValues builds a map over keys in which values[j] is
// present for keys[j].
func NewSyncUnverifiedMapWithValues[K comparable, V any](
	keys []K, values []V, options ...option[K, V],
) (*SyncUnverifiedMap[K, V], error) {
	if len(keys) != len(values) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d keys, %d values", len(keys), len(values))
	}
	c := newConfig(options)
	l, err := build(keys, c)
	if err != nil {
		return nil, err
	}
	return &SyncUnverifiedMap[K, V]{
		index: newIndex(l, c, &noKeys[K, *bitTombstone]{dead: newBitTombstone(len(keys))}),
		store: adoptSyncStore(scatter(values, l.slots, c.parallelism), c.release),
	}, nil
}

// Get returns the value in the slot of key. The boolean is false if the slot
// is reaped or has no value.
func (m *SyncUnverifiedMap[K, V]) Get(key K) (value V, ok bool) {
	i, ok := m.index.indexOf(key)
	if !ok || m.index.keys.Dead(i) {
		return value, false
	}
	return m.store.get(i)
}

// GetPtr returns a pointer to the value in the slot of key, or nil if the
// slot is reaped or has no value.
func (m *SyncUnverifiedMap[K, V]) GetPtr(key K) *V {
	i, ok := m.index.indexOf(key)
	if !ok || m.index.keys.Dead(i) {
		return nil
	}
	return m.store.getPtr(i)
}

// ContainsValue reports whether the slot of key has a value.
func (m *SyncUnverifiedMap[K, V]) ContainsValue(key K) bool {
	i, ok := m.index.indexOf(key)
	return ok && m.store.isPresent(i)
}

// Upsert sets the value in the slot of key. Upserting into a reaped slot
// returns ErrKeyDead.
func (m *SyncUnverifiedMap[K, V]) Upsert(key K, value V) error {
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

// DropValue releases the value in the slot of key, if any.
func (m *SyncUnverifiedMap[K, V]) DropValue(key K) {
	if i, ok := m.index.indexOf(key); ok {
		m.store.remove(i)
	}
}

// ReapKey hides the slot of key from lookups and iteration. Reaping a reaped
// slot returns ErrKeyDead.
func (m *SyncUnverifiedMap[K, V]) ReapKey(key K) error {
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
func (m *SyncUnverifiedMap[K, V]) RehydrateKey(key K) error {
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
func (m *SyncUnverifiedMap[K, V]) Values(yield func(value V) bool) {
	for i, n := uint64(0), m.index.slots(); i < n; i++ {
		if m.index.keys.Dead(i) || !m.store.isPresent(i) {
			continue
		}
		if !yield(*m.store.values.At(i)) {
			return
		}
	}
}

// Len returns the number of slots that have not been reaped.
func (m *SyncUnverifiedMap[K, V]) Len() int {
	return m.index.len()
}

// Close releases every value in the map. Close is idempotent.
func (m *SyncUnverifiedMap[K, V]) Close() {
	m.store.close()
}
