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
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/llxisdsh/pb"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func uuidKeys(n int) []string {
	keys := make([]string, n)
	for j := range keys {
		keys[j] = uuid.NewString()
	}
	return keys
}

// TestAtomicSingleWriter has one goroutine upsert increasing values into a
// key while another reads it. The reader must see a non-decreasing sequence.
func TestAtomicSingleWriter(t *testing.T) {
	const n = 1000
	var released atomic.Int64
	m, err := NewAtomicVerifiedMap([]string{"k"}, WithRelease[string, int](func(int) {
		released.Add(1)
	}))
	require.NoError(t, err)

	var done atomic.Bool
	var g errgroup.Group
	g.Go(func() error {
		defer done.Store(true)
		for i := 0; i < n; i++ {
			if err := m.Upsert("k", i); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		last := -1
		for !done.Load() {
			v, ok := m.Get("k")
			if !ok {
				if last >= 0 {
					return errors.Newf("value disappeared after %d", last)
				}
				continue
			}
			if v < last {
				return errors.Newf("observed %d after %d", v, last)
			}
			last = v
		}
		return nil
	})
	require.NoError(t, g.Wait())

	v, ok := m.Get("k")
	require.True(t, ok)
	require.Equal(t, n-1, v)
	require.EqualValues(t, n-1, released.Load())
	m.Close()
	require.EqualValues(t, n, released.Load())
}

type versioned struct {
	key string
	seq int
}

// TestAtomicConcurrent has every writer own a disjoint subset of the keys
// while readers look up random keys. seqs records the latest sequence number
// published for every key: since a writer publishes after updating the map, a
// reader that saw sequence s in seqs must find at least s in the map. A
// pb.MapOf from key to position is filled before any goroutine starts and is
// only read concurrently.
func TestAtomicConcurrent(t *testing.T) {
	const writers = 4
	const readers = 4
	const rounds = 200
	keys := uuidKeys(2000)

	var created, released atomic.Int64
	m, err := NewAtomicVerifiedMap(keys, WithRelease[string, *versioned](func(*versioned) {
		released.Add(1)
	}))
	require.NoError(t, err)
	positions := pb.NewMapOf[string, int](pb.WithPresize(len(keys)))
	for j, k := range keys {
		positions.Store(k, j)
	}
	seqs := make([]atomic.Int64, len(keys))

	var done atomic.Int32
	var g errgroup.Group
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			defer done.Add(1)
			for seq := 1; seq <= rounds; seq++ {
				for j := w; j < len(keys); j += writers {
					created.Add(1)
					if err := m.Upsert(keys[j], &versioned{key: keys[j], seq: seq}); err != nil {
						return err
					}
					seqs[j].Store(int64(seq))
				}
			}
			return nil
		})
	}
	for r := 0; r < readers; r++ {
		g.Go(func() error {
			for done.Load() < writers {
				k := keys[rand.IntN(len(keys))]
				j, found := positions.Load(k)
				if !found {
					return errors.Newf("%s: no position", k)
				}
				seq := int(seqs[j].Load())
				v, ok := m.Get(k)
				if seq == 0 {
					continue
				}
				if !ok {
					return errors.Newf("%s: published %d but missing", k, seq)
				}
				if v.key != k {
					return errors.Newf("%s: found value of %s", k, v.key)
				}
				if v.seq < seq {
					return errors.Newf("%s: published %d but found %d", k, seq, v.seq)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, len(keys), positions.Size())
	positions.Range(func(k string, j int) bool {
		v, ok := m.Get(k)
		require.True(t, ok)
		require.EqualValues(t, rounds, seqs[j].Load())
		require.Equal(t, rounds, v.seq)
		return true
	})
	m.Close()
	require.Equal(t, created.Load(), released.Load())
}

func TestAtomicAcquire(t *testing.T) {
	var released []int
	m, err := NewAtomicVerifiedMapWithValues([]string{"a", "b"}, []int{1, 2},
		WithRelease[string, int](func(v int) {
			released = append(released, v)
		}))
	require.NoError(t, err)

	r, ok := m.Acquire("a")
	require.True(t, ok)
	require.Equal(t, 1, r.Value())

	// The map lets go of 1 but the reference keeps it.
	require.NoError(t, m.Upsert("a", 10))
	require.Empty(t, released)
	require.Equal(t, 1, r.Value())
	v, _ := m.Get("a")
	require.Equal(t, 10, v)
	r.Release()
	require.Equal(t, []int{1}, released)
	r.Release()
	require.Equal(t, []int{1}, released)

	_, ok = m.Acquire("unknown")
	require.False(t, ok)
	require.NoError(t, m.DropValue("b"))
	require.Equal(t, []int{1, 2}, released)
	_, ok = m.Acquire("b")
	require.False(t, ok)

	// Close releases the map's hold; the outstanding reference releases the
	// value.
	r, ok = m.Acquire("a")
	require.True(t, ok)
	m.Close()
	require.Equal(t, []int{1, 2}, released)
	r.Release()
	require.Equal(t, []int{1, 2, 10}, released)

	u, err := NewAtomicUnverifiedMapWithValues([]string{"a"}, []int{5})
	require.NoError(t, err)
	r, ok = u.Acquire("a")
	require.True(t, ok)
	require.Equal(t, 5, r.Value())
	r.Release()
	require.NoError(t, u.ReapKey("a"))
	_, ok = u.Acquire("a")
	require.False(t, ok)
}

// TestAtomicAcquireReleaseOnce races Acquire against Upsert and DropValue and
// checks that no value is released while referenced and that every value is
// released exactly once.
func TestAtomicAcquireReleaseOnce(t *testing.T) {
	const workers = 8
	const ops = 5000
	keys := uuidKeys(64)

	type value struct {
		id       int64
		released atomic.Int32
	}
	var nextID atomic.Int64
	var values [workers * ops]*value
	newValue := func() *value {
		v := &value{id: nextID.Add(1) - 1}
		values[v.id] = v
		return v
	}

	m, err := NewAtomicUnverifiedMap(keys, WithRelease[string, *value](func(v *value) {
		v.released.Add(1)
	}))
	require.NoError(t, err)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < ops; i++ {
				k := keys[rand.IntN(len(keys))]
				switch rand.IntN(3) {
				case 0:
					if err := m.Upsert(k, newValue()); err != nil {
						return err
					}
				case 1:
					m.DropValue(k)
				case 2:
					r, ok := m.Acquire(k)
					if !ok {
						continue
					}
					if n := r.Value().released.Load(); n != 0 {
						return errors.Newf("value %d released while referenced", r.Value().id)
					}
					r.Release()
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	m.Close()

	for id := int64(0); id < nextID.Load(); id++ {
		require.EqualValues(t, 1, values[id].released.Load(), "value %d", id)
	}
}

func TestAtomicConcurrentReap(t *testing.T) {
	const workers = 8
	keys := uuidKeys(500)
	m, err := NewAtomicVerifiedMap[string, int](keys)
	require.NoError(t, err)

	var reaped atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for _, k := range keys {
				err := m.ReapKey(k)
				switch {
				case err == nil:
					reaped.Add(1)
				case !errors.Is(err, ErrKeyDead):
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, len(keys), reaped.Load())
	require.Equal(t, 0, m.Len())
	for _, k := range keys {
		require.False(t, m.Contains(k))
		require.ErrorIs(t, m.Upsert(k, 1), ErrKeyDead)
	}
}

// TestAtomicReapEveryKey reaps and rehydrates every key of a map large enough
// to span many tombstone words. Each transition depends on the previous word
// value returned by the atomic bit operations.
func TestAtomicReapEveryKey(t *testing.T) {
	keys := uuidKeys(2000)
	m, err := NewAtomicVerifiedMap[string, int](keys)
	require.NoError(t, err)

	for _, k := range keys {
		require.NoError(t, m.ReapKey(k), k)
	}
	require.Equal(t, 0, m.Len())
	for _, k := range keys {
		require.ErrorIs(t, m.ReapKey(k), ErrKeyDead)
	}
	for _, k := range keys {
		require.NoError(t, m.RehydrateKey(k), k)
	}
	require.Equal(t, len(keys), m.Len())
	for _, k := range keys {
		require.ErrorIs(t, m.RehydrateKey(k), ErrKeyAlive)
		require.True(t, m.Contains(k))
	}
}
