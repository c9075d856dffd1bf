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
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuildBijection(t *testing.T) {
	for _, n := range []int{1, 2, 3, 10, 1000, 50_000} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			keys := uuidKeys(n)
			c := newConfig([]option[string, int]{WithLogger[string, int](zaptest.NewLogger(t))})
			l, err := build(keys, c)
			require.NoError(t, err)
			require.Equal(t, n, l.f.Len())
			require.Len(t, l.slots, n)

			seen := make([]bool, n)
			for j, s := range l.slots {
				require.Less(t, s, uint64(n))
				require.False(t, seen[s], "slot %d assigned twice", s)
				seen[s] = true
				require.Equal(t, s, l.f.Index(c.hash(keys[j], l.seed)))
			}

			sorted := scatter(keys, l.slots, 4)
			for j, k := range keys {
				require.Equal(t, k, sorted[l.slots[j]])
			}
		})
	}
}

func TestBuildRetriesCollisions(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	// Every key has the same fingerprint under seed 0, which forces exactly
	// one retry.
	hash := func(key string, seed uint64) uint64 {
		if seed == 0 {
			return 7
		}
		return StringHash(key, seed)
	}
	keys := []string{"gamma", "delta", "void", "bump"}
	m, err := NewSyncVerifiedMap(keys,
		WithHash[string, int](hash),
		WithLogger[string, int](zap.New(core)))
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	require.Equal(t, "frozen: fingerprint collision, retrying with a new seed", logs.All()[0].Message)
	require.NotZero(t, m.index.seed)
	for j, k := range keys {
		require.NoError(t, m.Upsert(k, j))
	}
	for j, k := range keys {
		v, ok := m.Get(k)
		require.True(t, ok)
		require.Equal(t, j, v)
	}
}

func TestBuildGivesUp(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	_, err := NewAtomicUnverifiedMap([]int{1, 2, 3},
		WithHash[int, int](func(int, uint64) uint64 { return 0 }),
		WithMaxAttempts[int, int](4),
		WithLogger[int, int](zap.New(core)))
	require.True(t, errors.Is(err, ErrBuildFailed))
	require.False(t, errors.Is(err, ErrDuplicateKey))
	require.Equal(t, 3, logs.Len())
}

func TestBuildDuplicate(t *testing.T) {
	_, err := NewSyncUnverifiedMap[int, int]([]int{5, 6, 7, 6})
	require.True(t, errors.Is(err, ErrDuplicateKey))
	require.True(t, errors.Is(err, ErrBuildFailed))
	require.Contains(t, err.Error(), "keys[1] and keys[3]")
}

func TestFindFingerprint(t *testing.T) {
	i, j := findFingerprint([]uint64{4, 9, 1, 9, 9}, 9)
	require.Equal(t, 1, i)
	require.Equal(t, 3, j)
	require.Panics(t, func() { findFingerprint([]uint64{1, 2}, 2) })
}

func TestParallelChunks(t *testing.T) {
	for _, n := range []int{0, 1, buildChunkSize, 3*buildChunkSize + 5} {
		for _, workers := range []int{1, 3} {
			counts := make([]int, n)
			parallelChunks(n, workers, func(lo, hi int) {
				for j := lo; j < hi; j++ {
					counts[j]++
				}
			})
			for j, c := range counts {
				require.Equal(t, 1, c, "n=%d workers=%d index %d", n, workers, j)
			}
		}
	}
}

func TestHash(t *testing.T) {
	require.Equal(t, StringHash("gamma", 0), StringHash("gamma", 0))
	require.NotEqual(t, StringHash("gamma", 0), StringHash("gamma", 1))
	require.NotEqual(t, StringHash("gamma", 1), StringHash("delta", 1))

	type point struct{ x, y int }
	require.Equal(t, ComparableHash(point{1, 2}, 3), ComparableHash(point{1, 2}, 3))
	require.NotEqual(t, ComparableHash(point{1, 2}, 3), ComparableHash(point{2, 1}, 3))
	require.NotEqual(t, ComparableHash(point{1, 2}, 3), ComparableHash(point{1, 2}, 4))

	// The default hasher for string keys is StringHash.
	require.Equal(t, StringHash("void", 9), defaultHasher[string]()("void", 9))
	require.Equal(t, ComparableHash(42, 9), defaultHasher[int]()(42, 9))
}

func TestStructKeys(t *testing.T) {
	type point struct{ x, y int }
	var keys []point
	for x := 0; x < 30; x++ {
		for y := 0; y < 30; y++ {
			keys = append(keys, point{x, y})
		}
	}
	m, err := NewAtomicVerifiedMap[point, int](keys)
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, m.Upsert(k, k.x*100+k.y))
	}
	for _, k := range keys {
		v, ok := m.Get(k)
		require.True(t, ok)
		require.Equal(t, k.x*100+k.y, v)
	}
	require.False(t, m.Contains(point{31, 0}))
}
