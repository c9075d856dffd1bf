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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncGetPtr(t *testing.T) {
	keys := []string{"gamma", "delta", "void", "bump"}
	m, err := NewSyncVerifiedMap[string, []int](keys)
	require.NoError(t, err)

	require.Nil(t, m.GetPtr("gamma"))
	require.NoError(t, m.Upsert("gamma", []int{1}))
	p := m.GetPtr("gamma")
	require.NotNil(t, p)
	*p = append(*p, 2)
	v, ok := m.Get("gamma")
	require.True(t, ok)
	require.Equal(t, []int{1, 2}, v)

	require.Nil(t, m.GetPtr("unknown"))
	require.NoError(t, m.ReapKey("gamma"))
	require.Nil(t, m.GetPtr("gamma"))
	require.NoError(t, m.RehydrateKey("gamma"))
	require.NoError(t, m.DropValue("gamma"))
	require.Nil(t, m.GetPtr("gamma"))

	u, err := NewSyncUnverifiedMapWithValues(keys, [][]int{{1}, {2}, {3}, {4}})
	require.NoError(t, err)
	p = u.GetPtr("void")
	require.NotNil(t, p)
	(*p)[0] = 30
	v, ok = u.Get("void")
	require.True(t, ok)
	require.Equal(t, []int{30}, v)
	require.NoError(t, u.ReapKey("void"))
	require.Nil(t, u.GetPtr("void"))
}

// TestSyncReleaseOrder checks the points at which a sync map releases values.
func TestSyncReleaseOrder(t *testing.T) {
	var released []int
	m, err := NewSyncUnverifiedMap([]string{"a", "b"}, WithRelease[string, int](func(v int) {
		released = append(released, v)
	}))
	require.NoError(t, err)

	require.NoError(t, m.Upsert("a", 1))
	require.Empty(t, released)
	require.NoError(t, m.Upsert("a", 2))
	require.Equal(t, []int{1}, released)
	m.DropValue("a")
	require.Equal(t, []int{1, 2}, released)
	m.DropValue("a")
	require.Equal(t, []int{1, 2}, released)

	// Reaping hides the value but does not release it.
	require.NoError(t, m.Upsert("b", 3))
	require.NoError(t, m.ReapKey("b"))
	require.Equal(t, []int{1, 2}, released)
	m.Close()
	require.Equal(t, []int{1, 2, 3}, released)
	m.Close()
	require.Equal(t, []int{1, 2, 3}, released)
}

func TestSyncStoreClearsReleasedSlots(t *testing.T) {
	s := newSyncStore[*int](4, nil)
	x := 1
	s.update(2, &x)
	require.True(t, s.isPresent(2))
	s.remove(2)
	require.False(t, s.isPresent(2))
	require.Nil(t, *s.values.At(2))

	s = adoptSyncStore([]*int{&x, &x, &x}, nil)
	for i := uint64(0); i < 3; i++ {
		require.True(t, s.isPresent(i))
	}
	s.close()
	for i := uint64(0); i < 3; i++ {
		require.False(t, s.isPresent(i))
		require.Nil(t, *s.values.At(i))
	}
}
