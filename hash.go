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
	"encoding/binary"
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
)

// StringHash is the default fingerprint for string keys: xxhash64, unseeded
// for seed 0.
func StringHash(key string, seed uint64) uint64 {
	if seed == 0 {
		return xxhash.Sum64String(key)
	}
	var d xxhash.Digest
	d.ResetWithSeed(seed)
	_, _ = d.WriteString(key)
	return d.Sum64()
}

// processSeed keys the fingerprints of non-string keys. Fingerprints are
// never persisted so they only need to be stable within a process.
var processSeed = maphash.MakeSeed()

// ComparableHash is the default fingerprint for keys that are not strings.
func ComparableHash[K comparable](key K, seed uint64) uint64 {
	var h maphash.Hash
	h.SetSeed(processSeed)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	_, _ = h.Write(buf[:])
	maphash.WriteComparable(&h, key)
	return h.Sum64()
}

func defaultHasher[K comparable]() func(key K, seed uint64) uint64 {
	var k K
	if _, ok := any(k).(string); ok {
		return func(key K, seed uint64) uint64 {
			return StringHash(unsafeString(&key), seed)
		}
	}
	return ComparableHash[K]
}
