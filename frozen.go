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

// Package frozen implements maps over a key set that is fixed when the map is
// built. A minimal perfect hash function maps the N keys onto the slots
// [0, N), so every operation costs one hash evaluation and one slot access.
// There are no collision chains, no rehashing and no growth. Values may be
// inserted, replaced and dropped freely after the build; keys may not.
//
// # Slots
//
// Each slot carries two independent predicates. A slot is alive unless its
// key has been reaped with ReapKey; reaping hides the key and its value from
// lookups and iteration without discarding the value, and RehydrateKey brings
// both back. A slot is present when it holds a value. Every slot is alive
// after the build. Slots are present after the build only when the map was
// built with values (the NewXxxMapWithValues constructors).
//
// # Variants
//
// There are four map types, the product of two choices that are made at the
// type level so that the trade-off is visible at every call site:
//
//   - Verified maps store the keys and compare the stored key on every
//     operation, rejecting keys that were not part of the build. Unverified
//     maps store no keys. A perfect hash function sends a foreign key to some
//     arbitrary slot, so an unverified map will happily return, overwrite or
//     reap the value of an unrelated key. Use the unverified maps only when
//     the caller guarantees that every key it passes was part of the build.
//   - Sync maps are not safe for concurrent use and keep values inline in a
//     slot array. Atomic maps are safe for concurrent use: every slot is an
//     atomic pointer to an immutable cell holding the value, and every
//     mutation of a slot is a single pointer swap.
//
// # Value lifetime
//
// The WithRelease option registers a function that is called exactly once for
// every value that leaves a map, whether it was replaced by Upsert, removed by
// DropValue or still present at Close. An atomic map hands out counted
// references with Acquire; the release function for a value runs when both
// the map and every outstanding reference have let go of it.
//
// # Build
//
// Building hashes every key to a 64-bit fingerprint, builds the perfect hash
// function over the fingerprints (see internal/mphf) and scatters the keys
// and values into slot order. All three phases run in parallel. If two
// distinct keys share a fingerprint the build is retried with a new seed; if
// two keys are equal the build fails with ErrDuplicateKey.
package frozen

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cockroachdb/frozen/internal/mphf"
)

// buildChunkSize is the number of keys handed to a build worker at a time.
const buildChunkSize = 1 << 14

// layout is the result of building the perfect hash function over a key set.
type layout struct {
	f    *mphf.MPHF
	seed uint64
	// slots[j] is the slot of keys[j].
	slots []uint64
}

// build constructs the perfect hash function over keys, retrying with fresh
// seeds while distinct keys share a fingerprint.
func build[K comparable, V any](keys []K, c *config[K, V]) (layout, error) {
	start := time.Now()
	seed := c.seed
	hashes := make([]uint64, len(keys))

	for attempt := 1; ; attempt++ {
		c.logger.Debug("frozen: building",
			zap.Int("keys", len(keys)),
			zap.Int("parallelism", c.parallelism),
			zap.Int("attempt", attempt),
			zap.Uint64("seed", seed))

		parallelChunks(len(keys), c.parallelism, func(lo, hi int) {
			for j := lo; j < hi; j++ {
				hashes[j] = c.hash(keys[j], seed)
			}
		})

		f, err := mphf.Build(hashes, mphf.Config{
			Gamma:   c.gamma,
			Workers: c.parallelism,
			Logger:  c.logger,
		})
		if err == nil {
			// The fingerprints are no longer needed; reuse their memory for
			// the slots.
			parallelChunks(len(keys), c.parallelism, func(lo, hi int) {
				for j := lo; j < hi; j++ {
					hashes[j] = f.Index(hashes[j])
				}
			})
			checkSlots(hashes)
			c.logger.Debug("frozen: built",
				zap.Int("keys", len(keys)),
				zap.Int("attempts", attempt),
				zap.Float64("bits_per_key", f.BitsPerKey()),
				zap.Duration("took", time.Since(start)))
			return layout{f: f, seed: seed, slots: hashes}, nil
		}

		var dup *mphf.DuplicateHashError
		if !errors.As(err, &dup) {
			return layout{}, buildFailed(err)
		}
		i, j := findFingerprint(hashes, dup.Hash)
		if keys[i] == keys[j] {
			return layout{}, buildFailed(
				errors.Wrapf(ErrDuplicateKey, "keys[%d] and keys[%d]", i, j))
		}
		if attempt >= c.maxAttempts {
			return layout{}, buildFailed(
				errors.Wrapf(err, "fingerprint collision persisted after %d attempts", attempt))
		}
		c.logger.Warn("frozen: fingerprint collision, retrying with a new seed",
			zap.Int("attempt", attempt),
			zap.Uint64("seed", seed),
			zap.Int("first", i),
			zap.Int("second", j))
		seed = rand.Uint64()
	}
}

// findFingerprint returns the positions of the first two occurrences of h.
func findFingerprint(hashes []uint64, h uint64) (int, int) {
	first := -1
	for j, x := range hashes {
		if x != h {
			continue
		}
		if first >= 0 {
			return first, j
		}
		first = j
	}
	panic(fmt.Sprintf("frozen: fingerprint %016x does not occur twice", h))
}

// parallelChunks calls fn on consecutive chunks of [0, n) using up to workers
// goroutines and waits for all of them.
func parallelChunks(n, workers int, fn func(lo, hi int)) {
	if n <= buildChunkSize || workers <= 1 {
		fn(0, n)
		return
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += buildChunkSize {
		hi := min(lo+buildChunkSize, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}

// scatter returns a copy of src in slot order: dst[slots[j]] = src[j]. The
// slots are a permutation of [0, len(src)) so every element of dst is written
// exactly once and the workers never write the same element.
func scatter[T any](src []T, slots []uint64, workers int) []T {
	dst := make([]T, len(src))
	parallelChunks(len(src), workers, func(lo, hi int) {
		for j := lo; j < hi; j++ {
			dst[slots[j]] = src[j]
		}
	})
	return dst
}

// checkSlots verifies that slots is a permutation of [0, len(slots)).
func checkSlots(slots []uint64) {
	if invariants {
		seen := make([]bool, len(slots))
		for j, s := range slots {
			if s >= uint64(len(slots)) {
				panic(fmt.Sprintf("invariant failed: keys[%d] mapped to slot %d of %d", j, s, len(slots)))
			}
			if seen[s] {
				panic(fmt.Sprintf("invariant failed: slot %d assigned twice", s))
			}
			seen[s] = true
		}
	}
}
