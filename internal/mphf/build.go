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

package mphf

import (
	"fmt"
	"math"
	"math/bits"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// chunkSize is the number of fingerprints handed to a worker at a time.
const chunkSize = 1 << 14

// Config parameterizes Build. The zero value selects the defaults.
type Config struct {
	// Gamma is the number of bits allocated per remaining key at each level.
	// Must be >= 1. Defaults to DefaultGamma.
	Gamma float64
	// MaxLevels bounds the number of levels. Defaults to DefaultMaxLevels.
	MaxLevels int
	// Workers is the number of goroutines used to build each level. Defaults
	// to runtime.GOMAXPROCS(0).
	Workers int
	// Logger receives per-level statistics at debug level. Defaults to a
	// no-op logger.
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Gamma == 0 {
		c.Gamma = DefaultGamma
	}
	if c.MaxLevels <= 0 {
		c.MaxLevels = DefaultMaxLevels
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// DuplicateHashError is returned by Build when the same fingerprint appears
// more than once in the input. Either the input contains duplicate keys or
// two distinct keys hashed to the same fingerprint.
type DuplicateHashError struct {
	Hash uint64
}

func (e *DuplicateHashError) Error() string {
	return fmt.Sprintf("mphf: duplicate fingerprint %016x", e.Hash)
}

// Build constructs a minimal perfect hash function over hashes. The
// fingerprints must be distinct. The hashes slice is not modified or retained.
func Build(hashes []uint64, cfg Config) (*MPHF, error) {
	cfg = cfg.withDefaults()
	if cfg.Gamma < 1 || math.IsNaN(cfg.Gamma) || math.IsInf(cfg.Gamma, 0) {
		return nil, errors.Newf("mphf: invalid gamma %v", cfg.Gamma)
	}

	start := time.Now()
	f := &MPHF{n: uint64(len(hashes))}
	remaining := hashes
	var offset uint64
	for i := 0; len(remaining) > 0 && i < cfg.MaxLevels; i++ {
		l := level{
			offset: offset,
			size:   levelSize(len(remaining), cfg.Gamma),
			seed:   levelSeed(i),
		}
		words, next, err := buildLevel(remaining, l, cfg.Workers)
		if err != nil {
			return nil, err
		}
		cfg.Logger.Debug("mphf level built",
			zap.Int("level", i),
			zap.Int("keys", len(remaining)),
			zap.Uint64("bits", l.size),
			zap.Int("collided", len(next)))

		f.levels = append(f.levels, l)
		f.words = append(f.words, words...)
		offset += l.size
		remaining = next
	}
	placed := f.buildRanks()

	// Equal fingerprints collide at every level, so they always end up here
	// and the fallback table is the only place duplicates are detected.
	if len(remaining) > 0 {
		f.fallback = make(map[uint64]uint64, len(remaining))
		for i, h := range remaining {
			if _, ok := f.fallback[h]; ok {
				return nil, errors.WithStack(&DuplicateHashError{Hash: h})
			}
			f.fallback[h] = placed + uint64(i)
		}
	}

	if placed+uint64(len(remaining)) != f.n {
		panic(fmt.Sprintf("mphf: placed %d+%d fingerprints, expected %d",
			placed, len(remaining), f.n))
	}

	cfg.Logger.Debug("mphf built",
		zap.Int("keys", len(hashes)),
		zap.Int("levels", len(f.levels)),
		zap.Int("fallback", len(f.fallback)),
		zap.Float64("bits_per_key", f.BitsPerKey()),
		zap.Duration("took", time.Since(start)))
	return f, nil
}

// levelSize returns gamma*n rounded up to a whole number of words so that
// every level starts on a word boundary.
func levelSize(n int, gamma float64) uint64 {
	size := uint64(math.Ceil(gamma * float64(n)))
	return (size + 63) &^ 63
}

// buildLevel hashes every fingerprint onto the level's bit array. It returns
// the bits claimed by exactly one fingerprint and the fingerprints that
// collided, in input order.
func buildLevel(hashes []uint64, l level, workers int) ([]uint64, []uint64, error) {
	seen := make([]uint64, l.size/64)
	collide := make([]uint64, l.size/64)
	chunks := (len(hashes) + chunkSize - 1) / chunkSize

	var g errgroup.Group
	g.SetLimit(workers)
	for c := 0; c < chunks; c++ {
		lo, hi := c*chunkSize, min((c+1)*chunkSize, len(hashes))
		g.Go(func() error {
			for _, h := range hashes[lo:hi] {
				p := reduce(mix(h, l.seed), l.size)
				w, m := p>>6, uint64(1)<<(p&63)
				if atomic.OrUint64(&seen[w], m)&m != 0 {
					atomic.OrUint64(&collide[w], m)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	collided := make([][]uint64, chunks)
	for c := 0; c < chunks; c++ {
		lo, hi := c*chunkSize, min((c+1)*chunkSize, len(hashes))
		g.Go(func() error {
			var out []uint64
			for _, h := range hashes[lo:hi] {
				p := reduce(mix(h, l.seed), l.size)
				if collide[p>>6]&(1<<(p&63)) != 0 {
					out = append(out, h)
				}
			}
			collided[c] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for w := range seen {
		seen[w] &^= collide[w]
	}
	var total int
	for _, out := range collided {
		total += len(out)
	}
	next := make([]uint64, 0, total)
	for _, out := range collided {
		next = append(next, out...)
	}
	return seen, next, nil
}

// buildRanks fills in the cumulative popcount table and returns the total
// number of set bits.
func (f *MPHF) buildRanks() uint64 {
	f.ranks = make([]uint64, (len(f.words)+rankBlockWords-1)/rankBlockWords+1)
	var r uint64
	for i, w := range f.words {
		if i%rankBlockWords == 0 {
			f.ranks[i/rankBlockWords] = r
		}
		r += uint64(bits.OnesCount64(w))
	}
	f.ranks[len(f.ranks)-1] = r
	return r
}
