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
	"runtime"

	"go.uber.org/zap"

	"github.com/cockroachdb/frozen/internal/mphf"
)

const defaultMaxAttempts = 10

// config holds the settings shared by every map variant. It is filled in by
// options before the map is built and is read-only afterwards.
type config[K comparable, V any] struct {
	hash        func(key K, seed uint64) uint64
	seed        uint64
	gamma       float64
	parallelism int
	maxAttempts int
	release     func(value V)
	logger      *zap.Logger
}

func newConfig[K comparable, V any](options []option[K, V]) *config[K, V] {
	c := &config[K, V]{
		hash:        defaultHasher[K](),
		gamma:       mphf.DefaultGamma,
		parallelism: runtime.GOMAXPROCS(0),
		maxAttempts: defaultMaxAttempts,
		logger:      zap.NewNop(),
	}
	for _, op := range options {
		op.apply(c)
	}
	return c
}

// option provide an interface to do work on a map's config while it is being
// created.
type option[K comparable, V any] interface {
	apply(c *config[K, V])
}

type hashOption[K comparable, V any] struct {
	hash func(key K, seed uint64) uint64
}

func (op hashOption[K, V]) apply(c *config[K, V]) {
	if op.hash != nil {
		c.hash = op.hash
	}
}

// WithHash is an option to specify the fingerprint function used to build and
// evaluate the perfect hash function. The function must be deterministic for
// a given (key, seed) pair and should spread distinct keys over all 64 bits:
// two keys with the same fingerprint under a seed force the build to retry
// with another seed.
func WithHash[K comparable, V any](hash func(key K, seed uint64) uint64) option[K, V] {
	return hashOption[K, V]{hash}
}

type seedOption[K comparable, V any] struct {
	seed uint64
}

func (op seedOption[K, V]) apply(c *config[K, V]) {
	c.seed = op.seed
}

// WithSeed is an option to fix the seed of the first build attempt. By
// default the first attempt uses seed 0, which lets the default string hasher
// take its unseeded fast path. Retries always draw random seeds.
func WithSeed[K comparable, V any](seed uint64) option[K, V] {
	return seedOption[K, V]{seed}
}

type gammaOption[K comparable, V any] struct {
	gamma float64
}

func (op gammaOption[K, V]) apply(c *config[K, V]) {
	c.gamma = op.gamma
}

// WithGamma is an option to set the space/time trade-off of the perfect hash
// function: the number of bits allocated per key at each level. Must be >= 1.
// The default of 2 builds quickly and uses about 3.7 bits per key.
func WithGamma[K comparable, V any](gamma float64) option[K, V] {
	return gammaOption[K, V]{gamma}
}

type parallelismOption[K comparable, V any] struct {
	n int
}

func (op parallelismOption[K, V]) apply(c *config[K, V]) {
	if op.n > 0 {
		c.parallelism = op.n
	}
}

// WithParallelism is an option to set the number of goroutines used while
// building the map. Defaults to runtime.GOMAXPROCS(0).
func WithParallelism[K comparable, V any](n int) option[K, V] {
	return parallelismOption[K, V]{n}
}

type maxAttemptsOption[K comparable, V any] struct {
	n int
}

func (op maxAttemptsOption[K, V]) apply(c *config[K, V]) {
	if op.n > 0 {
		c.maxAttempts = op.n
	}
}

// WithMaxAttempts is an option to bound the number of seeds tried when two
// distinct keys share a fingerprint. Defaults to 10.
func WithMaxAttempts[K comparable, V any](n int) option[K, V] {
	return maxAttemptsOption[K, V]{n}
}

type releaseOption[K comparable, V any] struct {
	release func(value V)
}

func (op releaseOption[K, V]) apply(c *config[K, V]) {
	c.release = op.release
}

// WithRelease is an option to specify a function called exactly once for every
// value that leaves the map: when it is overwritten by Upsert, removed by
// DropValue, or still present when the map is closed. Values are never
// released while reaped; reaping only hides them.
//
// For the atomic maps the function runs when the last holder lets go of the
// value, which is the map itself unless the value was obtained with Acquire.
func WithRelease[K comparable, V any](release func(value V)) option[K, V] {
	return releaseOption[K, V]{release}
}

type loggerOption[K comparable, V any] struct {
	logger *zap.Logger
}

func (op loggerOption[K, V]) apply(c *config[K, V]) {
	if op.logger != nil {
		c.logger = op.logger
	}
}

// WithLogger is an option to specify the logger receiving build progress.
// Building logs at debug level, and at warn level when a seed is retried. By
// default nothing is logged.
func WithLogger[K comparable, V any](logger *zap.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}
