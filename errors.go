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

// Errors returned by the maps. Operations return these values unwrapped so
// they can be compared with ==; build errors are marked and must be tested
// with errors.Is.
var (
	// ErrKeyUnknown is returned by verified maps when the key was not part of
	// the key set the map was built from.
	ErrKeyUnknown = errors.New("frozen: key unknown")
	// ErrKeyDead is returned when upserting into, or reaping, a reaped key.
	ErrKeyDead = errors.New("frozen: key dead")
	// ErrKeyAlive is returned when rehydrating a key that is alive.
	ErrKeyAlive = errors.New("frozen: key alive")
	// ErrLengthMismatch is returned when a map is built from keys and values
	// of different lengths.
	ErrLengthMismatch = errors.New("frozen: keys and values differ in length")
	// ErrBuildFailed marks every error returned while building the perfect
	// hash function.
	ErrBuildFailed = errors.New("frozen: build failed")
	// ErrDuplicateKey is returned, marked with ErrBuildFailed, when the key
	// set contains the same key twice.
	ErrDuplicateKey = errors.New("frozen: duplicate key")
)

// buildFailed marks err as a build failure.
func buildFailed(err error) error {
	return errors.Mark(errors.Wrap(err, "frozen: build failed"), ErrBuildFailed)
}
