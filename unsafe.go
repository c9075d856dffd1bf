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

import "unsafe"

// unsafeSlice provides semi-ergonomic limited slice-like functionality
// without bounds checking for fixed sized slices. Slot indexes come from the
// perfect hash function and are always in [0, N), which is what makes
// skipping the bounds check sound.
type unsafeSlice[T any] struct {
	ptr unsafe.Pointer
}

func makeUnsafeSlice[T any](s []T) unsafeSlice[T] {
	return unsafeSlice[T]{ptr: unsafe.Pointer(unsafe.SliceData(s))}
}

// At returns a pointer to the element at index i.
func (s unsafeSlice[T]) At(i uint64) *T {
	var t T
	return (*T)(unsafe.Add(s.ptr, unsafe.Sizeof(t)*uintptr(i)))
}

// Slice returns a Go slice akin to slice[start:end] for a Go builtin slice.
func (s unsafeSlice[T]) Slice(start, end uint64) []T {
	return unsafe.Slice((*T)(s.ptr), end)[start:end]
}

// unsafeString reinterprets k as a string. The caller must have checked that
// K is string.
func unsafeString[K comparable](k *K) string {
	return *(*string)(unsafe.Pointer(k))
}
