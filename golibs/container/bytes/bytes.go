// Copyright 2023 The acquirecloud Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bytes contains an abstraction of a bounded random-access byte
// storage (Buffer) and several implementations of it - a plain in-memory
// slice and an anonymous memory-mapped region.
package bytes

import "io"

type (
	// Buffer interface provides an access to a byte storage of a fixed size.
	// The storage consists of Size() bytes, which may be read or written via
	// the direct slices returned by the Buffer function.
	Buffer interface {
		io.Closer

		// Size returns the storage size in bytes
		Size() int64

		// Grow extends the storage size up to the newSize. The newSize cannot
		// be less than the current Size()
		Grow(newSize int64) error

		// Buffer returns the direct slice of the underlying storage for the
		// offs and the size requested. If the region [offs..offs+size) lays
		// beyond the storage boundaries, the returned slice is truncated to
		// the storage end. The function returns an error if offs is out of
		// the storage bounds or the storage is closed.
		Buffer(offs int64, size int) ([]byte, error)
	}
)
