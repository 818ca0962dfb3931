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
package bytes

import (
	"fmt"

	"github.com/borealisdb/borealis/golibs/errors"
	"github.com/edsrzf/mmap-go"
)

type (
	// mappedBtsBuf implements Buffer on top of an anonymous memory-mapped
	// region. The mapping is page-aligned and released back to the OS on
	// Close, so big buffers don't put pressure on the Go heap.
	mappedBtsBuf struct {
		mf mmap.MMap
	}
)

var _ Buffer = (*mappedBtsBuf)(nil)

// NewMappedBytes creates the Buffer of the size provided on top of an
// anonymous memory mapping. The region is zero-filled by the OS. If
// preFault is true, every page is touched right away, so the caller will
// not pay the page-fault cost on the hot path later.
func NewMappedBytes(size int, preFault bool) (*mappedBtsBuf, error) {
	if size <= 0 {
		return nil, fmt.Errorf("the mapped region size=%d must be positive: %w", size, errors.ErrInvalid)
	}
	mf, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("could not map anonymous region of %d bytes: %w", size, err)
	}
	if preFault {
		for i := 0; i < len(mf); i += 4096 {
			mf[i] = 0
		}
	}
	return &mappedBtsBuf{mf: mf}, nil
}

// Close is part of Buffer interface
func (mb *mappedBtsBuf) Close() error {
	if mb.mf == nil {
		return errors.ErrClosed
	}
	err := mb.mf.Unmap()
	mb.mf = nil
	return err
}

// Size is part of Buffer interface
func (mb *mappedBtsBuf) Size() int64 {
	return int64(len(mb.mf))
}

// Grow is part of Buffer interface. The anonymous mapping is fixed-size,
// so growing is not supported.
func (mb *mappedBtsBuf) Grow(newSize int64) error {
	if mb.mf == nil {
		return errors.ErrClosed
	}
	return fmt.Errorf("an anonymous mapped region cannot be grown: %w", errors.ErrUnimplemented)
}

// Buffer is part of Buffer interface
func (mb *mappedBtsBuf) Buffer(offs int64, size int) ([]byte, error) {
	if mb.mf == nil {
		return nil, errors.ErrClosed
	}
	if offs < 0 || offs >= mb.Size() {
		return nil, fmt.Errorf("offs=%d is out of bounds [0..%d): %w", offs, mb.Size(), errors.ErrInvalid)
	}
	if offs+int64(size) > mb.Size() {
		size = int(mb.Size() - offs)
	}
	return mb.mf[int(offs) : int(offs)+size], nil
}

func (mb *mappedBtsBuf) String() string {
	return fmt.Sprintf("mappedBtsBuf:{size=%d}", mb.Size())
}
