// Copyright 2024 The Borealis Authors
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
package tracebuf

import (
	"bytes"
	"testing"

	"github.com/borealisdb/borealis/golibs/errors"
	"github.com/stretchr/testify/assert"
)

// assertInvariants walks the whole buffer and checks the properties every
// public call must preserve: the record chain covers the ring (or ends at
// the untouched zero tail), the write cursor is aligned, and every index
// entry points at a non-padding record carrying its own key.
func assertInvariants(t *testing.T, tb *TraceBuffer) {
	t.Helper()

	off := 0
	for off < tb.size {
		hdr := tb.headerAt(off)
		if hdr.size == 0 {
			assert.Equal(t, tb.w, off, "zero tail must begin exactly at the write cursor")
			break
		}
		off += int(hdr.size)
	}
	assert.LessOrEqual(t, off, tb.size)

	assert.Equal(t, 0, tb.w%headerSize)
	assert.True(t, tb.w >= 0 && tb.w < tb.size)

	for i := 0; i < tb.index.len(); i++ {
		k, m := tb.index.at(i)
		hdr := tb.headerAt(m.ptr)
		assert.False(t, hdr.isPadding)
		assert.Equal(t, k, hdr.key())
		assert.LessOrEqual(t, m.numFragmentsRead, m.numFragments)
	}
}

func TestNewRejectsBadSizes(t *testing.T) {
	_, err := New(0)
	assert.True(t, errors.Is(err, errors.ErrInvalid))

	_, err = New(100)
	assert.True(t, errors.Is(err, errors.ErrInvalid))

	tb, err := New(PageSize)
	assert.NoError(t, err)
	assert.NotNil(t, tb)
}

func TestCopyChunkUntrustedBasic(t *testing.T) {
	tb, err := New(PageSize)
	assert.NoError(t, err)

	payload := []byte("hello-world")
	tb.CopyChunkUntrusted(1, 2, 0, 1, FlagFirstContinuesFromPrev, payload)

	meta, ok := tb.index.get(Key{ProducerID: 1, WriterID: 2, ChunkID: 0})
	assert.True(t, ok)
	assert.EqualValues(t, 0, meta.ptr)
	assert.EqualValues(t, 1, meta.numFragments)
	assert.Equal(t, FlagFirstContinuesFromPrev, meta.flags)

	hdr := tb.headerAt(0)
	assert.False(t, hdr.isPadding)
	assert.EqualValues(t, 1, hdr.producerID)
	assert.EqualValues(t, 2, hdr.writerID)
	assert.EqualValues(t, 0, hdr.chunkID)

	rounded := alignUp(len(payload)+headerSize, headerSize)
	assert.EqualValues(t, rounded, hdr.size)
	assert.Equal(t, rounded, tb.w)

	got := tb.bufferAt(headerSize, len(payload))
	assert.True(t, bytes.Equal(payload, got))

	assert.EqualValues(t, 0, tb.lastChunk[pwKey{1, 2}])

	assertInvariants(t, tb)
}

func TestCopyChunkUntrustedDropsZeroFragmentChunk(t *testing.T) {
	tb, _ := New(PageSize)
	tb.CopyChunkUntrusted(1, 1, 0, 0, 0, []byte("x"))

	assert.EqualValues(t, 1, tb.Stats().MalformedChunksDropped)
	assert.Equal(t, 0, tb.index.len())
	assert.Equal(t, 0, tb.w)
}

func TestCopyChunkUntrustedDropsOversizedChunk(t *testing.T) {
	tb, _ := New(PageSize)
	huge := make([]byte, tb.maxChunkSize)
	tb.CopyChunkUntrusted(1, 1, 0, 1, 0, huge)

	assert.EqualValues(t, 1, tb.Stats().MalformedChunksDropped)
	assert.Equal(t, 0, tb.index.len())
}

func TestCopyChunkUntrustedDuplicateKeyReplaces(t *testing.T) {
	tb, _ := New(PageSize)
	tb.CopyChunkUntrusted(1, 1, 0, 1, 0, []byte("first"))
	tb.CopyChunkUntrusted(1, 1, 0, 2, 0, []byte("second"))

	assert.Equal(t, 1, tb.index.len())
	meta, ok := tb.index.get(Key{1, 1, 0})
	assert.True(t, ok)
	assert.EqualValues(t, 2, meta.numFragments)

	assertInvariants(t, tb)
}

func TestCopyChunkUntrustedWrapsAndEvictsOldChunks(t *testing.T) {
	tb, err := New(PageSize)
	assert.NoError(t, err)

	payload := make([]byte, 20) // rounds to headerSize*2 = 64 bytes per chunk.
	iterations := PageSize/64 + 5
	for i := 0; i < iterations; i++ {
		tb.CopyChunkUntrusted(1, 1, uint32(i), 1, 0, payload)
	}

	assert.GreaterOrEqual(t, tb.Stats().WriteWrapCount, uint64(1))
	assert.GreaterOrEqual(t, tb.Stats().ChunksOverwritten, uint64(1))

	_, ok := tb.index.get(Key{1, 1, 0})
	assert.False(t, ok, "oldest chunk must have been evicted by the wrap")

	last, ok := tb.index.get(Key{1, 1, uint32(iterations - 1)})
	assert.True(t, ok)
	assert.NotNil(t, last)

	assert.EqualValues(t, iterations-1, tb.lastChunk[pwKey{1, 1}])

	assertInvariants(t, tb)
}

func TestMaybePatchChunkContentsSuccess(t *testing.T) {
	tb, _ := New(PageSize)
	payload := make([]byte, 16) // leading PatchLen bytes left zero for the patch.
	tb.CopyChunkUntrusted(1, 1, 0, 1, 0, payload)

	var patch [PatchLen]byte
	copy(patch[:], []byte{1, 2, 3, 4})

	ok := tb.MaybePatchChunkContents(1, 1, 0, 0, patch)
	assert.True(t, ok)
	assert.EqualValues(t, 1, tb.Stats().SucceededPatches)

	got := tb.bufferAt(headerSize, PatchLen)
	assert.True(t, bytes.Equal(patch[:], got))
}

func TestMaybePatchChunkContentsFailsForUnknownChunk(t *testing.T) {
	tb, _ := New(PageSize)
	var patch [PatchLen]byte
	ok := tb.MaybePatchChunkContents(1, 1, 0, 0, patch)
	assert.False(t, ok)
	assert.EqualValues(t, 1, tb.Stats().FailedPatches)
}

func TestMaybePatchChunkContentsFailsForOutOfRangeOffset(t *testing.T) {
	tb, _ := New(PageSize)
	payload := make([]byte, 8)
	tb.CopyChunkUntrusted(1, 1, 0, 1, 0, payload)

	var patch [PatchLen]byte
	ok := tb.MaybePatchChunkContents(1, 1, 0, 1000, patch)
	assert.False(t, ok)
	assert.EqualValues(t, 1, tb.Stats().FailedPatches)
}

func TestCopyChunkExactFitWrapsWithoutPadding(t *testing.T) {
	tb, _ := New(PageSize)

	// two chunks of PageSize/2 each fill the ring to the byte
	payload := make([]byte, PageSize/2-headerSize)
	tb.CopyChunkUntrusted(1, 1, 0, 1, 0, payload)
	tb.CopyChunkUntrusted(1, 1, 1, 1, 0, payload)

	assert.Equal(t, 0, tb.w)
	assert.EqualValues(t, 1, tb.Stats().WriteWrapCount)
	assert.Equal(t, 2, tb.index.len())

	// no padding record anywhere: the chain is chunk0 then chunk1
	assert.False(t, tb.headerAt(0).isPadding)
	assert.False(t, tb.headerAt(PageSize/2).isPadding)

	assertInvariants(t, tb)
}

func TestCopyChunkStraddlingEndPadsAndWraps(t *testing.T) {
	tb, _ := New(PageSize)

	first := make([]byte, PageSize/2-headerSize)
	tb.CopyChunkUntrusted(1, 1, 0, 1, 0, first)

	// one byte too large for the remaining half: the tail becomes padding,
	// the write wraps to 0 and evicts chunk 0
	second := make([]byte, PageSize/2-headerSize+1)
	tb.CopyChunkUntrusted(1, 1, 1, 1, 0, second)

	assert.EqualValues(t, 1, tb.Stats().WriteWrapCount)
	assert.EqualValues(t, 1, tb.Stats().ChunksOverwritten)

	_, ok := tb.index.get(Key{1, 1, 0})
	assert.False(t, ok)
	meta, ok := tb.index.get(Key{1, 1, 1})
	assert.True(t, ok)
	assert.Equal(t, 0, meta.ptr)

	// the over-scan past the new chunk is covered by a trailing padding record
	rounded := alignUp(len(second)+headerSize, headerSize)
	assert.Equal(t, rounded, tb.w)
	tail := tb.headerAt(rounded)
	assert.True(t, tail.isPadding)
	assert.EqualValues(t, PageSize-rounded, tail.size)

	assertInvariants(t, tb)
}

func TestClose(t *testing.T) {
	tb, _ := New(PageSize)
	tb.CopyChunkUntrusted(1, 1, 0, 1, 0, []byte("x"))
	assert.NoError(t, tb.Close())
	assert.Error(t, tb.Close())
}
