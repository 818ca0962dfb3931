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

// Package tracebuf implements the central trace buffer of the tracing
// service: a bounded, in-memory ring that ingests fixed-size chunks of
// serialized trace data written by untrusted producers, indexes them,
// allows out-of-band patching of in-flight chunks, and serves a reader that
// reconstructs logical packets - possibly fragmented across multiple chunks
// - in per-writer order.
//
// The buffer is single-threaded for mutation and reading: ingestion,
// patching and reading must be serialized by the caller. No internal locks
// are taken.
package tracebuf

import (
	"fmt"

	cbytes "github.com/borealisdb/borealis/golibs/container/bytes"
	"github.com/borealisdb/borealis/golibs/errors"
	"github.com/borealisdb/borealis/golibs/logging"
)

const (
	// PageSize is the unit New's size must be a multiple of. The ring is an
	// anonymous mapping, so it is page-aligned and the OS manages it in
	// whole pages.
	PageSize = 4096

	// PatchLen is the fixed patch length, equal to the packet-header bytes
	// producers leave zeroed in a committed chunk for late backfilling.
	PatchLen = 4

	// maxChunkMultiplier bounds max_chunk_size = min(size, 2^16 * headerSize),
	// so that the padding a wrap may require always fits in size_to_end().
	maxChunkMultiplier = 1 << 16
)

type (
	// TraceBuffer is the bounded, in-memory ring holding the most recently
	// ingested trace chunks. Zero value is not usable; construct with New.
	TraceBuffer struct {
		ring cbytes.Buffer
		size int
		// w is the write cursor, always a multiple of headerSize.
		w            int
		maxChunkSize int

		index     *chunkIndex
		lastChunk map[pwKey]uint32

		readIter    readIterator
		readIterSet bool

		stats  Stats
		logger logging.Logger
	}
)

// New creates a TraceBuffer with a ring of sizeBytes bytes. The ring is an
// anonymous page-aligned mapping, zero-filled and pre-faulted, so ingestion
// never stalls on a first-touch page fault. It fails if sizeBytes is zero or
// not a multiple of PageSize.
func New(sizeBytes int) (*TraceBuffer, error) {
	if sizeBytes <= 0 || sizeBytes%PageSize != 0 {
		return nil, fmt.Errorf("size=%d must be positive and a multiple of %d: %w", sizeBytes, PageSize, errors.ErrInvalid)
	}

	ring, err := cbytes.NewMappedBytes(sizeBytes, true)
	if err != nil {
		return nil, fmt.Errorf("could not allocate the ring of %d bytes: %w", sizeBytes, err)
	}

	tb := &TraceBuffer{
		ring:         ring,
		size:         sizeBytes,
		maxChunkSize: min(sizeBytes, maxChunkMultiplier*headerSize),
		index:        newChunkIndex(),
		lastChunk:    make(map[pwKey]uint32),
		logger:       logging.NewLogger("tracebuf.TraceBuffer"),
	}
	return tb, nil
}

// Close releases the ring mapping. The buffer must not be used afterwards.
func (tb *TraceBuffer) Close() error {
	tb.index = newChunkIndex()
	tb.lastChunk = map[pwKey]uint32{}
	return tb.ring.Close()
}

// Stats returns a read-only snapshot of the buffer's counters.
func (tb *TraceBuffer) Stats() Stats {
	return tb.stats
}

// sizeToEnd returns the number of bytes from w to the physical end of the ring.
func (tb *TraceBuffer) sizeToEnd() int {
	return tb.size - tb.w
}

// bufferAt maps a window of the ring for reading/writing. Offsets are
// always in [0, size) and bounded by the caller.
func (tb *TraceBuffer) bufferAt(offset, size int) []byte {
	buf, err := tb.ring.Buffer(int64(offset), size)
	if err != nil {
		tb.fatalf("ring corrupted: could not map [%d, %d): %v", offset, offset+size, err)
	}
	return buf
}

func (tb *TraceBuffer) headerAt(offset int) chunkRecordHeader {
	return decodeChunkRecordHeader(tb.bufferAt(offset, headerSize))
}

// writeChunkRecord writes header followed by payload at offset, zero-filling
// the remaining bytes up to header.size. The zero tail lets a reader-visible
// "packet length" field rely on zero-termination.
func (tb *TraceBuffer) writeChunkRecord(offset int, hdr chunkRecordHeader, payload []byte) {
	buf := tb.bufferAt(offset, int(hdr.size))
	hdr.encode(buf)
	n := copy(buf[headerSize:], payload)
	for i := headerSize + n; i < len(buf); i++ {
		buf[i] = 0
	}
}

// addPaddingRecord writes a padding header of size n at offset. It does not
// touch w - the caller is responsible for cursor bookkeeping.
func (tb *TraceBuffer) addPaddingRecord(offset, n int) {
	if n == 0 {
		return
	}
	hdr := chunkRecordHeader{size: uint32(n), isPadding: true}
	tb.writeChunkRecord(offset, hdr, nil)
}

// deleteNextChunksFor walks forward from w, evicting every non-padding
// record's index entry until it has consumed at least n bytes, and returns
// the over-scan (bytes beyond w+n) that must become trailing padding.
func (tb *TraceBuffer) deleteNextChunksFor(n int) int {
	walker := tb.w
	searchEnd := tb.w + n
	for walker < searchEnd {
		hdr := tb.headerAt(walker)
		if hdr.size == 0 {
			// Untouched zero tail: can only legitimately start exactly at w.
			if walker != tb.w {
				tb.fatalf("record chain broken: zero record at %d, expected only at write cursor %d", walker, tb.w)
			}
			return 0
		}
		if !hdr.isPadding {
			// A record whose index entry points elsewhere is a stale copy,
			// superseded by a duplicate ingestion of the same key. Only the
			// entry owning this offset may be dropped here.
			meta, ok := tb.index.get(hdr.key())
			if !ok {
				tb.fatalf("index out of sync with the ring: record %+v at offset %d has no index entry", hdr.key(), walker)
			}
			if meta.ptr == walker {
				tb.index.remove(hdr.key())
				tb.stats.ChunksOverwritten++
			} else {
				tb.logger.Debugf("skipping stale record %+v at offset %d during eviction", hdr.key(), walker)
			}
		}
		next := walker + int(hdr.size)
		if next > tb.size {
			tb.fatalf("record chain broken: record at %d with size %d overruns ring of size %d", walker, hdr.size, tb.size)
		}
		walker = next
	}
	return walker - searchEnd
}

// CopyChunkUntrusted ingests one chunk. producerID is trusted (injected
// server-side); everything else originates with the producer and is
// treated as hostile: payload is only ever bulk-copied, never re-read after
// the copy, and its length is validated before anything is written.
//
// Oversized chunks and num_fragments == 0 chunks are contract violations:
// they are dropped, counted, and never grow the ring.
func (tb *TraceBuffer) CopyChunkUntrusted(producerID uint32, writerID uint16, chunkID uint32, numFragments uint16, flags uint8, payload []byte) {
	if numFragments == 0 {
		tb.stats.MalformedChunksDropped++
		tb.logger.Warnf("dropping chunk {%d,%d,%d}: num_fragments == 0", producerID, writerID, chunkID)
		return
	}

	rounded := alignUp(len(payload)+headerSize, headerSize)
	if rounded > tb.maxChunkSize {
		tb.stats.MalformedChunksDropped++
		tb.logger.Warnf("dropping chunk {%d,%d,%d}: rounded size %d exceeds max chunk size %d", producerID, writerID, chunkID, rounded, tb.maxChunkSize)
		return
	}

	// Index positions held by the live read iterator shift on any
	// insert/evict below, so reading restarts from the index head on the
	// next ReadNextTracePacket. Consumed chunks stay consumed, so nothing is
	// returned twice.
	tb.readIterSet = false

	if rounded > tb.sizeToEnd() {
		pad := tb.sizeToEnd()
		tb.deleteNextChunksFor(pad)
		tb.addPaddingRecord(tb.w, pad)
		tb.w = 0
		tb.stats.WriteWrapCount++
	}

	paddingAfter := tb.deleteNextChunksFor(rounded)

	key := Key{ProducerID: producerID, WriterID: writerID, ChunkID: chunkID}
	meta := &ChunkMeta{ptr: tb.w, numFragments: numFragments, flags: flags}
	tb.index.upsert(key, meta)

	hdr := chunkRecordHeader{
		size:         uint32(rounded),
		producerID:   producerID,
		writerID:     writerID,
		chunkID:      chunkID,
		numFragments: numFragments,
		flags:        flags,
	}
	tb.writeChunkRecord(tb.w, hdr, payload)

	tb.w += rounded
	if tb.w == tb.size {
		tb.w = 0
		tb.stats.WriteWrapCount++
	}

	pw := pwKey{producerID, writerID}
	if last, ok := tb.lastChunk[pw]; !ok || isChunkIDAhead(chunkID, last) {
		tb.lastChunk[pw] = chunkID
	}

	if paddingAfter > 0 {
		tb.addPaddingRecord(tb.w, paddingAfter)
	}
}

// MaybePatchChunkContents overwrites PatchLen bytes at offsetUntrusted
// within an already-ingested chunk's payload, used to backfill deferred
// length fields. Returns false (and counts a failed patch) if the chunk was
// evicted or the offset is out of range.
func (tb *TraceBuffer) MaybePatchChunkContents(producerID uint32, writerID uint16, chunkID uint32, offsetUntrusted uint32, patch [PatchLen]byte) bool {
	key := Key{ProducerID: producerID, WriterID: writerID, ChunkID: chunkID}
	meta, ok := tb.index.get(key)
	if !ok {
		tb.stats.FailedPatches++
		return false
	}

	hdr := tb.headerAt(meta.ptr)
	payloadStart := meta.ptr + headerSize
	recordEnd := meta.ptr + int(hdr.size)
	target := payloadStart + int(offsetUntrusted)
	if target < payloadStart || target+PatchLen > recordEnd {
		tb.stats.FailedPatches++
		return false
	}

	buf := tb.bufferAt(target, PatchLen)
	if !isAllZero(buf) {
		tb.logger.Warnf("patching non-zero bytes for chunk {%d,%d,%d} at offset %d: wrong offset or already patched", producerID, writerID, chunkID, offsetUntrusted)
	}
	copy(buf, patch[:])
	tb.stats.SucceededPatches++
	return true
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// fatalf reports a self-consistency violation (broken record chain, index
// disagreement with the ring) and aborts. The server owns the ring, so any
// inconsistency is a bug in the buffer itself, never producer behavior to
// absorb.
func (tb *TraceBuffer) fatalf(format string, args ...interface{}) {
	tb.logger.Errorf(format, args...)
	panic(fmt.Sprintf(format, args...))
}
