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
	"cmp"
	"sort"
)

type (
	// Key identifies a chunk by the triple the index is ordered on:
	// (producer_id, writer_id, chunk_id). The ordering is lexicographic and
	// raw-unsigned on chunk_id - it does NOT account for chunk_id wrap.
	Key struct {
		ProducerID uint32
		WriterID   uint16
		ChunkID    uint32
	}

	// ChunkMeta is the index-side view of an ingested, non-padding chunk. The
	// in-ring ChunkRecord header remains the source of truth; ChunkMeta
	// duplicates the fields that the reader needs on every fragment access so
	// it doesn't have to re-decode the header each time.
	ChunkMeta struct {
		// ptr is the byte offset of the owning ChunkRecord inside the ring.
		ptr int
		// numFragments and flags are copied at insertion time.
		numFragments uint16
		flags        uint8
		// numFragmentsRead counts fragments the reader has already consumed.
		numFragmentsRead uint16
		// curPacketOffset is the offset of the next unread fragment within the payload.
		curPacketOffset uint32
	}

	pwKey struct {
		ProducerID uint32
		WriterID   uint16
	}

	indexEntry struct {
		key  Key
		meta *ChunkMeta
	}

	// chunkIndex is an ordered map Key -> *ChunkMeta, kept as a sorted slice
	// with binary-search insert/lookup/delete. The index stays small (one
	// entry per live chunk), so a sorted slice beats a tree here.
	chunkIndex struct {
		entries []indexEntry
	}
)

func compareKey(a, b Key) int {
	if c := cmp.Compare(a.ProducerID, b.ProducerID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.WriterID, b.WriterID); c != 0 {
		return c
	}
	return cmp.Compare(a.ChunkID, b.ChunkID)
}

// isChunkIDAhead returns true if a is "ahead" of b on the chunk_id wrap
// circle, treating the two 32-bit IDs as points on a circle and preferring
// whichever is ahead within a half-range. Used when updating the last-chunk
// map, so that chunk 0 arriving after chunk 2^32-1 still counts as newest.
func isChunkIDAhead(a, b uint32) bool {
	return int32(a-b) > 0
}

func newChunkIndex() *chunkIndex {
	return &chunkIndex{}
}

func (ix *chunkIndex) len() int {
	return len(ix.entries)
}

// search returns the position of the first entry whose key is >= key.
func (ix *chunkIndex) search(key Key) int {
	return sort.Search(len(ix.entries), func(i int) bool {
		return compareKey(ix.entries[i].key, key) >= 0
	})
}

func (ix *chunkIndex) get(key Key) (*ChunkMeta, bool) {
	i := ix.search(key)
	if i < len(ix.entries) && ix.entries[i].key == key {
		return ix.entries[i].meta, true
	}
	return nil, false
}

// upsert inserts meta at key, replacing any existing entry for the same key.
// A duplicate key means a buggy or malicious producer re-sent a chunk; the
// newest copy wins.
func (ix *chunkIndex) upsert(key Key, meta *ChunkMeta) {
	i := ix.search(key)
	if i < len(ix.entries) && ix.entries[i].key == key {
		ix.entries[i].meta = meta
		return
	}
	ix.entries = append(ix.entries, indexEntry{})
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = indexEntry{key: key, meta: meta}
}

// remove deletes the entry for key, if any, and reports whether it existed.
func (ix *chunkIndex) remove(key Key) bool {
	i := ix.search(key)
	if i >= len(ix.entries) || ix.entries[i].key != key {
		return false
	}
	copy(ix.entries[i:], ix.entries[i+1:])
	ix.entries = ix.entries[:len(ix.entries)-1]
	return true
}

func (ix *chunkIndex) at(i int) (Key, *ChunkMeta) {
	e := ix.entries[i]
	return e.key, e.meta
}

// sequenceEnd returns the index of the first entry, at or after begin, whose
// (ProducerID, WriterID) differs from the one at begin - i.e. the exclusive
// upper bound of the contiguous key range sharing that prefix.
func (ix *chunkIndex) sequenceEnd(begin int) int {
	if begin >= len(ix.entries) {
		return begin
	}
	pw := pwKey{ix.entries[begin].key.ProducerID, ix.entries[begin].key.WriterID}
	lo, hi := begin, len(ix.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		k := ix.entries[mid].key
		if (pwKey{k.ProducerID, k.WriterID}) == pw {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
