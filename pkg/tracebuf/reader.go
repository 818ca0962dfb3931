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
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

type (
	// readIterator scopes a read to a single (producer, writer) sequence:
	// begin/end bound the sequence's contiguous key range in the index, cur
	// is the current position, wrappingID is the sequence's newest chunk_id.
	// cur == end means exhausted.
	readIterator struct {
		begin, end, cur int
		wrappingID      uint32
	}

	fragmentAction  int
	lookAheadResult int
)

const (
	fragmentSkip fragmentAction = iota
	fragmentRead
	fragmentLookahead
)

const (
	lookAheadSuccess lookAheadResult = iota
	lookAheadFailNextSequence
	lookAheadFailStaySequence
)

func (it readIterator) valid() bool {
	return it.cur != it.end
}

// BeginRead resets the read iterator to the first sequence in the index.
func (tb *TraceBuffer) BeginRead() {
	tb.readIter = tb.iterForSequence(0)
	tb.readIterSet = true
}

// iterForSequence builds the read iterator for the sequence whose first
// entry is at index position begin.
func (tb *TraceBuffer) iterForSequence(begin int) readIterator {
	if begin >= tb.index.len() {
		return readIterator{begin: begin, end: begin, cur: begin}
	}

	end := tb.index.sequenceEnd(begin)
	k0, _ := tb.index.at(begin)
	pw := pwKey{k0.ProducerID, k0.WriterID}
	wrappingID, ok := tb.lastChunk[pw]
	if !ok {
		tb.fatalf("no last-chunk entry for sequence (producer=%d, writer=%d) despite an index entry existing", pw.ProducerID, pw.WriterID)
	}

	// The starting chunk is the first key in [begin, end) with chunk_id
	// strictly greater than wrappingID (raw unsigned compare); if none, begin.
	n := end - begin
	off := sort.Search(n, func(i int) bool {
		k, _ := tb.index.at(begin + i)
		return k.ChunkID > wrappingID
	})
	cur := begin + off
	if cur == end {
		cur = begin
	}
	return readIterator{begin: begin, end: end, cur: cur, wrappingID: wrappingID}
}

// moveNext advances it by one chunk within its sequence, wrapping from end
// back to begin once, and marking the iterator exhausted (cur == end) once
// the chunk carrying wrappingID has been consumed.
func (tb *TraceBuffer) moveNext(it *readIterator) {
	if it.cur == it.end {
		return
	}
	k, _ := tb.index.at(it.cur)
	if k.ChunkID == it.wrappingID {
		it.cur = it.end
		return
	}
	it.cur++
	if it.cur == it.end {
		it.cur = it.begin
	}
}

// classifyFragment decides how the next unread fragment of meta must be
// handled: skipped (orphaned continuation), read in place, or completed by
// looking ahead into the following chunks.
func (tb *TraceBuffer) classifyFragment(meta *ChunkMeta) fragmentAction {
	if meta.numFragmentsRead == 0 {
		if meta.flags&FlagFirstContinuesFromPrev != 0 {
			return fragmentSkip
		}
		if meta.numFragments == 1 && meta.flags&FlagLastContinuesOnNext != 0 {
			return fragmentLookahead
		}
		return fragmentRead
	}
	if meta.numFragmentsRead < meta.numFragments-1 || meta.flags&FlagLastContinuesOnNext == 0 {
		return fragmentRead
	}
	return fragmentLookahead
}

// readNextPacketInChunk parses one varint-length-prefixed fragment at
// meta.curPacketOffset, advances meta's read state, and - when out is
// non-nil - appends the fragment's bytes as one slice. It returns false
// (without pushing) both for a genuinely corrupt fragment (in which case the
// whole chunk is drained: numFragmentsRead is forced to numFragments) and
// for a structurally valid zero-length fragment.
func (tb *TraceBuffer) readNextPacketInChunk(meta *ChunkMeta, out *[][]byte) bool {
	hdr := tb.headerAt(meta.ptr)
	recordEnd := meta.ptr + int(hdr.size)
	payloadBegin := meta.ptr + headerSize
	packetBegin := payloadBegin + int(meta.curPacketOffset)

	if packetBegin < payloadBegin || packetBegin >= recordEnd {
		meta.curPacketOffset = 0
		meta.numFragmentsRead = meta.numFragments
		return false
	}

	window := tb.bufferAt(packetBegin, recordEnd-packetBegin)
	length, n := protowire.ConsumeVarint(window)
	if n < 0 {
		meta.curPacketOffset = 0
		meta.numFragmentsRead = meta.numFragments
		return false
	}

	dataPtr := packetBegin + n
	next := dataPtr + int(length)
	if next <= packetBegin || next > recordEnd {
		meta.curPacketOffset = 0
		meta.numFragmentsRead = meta.numFragments
		return false
	}

	meta.curPacketOffset = uint32(next - payloadBegin)
	meta.numFragmentsRead++

	if length == 0 {
		return false
	}
	if out != nil {
		*out = append(*out, tb.bufferAt(dataPtr, int(length)))
	}
	return true
}

// ReadNextTracePacket returns the next reassembled packet as a list of byte
// slices, or false if nothing is currently readable. It clears its output
// on every call (the returned slice is a fresh one, never reused).
func (tb *TraceBuffer) ReadNextTracePacket() ([][]byte, bool) {
	if !tb.readIterSet {
		tb.BeginRead()
	}

	for {
		if !tb.readIter.valid() {
			if tb.readIter.end >= tb.index.len() {
				return nil, false
			}
			tb.readIter = tb.iterForSequence(tb.readIter.end)
		}

		_, meta := tb.index.at(tb.readIter.cur)
		var out [][]byte
		for meta.numFragmentsRead < meta.numFragments {
			switch tb.classifyFragment(meta) {
			case fragmentSkip:
				// Orphaned fragment: the predecessor chunk was evicted. Lost forever.
				tb.readNextPacketInChunk(meta, nil)
				continue
			case fragmentRead:
				if tb.readNextPacketInChunk(meta, &out) {
					return out, true
				}
			case fragmentLookahead:
				switch tb.readAhead(&out) {
				case lookAheadSuccess:
					tb.stats.FragmentLookaheadSuccesses++
					return out, true
				case lookAheadFailNextSequence:
					tb.stats.FragmentLookaheadFailures++
					tb.readIter.cur = tb.readIter.end
				case lookAheadFailStaySequence:
					// Corrupt span. readIter.cur was already advanced, by the
					// replay inside readAhead, to the span's terminating chunk;
					// keep trying further chunks of this sequence.
				}
			}
			break
		}
		tb.moveNext(&tb.readIter)
	}
}

// readAhead looks for the chunks that complete the packet started by the
// fragment at tb.readIter.cur, walking forward within the same sequence.
// On success it replays the confirmed span - from tb.readIter.cur up to and
// including the terminating chunk - appending one slice per chunk to out and
// leaving tb.readIter positioned at the terminating chunk.
func (tb *TraceBuffer) readAhead(out *[][]byte) lookAheadResult {
	curKey, _ := tb.index.at(tb.readIter.cur)
	nextChunkID := curKey.ChunkID + 1

	it := tb.readIter
	tb.moveNext(&it)
	for it.valid() {
		k, m := tb.index.at(it.cur)

		if m.numFragments == 0 {
			tb.moveNext(&it)
			nextChunkID++
			continue
		}

		if k.ChunkID != nextChunkID || m.flags&FlagFirstContinuesFromPrev == 0 {
			return lookAheadFailNextSequence
		}

		if m.numFragments == 1 && m.flags&FlagLastContinuesOnNext != 0 {
			// Pass-through middle chunk of a large packet: keep looking.
			tb.moveNext(&it)
			nextChunkID++
			continue
		}

		// it now holds the terminating chunk. Replay [readIter.cur, it.cur],
		// mutating tb.readIter in place as we go.
		corruption := false
		for {
			_, rm := tb.index.at(tb.readIter.cur)
			if rm.numFragments > 0 {
				if !tb.readNextPacketInChunk(rm, out) {
					corruption = true
				}
			}
			if tb.readIter.cur == it.cur {
				break
			}
			tb.moveNext(&tb.readIter)
		}

		if corruption {
			*out = (*out)[:0]
			return lookAheadFailStaySequence
		}
		return lookAheadSuccess
	}
	return lookAheadFailNextSequence
}
