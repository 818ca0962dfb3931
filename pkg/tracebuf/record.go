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

import "encoding/binary"

// chunkRecordHeader is the self-describing header written immediately
// before every chunk's payload in the ring. Layout is fixed width so it can
// be memcpy'd the way the producer-visible page+chunk header concatenation
// is. The reserved tail keeps the header a power of two: the header size
// doubles as the record alignment, and a page-sized ring must be a whole
// number of alignment units so a back-to-back record chain can end exactly
// at the ring's physical end.
type chunkRecordHeader struct {
	size         uint32
	producerID   uint32
	writerID     uint16
	chunkID      uint32
	numFragments uint16
	flags        uint8
	isPadding    bool
}

const (
	// headerSize is sizeof(ChunkRecord) == the record alignment A.
	headerSize = 32

	hdrOffSize         = 0
	hdrOffProducerID   = 4
	hdrOffWriterID     = 8
	hdrOffChunkID      = 10
	hdrOffNumFragments = 14
	hdrOffFlags        = 16
	hdrOffIsPadding    = 17

	// FlagFirstContinuesFromPrev (bit 0) marks a fragment that continues a
	// packet started in the previous chunk of the sequence.
	FlagFirstContinuesFromPrev uint8 = 1 << 0
	// FlagLastContinuesOnNext (bit 1) marks a fragment that continues into
	// the next chunk of the sequence.
	FlagLastContinuesOnNext uint8 = 1 << 1
)

// key returns the (producer, writer, chunk) triple this header identifies.
// Only meaningful for non-padding records.
func (h chunkRecordHeader) key() Key {
	return Key{ProducerID: h.producerID, WriterID: h.writerID, ChunkID: h.chunkID}
}

// encode writes the header fields into buf, which must be at least headerSize bytes.
func (h chunkRecordHeader) encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[hdrOffSize:], h.size)
	binary.BigEndian.PutUint32(buf[hdrOffProducerID:], h.producerID)
	binary.BigEndian.PutUint16(buf[hdrOffWriterID:], h.writerID)
	binary.BigEndian.PutUint32(buf[hdrOffChunkID:], h.chunkID)
	binary.BigEndian.PutUint16(buf[hdrOffNumFragments:], h.numFragments)
	buf[hdrOffFlags] = h.flags
	if h.isPadding {
		buf[hdrOffIsPadding] = 1
	} else {
		buf[hdrOffIsPadding] = 0
	}
	for i := hdrOffIsPadding + 1; i < headerSize; i++ {
		buf[i] = 0
	}
}

// decodeChunkRecordHeader reads a header out of buf, which must be at least headerSize bytes.
func decodeChunkRecordHeader(buf []byte) chunkRecordHeader {
	return chunkRecordHeader{
		size:         binary.BigEndian.Uint32(buf[hdrOffSize:]),
		producerID:   binary.BigEndian.Uint32(buf[hdrOffProducerID:]),
		writerID:     binary.BigEndian.Uint16(buf[hdrOffWriterID:]),
		chunkID:      binary.BigEndian.Uint32(buf[hdrOffChunkID:]),
		numFragments: binary.BigEndian.Uint16(buf[hdrOffNumFragments:]),
		flags:        buf[hdrOffFlags],
		isPadding:    buf[hdrOffIsPadding] != 0,
	}
}

// alignUp rounds n up to the nearest multiple of a.
func alignUp(n, a int) int {
	if n%a == 0 {
		return n
	}
	return n + (a - n%a)
}
