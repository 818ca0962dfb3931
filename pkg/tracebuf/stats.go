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

// Stats holds the buffer's monotonic counters. All fields are read-only to
// callers; TraceBuffer.Stats() returns a snapshot copy.
type Stats struct {
	// WriteWrapCount counts how many times the write cursor wrapped to 0.
	WriteWrapCount uint64
	// SucceededPatches counts successful MaybePatchChunkContents calls.
	SucceededPatches uint64
	// FailedPatches counts patch attempts rejected for a missing key or an
	// out-of-range offset.
	FailedPatches uint64
	// FragmentLookaheadSuccesses counts ReadAhead calls that found every
	// chunk needed to complete a fragmented packet.
	FragmentLookaheadSuccesses uint64
	// FragmentLookaheadFailures counts ReadAhead calls that hit a hole or
	// flag mismatch and had to give up on the current sequence.
	FragmentLookaheadFailures uint64
	// ChunksOverwritten counts non-padding chunks evicted to make room for new ones.
	ChunksOverwritten uint64
	// MalformedChunksDropped counts CopyChunkUntrusted calls rejected
	// outright (oversized chunk, or num_fragments == 0) without touching the ring.
	MalformedChunksDropped uint64
}
