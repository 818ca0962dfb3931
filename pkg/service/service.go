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

// Package service exposes the tracing service facade on top of the trace
// buffer. The facade owns the exclusive-access guard around the buffer (the
// buffer itself is single-threaded by contract), hands out producer
// registrations and serves reassembled packets to sinks.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/borealisdb/borealis/golibs/container/lru"
	"github.com/borealisdb/borealis/golibs/errors"
	"github.com/borealisdb/borealis/golibs/logging"
	"github.com/borealisdb/borealis/golibs/timeout"
	"github.com/borealisdb/borealis/golibs/ulidutils"
	"github.com/borealisdb/borealis/pkg/tracebuf"
	"github.com/google/uuid"
)

type (
	// Config defines the Service settings
	Config struct {
		// RingSizeBytes is the trace ring size, must be a multiple of tracebuf.PageSize
		RingSizeBytes int
		// MaxProducers bounds the producer registry. The least recently
		// active producer is dropped when the bound is reached; a dropped
		// producer transparently re-registers on its next write, starting a
		// new sequence.
		MaxProducers int
		// StatsLogInterval defines how often the buffer counters are written
		// to the log. Zero disables the reporting.
		StatsLogInterval time.Duration
	}

	// Packet is one reassembled trace packet. Slices are the packet's
	// fragments in order; the payload is their byte-exact concatenation.
	Packet struct {
		// ID is the server-side correlation ID of the packet. IDs are
		// lexicographically ordered by the read time.
		ID string
		// Slices are direct references into the ring, valid only until the
		// next mutating call on the Service.
		Slices [][]byte
	}

	// Service is the tracing service component. It is wired into the linker
	// injector by the server and lives for the whole process lifetime.
	Service struct {
		cfg    Config
		logger logging.Logger

		lock      sync.Mutex
		buf       *tracebuf.TraceBuffer
		producers *lru.Cache[string, *producer]
		nextID    uint32
		statsF    timeout.Future
		closed    bool
	}

	// producer is the server-side registration of one trace producer. The
	// trusted numeric ID is allocated here and never taken from the wire.
	producer struct {
		id uint32
	}
)

// GetDefaultConfig returns the default service config
func GetDefaultConfig() Config {
	return Config{
		RingSizeBytes:    8 * 1024 * 1024,
		MaxProducers:     1024,
		StatsLogInterval: time.Minute,
	}
}

// NewService creates the new Service by the config provided
func NewService(cfg Config) *Service {
	return &Service{
		cfg:    cfg,
		logger: logging.NewLogger("service.Service"),
	}
}

// Init implements linker.Initializer
func (s *Service) Init(ctx context.Context) error {
	buf, err := tracebuf.New(s.cfg.RingSizeBytes)
	if err != nil {
		return fmt.Errorf("could not create the trace buffer: %w", err)
	}
	s.buf = buf

	s.producers, err = lru.NewCache(s.cfg.MaxProducers, func(token string) (*producer, error) {
		s.nextID++
		return &producer{id: s.nextID}, nil
	}, func(token string, p *producer) {
		s.logger.Debugf("producer %s (id=%d) dropped from the registry", token, p.id)
	})
	if err != nil {
		buf.Close()
		return err
	}

	if s.cfg.StatsLogInterval > 0 {
		s.statsF = timeout.Call(s.logStats, s.cfg.StatsLogInterval)
	}
	s.logger.Infof("initialized: ring=%d bytes, maxProducers=%d", s.cfg.RingSizeBytes, s.cfg.MaxProducers)
	return nil
}

// Shutdown implements linker.Shutdowner
func (s *Service) Shutdown() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.statsF != nil {
		s.statsF.Cancel()
	}
	s.producers.Clear()
	if err := s.buf.Close(); err != nil {
		s.logger.Warnf("could not close the trace buffer: %v", err)
	}
	s.logger.Infof("shut down")
}

// RegisterProducer allocates a new producer registration and returns its
// token. The token identifies the producer in all the following calls.
func (s *Service) RegisterProducer(ctx context.Context) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return "", errors.ErrClosed
	}
	token := uuid.NewString()
	p, err := s.producers.GetOrCreate(token)
	if err != nil {
		return "", errors.GRPCWrap(err)
	}
	s.logger.Infof("registered producer %s with id=%d", token, p.id)
	return token, nil
}

// IngestChunk copies one chunk written by the producer identified by token
// into the trace buffer. The payload may live in memory the producer still
// mutates; it is bulk-copied exactly once and never re-read. Malformed
// chunks are absorbed by the buffer and only reflected in the stats.
func (s *Service) IngestChunk(token string, writerID uint16, chunkID uint32, numFragments uint16, flags uint8, payload []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return errors.ErrClosed
	}
	p, err := s.producers.GetOrCreate(token)
	if err != nil {
		return errors.GRPCWrap(err)
	}
	s.buf.CopyChunkUntrusted(p.id, writerID, chunkID, numFragments, flags, payload)
	return nil
}

// PatchChunk backfills PatchLen pre-zeroed bytes of an already-ingested
// chunk at the offset provided. It returns false if the chunk was evicted or
// the offset is out of range.
func (s *Service) PatchChunk(token string, writerID uint16, chunkID uint32, offset uint32, patch [tracebuf.PatchLen]byte) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return false, errors.ErrClosed
	}
	p, err := s.producers.GetOrCreate(token)
	if err != nil {
		return false, errors.GRPCWrap(err)
	}
	return s.buf.MaybePatchChunkContents(p.id, writerID, chunkID, offset, patch), nil
}

// RestartRead resets the reader to the first sequence in the buffer
func (s *Service) RestartRead() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.buf.BeginRead()
}

// NextPacket returns the next reassembled packet, or ok == false if no
// packet is currently readable. The returned slices point into the ring and
// must be consumed before the next mutating call.
func (s *Service) NextPacket() (Packet, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return Packet{}, false
	}
	slices, ok := s.buf.ReadNextTracePacket()
	if !ok {
		return Packet{}, false
	}
	return Packet{ID: ulidutils.NewID(), Slices: slices}, true
}

// BufferStats returns the snapshot of the trace buffer counters
func (s *Service) BufferStats() tracebuf.Stats {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.buf.Stats()
}

func (s *Service) logStats() {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	stats := s.buf.Stats()
	s.statsF = timeout.Call(s.logStats, s.cfg.StatsLogInterval)
	s.lock.Unlock()
	s.logger.Infof("buffer stats: %+v", stats)
}
