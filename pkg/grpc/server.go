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

// Package grpc contains the gRPC server component, which may be wired into
// the linker injector to serve the public endpoints of the process.
package grpc

import (
	"context"
	"fmt"

	"github.com/borealisdb/borealis/golibs/logging"
	"github.com/borealisdb/borealis/golibs/transport"
	"google.golang.org/grpc"
)

type (
	// RegisterF is called before the server starts to register the endpoints
	// the process exposes
	RegisterF func(gs *grpc.Server) error

	// Config defines the gRPC server settings
	Config struct {
		// Transport specifies the listener configuration
		Transport transport.Config
		// RegisterEndpoints is called with the grpc.Server before serving starts
		RegisterEndpoints RegisterF
	}

	// Server is the linker component which runs the gRPC server on the
	// transport provided. Init starts serving, Shutdown stops it gracefully.
	Server struct {
		cfg    Config
		gs     *grpc.Server
		logger logging.Logger
		doneCh chan struct{}
	}
)

// NewServer creates the new Server component by the config provided
func NewServer(cfg Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: logging.NewLogger("grpc.Server"),
	}
}

// Init implements linker.Initializer
func (s *Server) Init(ctx context.Context) error {
	lis, err := transport.NewServerListener(s.cfg.Transport)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", s.cfg.Transport.Addr(), err)
	}

	s.gs = grpc.NewServer()
	if s.cfg.RegisterEndpoints != nil {
		if err := s.cfg.RegisterEndpoints(s.gs); err != nil {
			lis.Close()
			return fmt.Errorf("could not register gRPC endpoints: %w", err)
		}
	}

	s.doneCh = make(chan struct{})
	go func() {
		defer close(s.doneCh)
		s.logger.Infof("serving gRPC requests on %s", s.cfg.Transport.Addr())
		if err := s.gs.Serve(lis); err != nil {
			s.logger.Warnf("gRPC server stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown implements linker.Shutdowner
func (s *Server) Shutdown() {
	if s.gs == nil {
		return
	}
	s.logger.Infof("stopping gRPC server")
	s.gs.GracefulStop()
	<-s.doneCh
	s.gs = nil
}
