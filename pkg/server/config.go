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

package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/borealisdb/borealis/golibs/config"
	"github.com/borealisdb/borealis/golibs/logging"
	"github.com/borealisdb/borealis/golibs/transport"
)

type (
	// Config defines the borealis server configuration
	Config struct {
		// GrpcTransport specifies grpc transport configuration
		GrpcTransport *transport.Config
		// RingSizeBytes specifies the trace ring size. Must be a multiple of
		// the page size (4096)
		RingSizeBytes int
		// MaxProducers bounds how many producer registrations are kept at a time
		MaxProducers int
		// StatsLogIntervalSec defines how often (in seconds) the buffer
		// counters are written to the log. 0 turns the reporting off
		StatsLogIntervalSec int
	}
)

// getDefaultConfig returns the default server config
func getDefaultConfig() *Config {
	return &Config{
		GrpcTransport:       transport.GetDefaultGRPCConfig(),
		RingSizeBytes:       8 * 1024 * 1024,
		MaxProducers:        1024,
		StatsLogIntervalSec: 60,
	}
}

func BuildConfig(cfgFile string) (*Config, error) {
	log := logging.NewLogger("borealis.ConfigBuilder")
	log.Infof("trying to build config. cfgFile=%s", cfgFile)
	e := config.NewEnricher(*getDefaultConfig())
	fe := config.NewEnricher(Config{})
	err := fe.LoadFromFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("could not read data from the file %s: %w", cfgFile, err)
	}
	// overwrite default
	_ = e.ApplyOther(fe)
	_ = e.ApplyEnvVariables("BOREALIS", "_")
	cfg := e.Value()
	return &cfg, nil
}

// StatsLogInterval returns the stats reporting interval as a time.Duration
func (c *Config) StatsLogInterval() time.Duration {
	return time.Duration(c.StatsLogIntervalSec) * time.Second
}

// String implements fmt.Stringify interface in a pretty console form
func (c *Config) String() string {
	b, _ := json.MarshalIndent(*c, "", "  ")
	return string(b)
}
