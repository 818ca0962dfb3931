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
package main

import (
	"fmt"
	"os"
	"syscall"

	context2 "github.com/borealisdb/borealis/golibs/context"
	"github.com/borealisdb/borealis/golibs/logging"
	"github.com/borealisdb/borealis/pkg/server"
	"github.com/borealisdb/borealis/pkg/version"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	cmd := &cobra.Command{
		Use:   "borealis",
		Short: "Borealis tracing service",
		Long:  "Borealis ingests trace chunks from local producers, keeps them in a bounded in-memory ring and serves reassembled trace packets to sinks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the config file (JSON or YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: error, warn, info, debug or trace")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.BuildVersionString())
		},
	})

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	switch logLevel {
	case "error":
		logging.SetLevel(logging.ERROR)
	case "warn":
		logging.SetLevel(logging.WARN)
	case "info":
		logging.SetLevel(logging.INFO)
	case "debug":
		logging.SetLevel(logging.DEBUG)
	case "trace":
		logging.SetLevel(logging.TRACE)
	default:
		return fmt.Errorf("unknown log level %q", logLevel)
	}

	cfg, err := server.BuildConfig(cfgFile)
	if err != nil {
		return err
	}

	ctx := context2.NewSignalsContext(syscall.SIGINT, syscall.SIGTERM)
	return server.Run(ctx, cfg)
}
