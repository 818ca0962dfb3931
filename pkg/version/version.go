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

// Package version holds the build information stamped in via -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version of the build, set by the build pipeline
	Version = "v0.0.0-dev"
	// GitCommit is the commit hash the binary was built from
	GitCommit = "unknown"
	// BuildDate is the UTC timestamp of the build
	BuildDate = "unknown"
)

// BuildVersionString returns the human-readable build identification
func BuildVersionString() string {
	return fmt.Sprintf("%s (commit=%s, built=%s)", Version, GitCommit, BuildDate)
}
