// Copyright Istio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version carries the build information stamped into binaries with
//
//	go build -ldflags "-X mediatree.io/mediatree/pkg/version.buildVersion=1.2.0 ..."
package version

import (
	"fmt"
	"runtime"
)

var (
	buildVersion     = "unknown"
	buildGitRevision = "unknown"
	buildStatus      = "unknown"
)

// BuildInfo describes the binary.
type BuildInfo struct {
	Version     string `json:"version"`
	GitRevision string `json:"revision"`
	BuildStatus string `json:"status"`
}

// Info is the build information of the running binary.
var Info BuildInfo

func init() {
	Info = BuildInfo{
		Version:     buildVersion,
		GitRevision: buildGitRevision,
		BuildStatus: buildStatus,
	}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("version: %s (build: %s, status: %s)", b.Version, b.GitRevision, b.BuildStatus)
}

// LongForm returns a multi-line description, including the Go runtime.
func (b BuildInfo) LongForm() string {
	return fmt.Sprintf("Version: %v\nGitRevision: %v\nBuildStatus: %v\nGolangVersion: %v\n",
		b.Version, b.GitRevision, b.BuildStatus, runtime.Version())
}

// Line is a single line suitable for logs.
func Line() string {
	return Info.String()
}
