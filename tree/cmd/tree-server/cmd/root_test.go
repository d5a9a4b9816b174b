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

package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sigs.k8s.io/yaml"

	"mediatree.io/mediatree/pkg/test/util/assert"
	"mediatree.io/mediatree/tree/pkg/simulation"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := GetRootCmd(args)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func TestSimulate(t *testing.T) {
	dot := filepath.Join(t.TempDir(), "tree.dot")
	out, err := run(t, "simulate", "--usage", "cyclic", "--pool-size", "3", "--node-capacity", "10", "--dot", dot)
	assert.NoError(t, err)

	var report simulation.Report
	assert.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, report.Usage, "cyclic")
	if len(report.Steps) == 0 {
		t.Fatal("no steps recorded")
	}
	if report.MaxNodes != 3 {
		t.Errorf("fixed pool reported %d nodes", report.MaxNodes)
	}

	b, err := os.ReadFile(dot)
	assert.NoError(t, err)
	if !strings.HasPrefix(string(b), "digraph") {
		t.Errorf("unexpected topology file:\n%s", b)
	}
}

func TestSimulateYAML(t *testing.T) {
	out, err := run(t, "simulate", "-u", "n-sources-random", "--trees", "2", "-o", "yaml",
		"--strategy", "reserving", "--pool-mode", "minfree", "--pool-max-nodes", "4", "--node-capacity", "12")
	assert.NoError(t, err)

	var report simulation.Report
	assert.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.Equal(t, report.Usage, "n-sources-random")
}

func TestSimulateErrors(t *testing.T) {
	cases := [][]string{
		{"simulate", "--usage", "bogus"},
		{"simulate", "--output", "xml"},
		{"simulate", "--strategy", "bogus"},
		{"simulate", "--config", "/nonexistent/tree.yaml"},
	}
	for _, args := range cases {
		t.Run(strings.Join(args[1:], " "), func(t *testing.T) {
			_, err := run(t, args...)
			assert.Error(t, err)
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	assert.NoError(t, err)
	if !strings.Contains(out, "GolangVersion:") {
		t.Errorf("unexpected long form:\n%s", out)
	}

	out, err = run(t, "version", "--short")
	assert.NoError(t, err)
	assert.Equal(t, strings.Count(out, "\n"), 1)
}
