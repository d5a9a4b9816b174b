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

package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, o *Options, fn func()) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.log")
	o.OutputPaths = []string{path}
	if err := Configure(o); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	t.Cleanup(func() { _ = Configure(DefaultOptions()) })

	fn()
	_ = Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unable to read output: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestScopeLevels(t *testing.T) {
	s := RegisterScope("testlevels", "")
	o := DefaultOptions()
	o.SetOutputLevel("testlevels", WarnLevel)

	lines := captureOutput(t, o, func() {
		s.Debug("debug")
		s.Info("info")
		s.Warn("warn")
		s.Errorf("error %d", 1)
	})

	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "warn") || !strings.Contains(lines[1], "error 1") {
		t.Errorf("unexpected output: %v", lines)
	}
}

func TestWithLabelsJSON(t *testing.T) {
	s := RegisterScope("testlabels", "")
	o := DefaultOptions()
	o.JSONEncoding = true

	lines := captureOutput(t, o, func() {
		s.WithLabels("tree", "t1", "node", 3).Info("placed")
	})

	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %v", lines)
	}
	m := map[string]any{}
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if m["scope"] != "testlabels" || m["tree"] != "t1" || m["node"] != float64(3) || m["msg"] != "placed" {
		t.Errorf("unexpected fields: %v", m)
	}
}

func TestWithLabelsOddArgs(t *testing.T) {
	s := RegisterScope("testodd", "").WithLabels("lonely")
	if _, ok := s.labels["WithLabels error"]; !ok {
		t.Errorf("expected label error to be recorded")
	}
}

func TestOptionsOutputLevel(t *testing.T) {
	o := DefaultOptions()
	o.SetOutputLevel("foo", DebugLevel)
	o.SetOutputLevel(DefaultScopeName, ErrorLevel)

	l, err := o.GetOutputLevel("foo")
	if err != nil || l != DebugLevel {
		t.Errorf("got %v, %v; want debug", l, err)
	}
	l, err = o.GetOutputLevel(DefaultScopeName)
	if err != nil || l != ErrorLevel {
		t.Errorf("got %v, %v; want error", l, err)
	}
	if _, err := o.GetOutputLevel("bar"); err == nil {
		t.Errorf("expected error for unknown scope")
	}
}

func TestUnknownScopeRejected(t *testing.T) {
	o := DefaultOptions()
	o.SetOutputLevel("doesnotexist", InfoLevel)
	if err := Configure(o); err == nil {
		t.Errorf("expected failure for unregistered scope")
	}
	_ = Configure(DefaultOptions())
}

func TestInvalidScopeName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic")
		}
	}()
	RegisterScope("a:b", "")
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	o := DefaultOptions()
	o.OutputPaths = nil
	o.RotateOutputPath = filepath.Join(dir, "rotated.log")
	if err := Configure(o); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = Configure(DefaultOptions()) }()

	Info("to the rotating file")
	_ = Sync()

	b, err := os.ReadFile(o.RotateOutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "to the rotating file") {
		t.Errorf("rotating file missing message: %q", string(b))
	}
}
