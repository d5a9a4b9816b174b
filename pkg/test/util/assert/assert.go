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

// Package assert holds the small set of go-cmp based assertions used across
// the tree server tests.
package assert

import (
	"errors"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Failer is the subset of testing.TB the assertions need.
type Failer interface {
	Fatalf(format string, args ...any)
	Helper()
}

// Equal fails the test if a and b differ. Empty and nil slices or maps compare equal.
func Equal(t Failer, a, b any, context ...string) {
	t.Helper()
	if !cmp.Equal(a, b, cmpopts.EquateEmpty()) {
		cs := ""
		if len(context) > 0 {
			cs = " " + strings.Join(context, ", ") + ":"
		}
		t.Fatalf("found diff:%s %v", cs, cmp.Diff(a, b, cmpopts.EquateEmpty()))
	}
}

func Error(t Failer, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error but got nil")
	}
}

// ErrorIs fails the test unless errors.Is(err, target).
func ErrorIs(t Failer, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected error %v but got: %v", target, err)
	}
}

func NoError(t Failer, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected no error but got: %v", err)
	}
}
