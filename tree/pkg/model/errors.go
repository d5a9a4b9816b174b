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

package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTree is returned for operations on a tree id that is not registered,
	// including ids of released trees.
	ErrUnknownTree = errors.New("unknown tree")

	// ErrTreeExists is returned when a single-tree manager is asked to create a second tree.
	ErrTreeExists = errors.New("tree already exists")

	// ErrCapacityExhausted is returned when no node can admit the requested elements.
	ErrCapacityExhausted = errors.New("capacity exhausted")

	// ErrInvalidTopology is returned for operations that would break the element graph,
	// such as connecting elements of different pipelines or linking a Link twice.
	ErrInvalidTopology = errors.New("invalid topology operation")

	// ErrNotSupported is an invalid topology operation that a placement strategy refuses.
	ErrNotSupported = fmt.Errorf("%w: not currently supported", ErrInvalidTopology)

	// ErrLedgerInconsistent signals a bookkeeping bug: reserved holes and live elements disagree.
	ErrLedgerInconsistent = errors.New("capacity ledger inconsistent")

	// ErrCollaborator wraps failures reported by the media processing node.
	ErrCollaborator = errors.New("processing node failure")

	// ErrNodeRetired is returned when creating a pipeline on a node its pool has dropped.
	ErrNodeRetired = errors.New("node retired")
)

func collaboratorError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCollaborator, op, err)
}
