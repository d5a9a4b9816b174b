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

package pool

import (
	"errors"
	"fmt"

	"mediatree.io/mediatree/tree/pkg/model"
)

// ErrNodeRegistered is returned when a label is registered twice.
var ErrNodeRegistered = errors.New("node already registered")

// Registrar is a pool that nodes join by announcing themselves. It never adds
// or removes nodes on its own.
type Registrar struct {
	base
}

var _ Pool = &Registrar{}

// NewRegistrar creates a registrar pool holding the nodes named by labels. It
// may start empty.
func NewRegistrar(capacity int, factory NodeFactory, labels ...string) (*Registrar, error) {
	r := &Registrar{}
	r.capacity = capacity
	r.factory = factory
	for _, l := range labels {
		if _, err := r.Register(l); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register builds the node called label and adds it to the pool.
func (r *Registrar) Register(label string) (*model.Node, error) {
	if label == "" {
		return nil, errors.New("node label is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.nodes {
		if n.Label() == label {
			return nil, fmt.Errorf("%w: %s", ErrNodeRegistered, label)
		}
	}
	n, err := r.factory(label)
	if err != nil {
		return nil, fmt.Errorf("create node %s: %v", label, err)
	}
	r.appendLocked(n)
	return n, nil
}
