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
	"fmt"

	"mediatree.io/mediatree/tree/pkg/model"
)

// Fixed is a pool whose nodes are set once at construction.
type Fixed struct {
	base
}

var _ Pool = &Fixed{}

// NewFixed creates a pool over the given nodes, each holding capacity elements.
func NewFixed(capacity int, nodes ...*model.Node) *Fixed {
	f := &Fixed{}
	f.capacity = capacity
	for _, n := range nodes {
		f.appendLocked(n)
	}
	return f
}

// NewFixedFromFactory creates a fixed pool of size nodes built by factory.
func NewFixedFromFactory(capacity, size int, factory NodeFactory) (*Fixed, error) {
	if size <= 0 {
		return nil, fmt.Errorf("fixed pool needs at least one node, got %d", size)
	}
	f := &Fixed{}
	f.capacity = capacity
	f.factory = factory
	for i := 0; i < size; i++ {
		if _, err := f.addLocked(); err != nil {
			return nil, err
		}
	}
	return f, nil
}
