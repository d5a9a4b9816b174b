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

// LoadManager computes the load of a node and decides admission.
type LoadManager interface {
	// Load returns a value in [0,1].
	Load(n *Node) float64
	// Admits reports whether k more elements fit on n.
	Admits(n *Node, k int) bool
	// Capacity returns the maximum element count of a node.
	Capacity() int
}

// MaxElements loads a node by its element count over a fixed maximum.
type MaxElements int

var _ LoadManager = MaxElements(0)

func (m MaxElements) Load(n *Node) float64 {
	if m <= 0 {
		return 1
	}
	count := n.ElementCount()
	if count > int(m) {
		return 1
	}
	return float64(count) / float64(m)
}

func (m MaxElements) Admits(n *Node, k int) bool {
	return n.ElementCount()+k <= int(m)
}

func (m MaxElements) Capacity() int {
	return int(m)
}
