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
	"fmt"
	"sync"
)

// Node is a capacity bounded media processing host. It owns the pipelines built
// on it and reports its load through a LoadManager.
type Node struct {
	label  string
	driver Driver
	load   LoadManager

	mu        sync.RWMutex
	pipelines []*Pipeline
	retired   bool
}

// NewNode creates a node backed by driver. A nil LoadManager is not allowed.
func NewNode(label string, driver Driver, lm LoadManager) *Node {
	return &Node{
		label:  label,
		driver: driver,
		load:   lm,
	}
}

func (n *Node) Label() string {
	return n.label
}

func (n *Node) String() string {
	return n.label
}

// Pipelines returns a snapshot of the node's pipelines.
func (n *Node) Pipelines() []*Pipeline {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*Pipeline(nil), n.pipelines...)
}

// ElementCount returns the number of Terminals and Links across all pipelines.
func (n *Node) ElementCount() int {
	count := 0
	for _, p := range n.Pipelines() {
		count += p.Len()
	}
	return count
}

// Load returns the node load in [0,1].
func (n *Node) Load() float64 {
	return n.load.Load(n)
}

// AllowMoreElements reports whether one more element fits on the node.
func (n *Node) AllowMoreElements() bool {
	return n.load.Admits(n, 1)
}

// Admits reports whether k more elements fit on the node.
func (n *Node) Admits(k int) bool {
	return n.load.Admits(n, k)
}

// Capacity returns the number of elements the node can hold.
func (n *Node) Capacity() int {
	return n.load.Capacity()
}

// CreatePipeline creates an empty pipeline. It only fails if the node has been
// retired or the media plane rejects the request.
func (n *Node) CreatePipeline(label string) (*Pipeline, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.retired {
		return nil, fmt.Errorf("%w: %s", ErrNodeRetired, n.label)
	}
	media, err := n.driver.CreatePipeline(label)
	if err != nil {
		return nil, collaboratorError("create pipeline", err)
	}
	p := newPipeline(n, label, media)
	n.pipelines = append(n.pipelines, p)
	scope.Debugf("created %v", p)
	return p, nil
}

func (n *Node) removePipeline(p *Pipeline) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, o := range n.pipelines {
		if o == p {
			n.pipelines = append(n.pipelines[:i], n.pipelines[i+1:]...)
			return
		}
	}
}

// Retire marks an idle node as retired so that no further pipelines are created
// on it. It returns false, leaving the node untouched, if it owns any pipeline.
func (n *Node) Retire() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pipelines) > 0 {
		return false
	}
	n.retired = true
	return true
}

// Retired reports whether Retire succeeded on the node.
func (n *Node) Retired() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.retired
}

// Release shuts the media plane down.
func (n *Node) Release() error {
	if err := n.driver.Close(); err != nil {
		return collaboratorError("close node "+n.label, err)
	}
	return nil
}
