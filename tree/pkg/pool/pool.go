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

// Package pool maintains the set of processing nodes trees are placed on.
//
// A Pool lists its nodes, optionally growing or shrinking before each listing
// according to its elasticity policy. The check and the listing form a single
// step under the pool mutex so that two callers never both decide to grow, and
// nobody observes the pool halfway through a shrink.
package pool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"mediatree.io/mediatree/pkg/log"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/monitoring"
)

var scope = log.RegisterScope("pool", "processing node pool")

// ErrEmptyPool is returned when a pool has no nodes to offer.
var ErrEmptyPool = errors.New("node pool is empty")

// NodeLoad pairs a node with the load observed during a listing.
type NodeLoad struct {
	Node *model.Node
	Load float64
}

// Listener is told about nodes entering and leaving a pool. Calls are made with
// the pool locked; listeners must not call back into the pool.
type Listener interface {
	NodeAdded(n *model.Node)
	NodeRemoved(n *model.Node)
}

// Retainer is an optional Listener extension that vetoes the removal of nodes
// it still holds state for.
type Retainer interface {
	Retains(n *model.Node) bool
}

// Pool is the node set the placement strategies depend on.
type Pool interface {
	// Nodes returns the nodes after applying the elasticity policy.
	Nodes() []*model.Node
	// LeastLoaded returns the node with the lowest load, ties broken by pool order.
	LeastLoaded() (*model.Node, error)
	// SortedByLoad returns the nodes in ascending load order, ties broken by pool order.
	SortedByLoad() []NodeLoad
	AddListener(l Listener)
	// Capacity is the element capacity of each node.
	Capacity() int
}

// NodeFactory builds a new processing node with the given label.
type NodeFactory func(label string) (*model.Node, error)

// policy adjusts the node list. It runs with the pool locked.
type policy func(b *base)

type base struct {
	mu        sync.Mutex
	nodes     []*model.Node
	listeners []Listener
	capacity  int
	factory   NodeFactory
	seq       int
	check     policy
}

func (b *base) Nodes() []*model.Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkLocked()
	return append([]*model.Node(nil), b.nodes...)
}

func (b *base) SortedByLoad() []NodeLoad {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkLocked()
	return b.sortedLocked()
}

func (b *base) LeastLoaded() (*model.Node, error) {
	sorted := b.SortedByLoad()
	if len(sorted) == 0 {
		return nil, ErrEmptyPool
	}
	return sorted[0].Node, nil
}

func (b *base) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
	for _, n := range b.nodes {
		l.NodeAdded(n)
	}
}

func (b *base) Capacity() int {
	return b.capacity
}

func (b *base) checkLocked() {
	if b.check != nil {
		b.check(b)
	}
}

func (b *base) sortedLocked() []NodeLoad {
	out := make([]NodeLoad, 0, len(b.nodes))
	for _, n := range b.nodes {
		l := n.Load()
		monitoring.NodeLoad.WithLabelValues(n.Label()).Set(l)
		out = append(out, NodeLoad{Node: n, Load: l})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Load < out[j].Load
	})
	return out
}

func (b *base) addLocked() (*model.Node, error) {
	label := fmt.Sprintf("node%d", b.seq)
	n, err := b.factory(label)
	if err != nil {
		return nil, fmt.Errorf("create node %s: %v", label, err)
	}
	b.seq++
	b.appendLocked(n)
	return n, nil
}

func (b *base) appendLocked(n *model.Node) {
	b.nodes = append(b.nodes, n)
	for _, l := range b.listeners {
		l.NodeAdded(n)
	}
	monitoring.PoolNodes.Set(float64(len(b.nodes)))
	monitoring.PoolNodeEvents.WithLabelValues("added").Inc()
	scope.Infof("added node %s, pool has %d nodes", n.Label(), len(b.nodes))
}

// removableLocked reports whether n can leave the pool, and retires it if so.
func (b *base) removableLocked(n *model.Node) bool {
	for _, l := range b.listeners {
		if r, ok := l.(Retainer); ok && r.Retains(n) {
			scope.Debugf("node %s retained by %T", n.Label(), l)
			return false
		}
	}
	return n.Retire()
}

// dropLocked releases a node that has already been taken out of b.nodes.
func (b *base) dropLocked(n *model.Node) {
	if err := n.Release(); err != nil {
		scope.Warnf("releasing node %s: %v", n.Label(), err)
	}
	for _, l := range b.listeners {
		l.NodeRemoved(n)
	}
	monitoring.NodeLoad.DeleteLabelValues(n.Label())
	monitoring.PoolNodes.Set(float64(len(b.nodes)))
	monitoring.PoolNodeEvents.WithLabelValues("removed").Inc()
	scope.Infof("removed node %s, pool has %d nodes", n.Label(), len(b.nodes))
}

func (b *base) removeLocked(n *model.Node) {
	for i, o := range b.nodes {
		if o == n {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			break
		}
	}
	b.dropLocked(n)
}
