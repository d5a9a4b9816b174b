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
	"sort"

	"mediatree.io/mediatree/tree/pkg/model"
)

// MinFreeSpace is an elastic pool that keeps at least MinFree admission slots
// available on the most loaded node that still has room. Before each listing:
// if no node has MinFree slots left a node is added; otherwise every idle node
// less loaded than the selected one is removed.
type MinFreeSpace struct {
	base
	minFree  int
	maxNodes int
}

var _ Pool = &MinFreeSpace{}

// NewMinFreeSpace creates the pool with one node. maxNodes <= 0 means no limit.
func NewMinFreeSpace(capacity, minFree, maxNodes int, factory NodeFactory) (*MinFreeSpace, error) {
	if minFree <= 0 || minFree > capacity {
		return nil, fmt.Errorf("min free space %d must be within (0, %d]", minFree, capacity)
	}
	p := &MinFreeSpace{minFree: minFree, maxNodes: maxNodes}
	p.capacity = capacity
	p.factory = factory
	p.check = p.update

	scope.Info("requesting first node of the min free space pool")
	if _, err := p.addLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

type nodeUsage struct {
	node  *model.Node
	count int
}

func (p *MinFreeSpace) update(b *base) {
	usages := make([]nodeUsage, 0, len(b.nodes))
	for _, n := range b.nodes {
		usages = append(usages, nodeUsage{node: n, count: n.ElementCount()})
	}
	sort.SliceStable(usages, func(i, j int) bool {
		return usages[i].count < usages[j].count
	})

	selected := -1
	for i := len(usages) - 1; i >= 0; i-- {
		if b.capacity-usages[i].count >= p.minFree {
			selected = i
			break
		}
	}

	if selected < 0 {
		if p.maxNodes > 0 && len(b.nodes) >= p.maxNodes {
			scope.Warnf("no node has %d free slots and the pool is at its %d node limit", p.minFree, p.maxNodes)
			return
		}
		scope.Infof("requesting new node because no node has %d free slots", p.minFree)
		if _, err := b.addLocked(); err != nil {
			scope.Errorf("growing pool: %v", err)
		}
		return
	}

	scope.Debugf("node %s is the most loaded node with %d free slots", usages[selected].node.Label(), p.minFree)
	for i := 0; i < selected; i++ {
		u := usages[i]
		if u.count == 0 && b.removableLocked(u.node) {
			scope.Infof("removing node %s because it is idle", u.node.Label())
			b.removeLocked(u.node)
		}
	}
}
