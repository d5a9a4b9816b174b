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

// MeanLoad is an elastic pool that grows by one node per check while the mean
// load of its busy nodes exceeds a threshold. Idle nodes are set aside at the
// start of each check; a set-aside node is recycled before a new node is
// requested, and only the ones not recycled are removed.
type MeanLoad struct {
	base
	threshold float64
	maxNodes  int
}

var _ Pool = &MeanLoad{}

// NewMeanLoad creates the pool with one node. maxNodes <= 0 means no limit.
func NewMeanLoad(capacity int, threshold float64, maxNodes int, factory NodeFactory) (*MeanLoad, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("mean load threshold %v must be within (0, 1]", threshold)
	}
	p := &MeanLoad{threshold: threshold, maxNodes: maxNodes}
	p.capacity = capacity
	p.factory = factory
	p.check = p.update

	if _, err := p.addLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *MeanLoad) update(b *base) {
	var (
		kept    []*model.Node
		aside   []*model.Node
		loadSum float64
		loaded  int
	)
	for i, n := range b.nodes {
		load := n.Load()
		remaining := len(b.nodes) - i - 1
		if load == 0 && len(kept)+remaining > 0 {
			aside = append(aside, n)
			continue
		}
		kept = append(kept, n)
		if load > 0 {
			loadSum += load
			loaded++
		}
	}
	b.nodes = kept

	// one node per check, recycled before requested
	if loaded > 0 && loadSum/float64(loaded) > p.threshold {
		mean := loadSum / float64(loaded)
		switch {
		case len(aside) > 0:
			n := aside[0]
			aside = aside[1:]
			b.nodes = append(b.nodes, n)
			scope.Debugf("recycling idle node %s", n.Label())
		case p.maxNodes > 0 && len(b.nodes) >= p.maxNodes:
			scope.Warnf("mean load %.2f over threshold but the pool is at its %d node limit", mean, p.maxNodes)
		default:
			scope.Infof("requesting new node for mean load %.2f", mean)
			if _, err := b.addLocked(); err != nil {
				scope.Errorf("growing pool: %v", err)
			}
		}
	}

	for _, n := range aside {
		if b.removableLocked(n) {
			b.dropLocked(n)
		} else {
			b.nodes = append(b.nodes, n)
		}
	}
}
