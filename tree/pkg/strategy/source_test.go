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

package strategy_test

import (
	"testing"

	"mediatree.io/mediatree/pkg/test/util/assert"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/strategy"
)

// occupy takes count slots of n outside any tree.
func occupy(t *testing.T, n *model.Node, count int) *model.Pipeline {
	t.Helper()
	p, err := n.CreatePipeline("other")
	assert.NoError(t, err)
	for i := 0; i < count; i++ {
		_, err := p.CreateTerminal("other", nil)
		assert.NoError(t, err)
	}
	return p
}

func TestSourceAfterRemovalIsAdmitted(t *testing.T) {
	cases := []struct {
		name  string
		build func(c *cluster) strategy.Strategy
	}{
		{"single", func(c *cluster) strategy.Strategy { return strategy.NewSingleNode(c.pool) }},
		{"lexical", func(c *cluster) strategy.Strategy { return strategy.NewLexical(c.pool, 2) }},
		{"leastloaded", func(c *cluster) strategy.Strategy { return strategy.NewLeastLoadedFixed(c.pool) }},
		{"elastic", func(c *cluster) strategy.Strategy { return strategy.NewLeastLoadedElastic(c.pool) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCluster(1, 2)
			r := strategy.NewRegistry(tc.build(c), nil)
			id := newTree(t, r)
			addSink(t, r, id)
			assert.NoError(t, r.RemoveTreeSource(id))
			assert.Equal(t, c.counts(), []int{1})

			// the freed slot goes to someone else
			other := occupy(t, c.nodes[0], 1)
			_, err := r.SetTreeSource(nil, id, sourceOffer)
			assert.ErrorIs(t, err, model.ErrCapacityExhausted)
			assert.Equal(t, c.counts(), []int{2})

			assert.NoError(t, other.Release())
			_, err = r.SetTreeSource(nil, id, sourceOffer)
			assert.NoError(t, err)
			assert.Equal(t, c.counts(), []int{2})
		})
	}
}

func TestRemovedSourceReleasesEmptyPipeline(t *testing.T) {
	cases := []struct {
		name  string
		nodes int
		build func(c *cluster) strategy.Strategy
	}{
		{"lexical", 1, func(c *cluster) strategy.Strategy { return strategy.NewLexical(c.pool, 2) }},
		{"leastloaded", 2, func(c *cluster) strategy.Strategy { return strategy.NewLeastLoadedFixed(c.pool) }},
		{"elastic", 2, func(c *cluster) strategy.Strategy { return strategy.NewLeastLoadedElastic(c.pool) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCluster(tc.nodes, 5)
			r := strategy.NewRegistry(tc.build(c), nil)
			id := newTree(t, r)

			assert.NoError(t, r.RemoveTreeSource(id))
			assert.Equal(t, c.pipelines(), 0)
			assert.NoError(t, r.Tree(id, func(tr *strategy.Tree) {
				if tr.SourcePipeline != nil || len(tr.Pipelines) != 0 {
					t.Fatalf("tree keeps pipelines %v", tr.Pipelines)
				}
			}))

			_, err := r.SetTreeSource(nil, id, sourceOffer)
			assert.NoError(t, err)
			assert.Equal(t, c.pipelines(), 1)
		})
	}
}

func TestLastSinkReleasesSourcelessPipelines(t *testing.T) {
	c := newCluster(2, 5)
	r := strategy.NewRegistry(strategy.NewLeastLoadedFixed(c.pool), nil)
	id := newTree(t, r)
	ep := addSink(t, r, id)
	assert.Equal(t, sinkNode(t, r, id, ep.SinkID), "node2")
	assert.Equal(t, c.counts(), []int{2, 2})

	// the source pipeline still feeds the bridge
	assert.NoError(t, r.RemoveTreeSource(id))
	assert.Equal(t, c.pipelines(), 2)

	assert.NoError(t, r.RemoveTreeSink(id, ep.SinkID))
	assert.Equal(t, c.counts(), []int{0, 0})
	assert.Equal(t, c.pipelines(), 0)
	checkLinkSymmetry(t, c.nodes)
}
