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
	"testing"

	"mediatree.io/mediatree/pkg/test/util/assert"
	"mediatree.io/mediatree/tree/pkg/fakenode"
	"mediatree.io/mediatree/tree/pkg/model"
)

func fakeFactory(capacity int) NodeFactory {
	return func(label string) (*model.Node, error) {
		return model.NewNode(label, fakenode.New(label, nil), model.MaxElements(capacity)), nil
	}
}

// fill adds count terminals to n inside a fresh pipeline.
func fill(t *testing.T, n *model.Node, count int) *model.Pipeline {
	t.Helper()
	p, err := n.CreatePipeline("fill")
	assert.NoError(t, err)
	for i := 0; i < count; i++ {
		_, err := p.CreateTerminal("t", nil)
		assert.NoError(t, err)
	}
	return p
}

func labels(nodes []*model.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Label())
	}
	return out
}

type recorder struct {
	added, removed []string
	retain         map[string]bool
}

func (r *recorder) NodeAdded(n *model.Node)   { r.added = append(r.added, n.Label()) }
func (r *recorder) NodeRemoved(n *model.Node) { r.removed = append(r.removed, n.Label()) }
func (r *recorder) Retains(n *model.Node) bool {
	return r.retain[n.Label()]
}

func TestFixedSortedByLoad(t *testing.T) {
	f, err := NewFixedFromFactory(10, 3, fakeFactory(10))
	assert.NoError(t, err)
	nodes := f.Nodes()
	assert.Equal(t, labels(nodes), []string{"node0", "node1", "node2"})

	fill(t, nodes[0], 4)
	fill(t, nodes[2], 1)

	sorted := f.SortedByLoad()
	got := make([]string, 0, len(sorted))
	for _, nl := range sorted {
		got = append(got, nl.Node.Label())
	}
	assert.Equal(t, got, []string{"node1", "node2", "node0"})
	assert.Equal(t, sorted[2].Load, 0.4)

	least, err := f.LeastLoaded()
	assert.NoError(t, err)
	assert.Equal(t, least.Label(), "node1")
}

func TestLeastLoadedTiesFollowPoolOrder(t *testing.T) {
	f, err := NewFixedFromFactory(10, 3, fakeFactory(10))
	assert.NoError(t, err)
	least, err := f.LeastLoaded()
	assert.NoError(t, err)
	assert.Equal(t, least.Label(), "node0")
}

func TestEmptyPool(t *testing.T) {
	f := NewFixed(10)
	_, err := f.LeastLoaded()
	assert.ErrorIs(t, err, ErrEmptyPool)

	_, err = NewFixedFromFactory(10, 0, fakeFactory(10))
	assert.Error(t, err)
}

func TestListenerSeesExistingNodes(t *testing.T) {
	f, _ := NewFixedFromFactory(10, 2, fakeFactory(10))
	r := &recorder{}
	f.AddListener(r)
	assert.Equal(t, r.added, []string{"node0", "node1"})
}

func TestMinFreeSpaceGrowsOnNextListing(t *testing.T) {
	p, err := NewMinFreeSpace(10, 3, 0, fakeFactory(10))
	assert.NoError(t, err)
	r := &recorder{}
	p.AddListener(r)

	nodes := p.Nodes()
	assert.Equal(t, len(nodes), 1)

	// 7 used, 3 free: still enough
	fill(t, nodes[0], 7)
	assert.Equal(t, len(p.Nodes()), 1)

	// 8 used, 2 free: the next listing grows
	_, err = nodes[0].Pipelines()[0].CreateTerminal("t", nil)
	assert.NoError(t, err)
	assert.Equal(t, labels(p.Nodes()), []string{"node0", "node1"})
	assert.Equal(t, r.added, []string{"node0", "node1"})

	least, err := p.LeastLoaded()
	assert.NoError(t, err)
	assert.Equal(t, least.Label(), "node1")
}

func TestMinFreeSpaceShrinksIdleNodes(t *testing.T) {
	p, err := NewMinFreeSpace(10, 3, 0, fakeFactory(10))
	assert.NoError(t, err)
	r := &recorder{retain: map[string]bool{}}
	p.AddListener(r)

	first := p.Nodes()[0]
	busy := fill(t, first, 8)
	assert.Equal(t, len(p.Nodes()), 2)

	// node0 frees up, node1 is idle and less loaded than the selected node0
	for _, term := range busy.Terminals()[:3] {
		assert.NoError(t, term.Release())
	}
	r.retain["node1"] = true
	assert.Equal(t, len(p.Nodes()), 2)

	r.retain["node1"] = false
	assert.Equal(t, labels(p.Nodes()), []string{"node0"})
	assert.Equal(t, r.removed, []string{"node1"})
}

func TestMinFreeSpaceMaxNodes(t *testing.T) {
	p, err := NewMinFreeSpace(4, 2, 1, fakeFactory(4))
	assert.NoError(t, err)
	fill(t, p.Nodes()[0], 3)
	assert.Equal(t, len(p.Nodes()), 1)

	_, err = NewMinFreeSpace(4, 5, 0, fakeFactory(4))
	assert.Error(t, err)
}

func TestMeanLoadGrowsAndRecycles(t *testing.T) {
	p, err := NewMeanLoad(10, 0.8, 0, fakeFactory(10))
	assert.NoError(t, err)
	r := &recorder{}
	p.AddListener(r)

	first := p.Nodes()[0]
	pl := fill(t, first, 8)

	// a mean load equal to the threshold does not grow the pool
	assert.Equal(t, labels(p.Nodes()), []string{"node0"})

	_, err = pl.CreateTerminal("t", nil)
	assert.NoError(t, err)
	// mean load 0.9 is over the threshold: one node is added
	assert.Equal(t, labels(p.Nodes()), []string{"node0", "node1"})

	// the idle node is set aside and immediately recycled, not destroyed
	assert.Equal(t, labels(p.Nodes()), []string{"node0", "node1"})
	assert.Equal(t, len(r.removed), 0)

	// once the load drops the idle node goes away
	for _, term := range pl.Terminals()[:5] {
		assert.NoError(t, term.Release())
	}
	assert.Equal(t, labels(p.Nodes()), []string{"node0"})
	assert.Equal(t, r.removed, []string{"node1"})
}

func TestMeanLoadKeepsLastNode(t *testing.T) {
	p, err := NewMeanLoad(10, 0.5, 0, fakeFactory(10))
	assert.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.Equal(t, len(p.Nodes()), 1)
	}
	_, err = NewMeanLoad(10, 1.5, 0, fakeFactory(10))
	assert.Error(t, err)
}

func TestMeanLoadGrowsOneNodePerCheck(t *testing.T) {
	p, err := NewMeanLoad(10, 0.2, 0, fakeFactory(10))
	assert.NoError(t, err)
	fill(t, p.Nodes()[0], 10)

	// a full node is far over the threshold, yet each listing adds one node
	assert.Equal(t, labels(p.Nodes()), []string{"node0", "node1"})
	// node1 is idle, set aside and recycled rather than joined by a third
	assert.Equal(t, labels(p.Nodes()), []string{"node0", "node1"})

	fill(t, p.Nodes()[1], 1)
	assert.Equal(t, labels(p.Nodes()), []string{"node0", "node1", "node2"})
}

func TestRemovedNodeIsRetired(t *testing.T) {
	p, err := NewMeanLoad(10, 0.8, 0, fakeFactory(10))
	assert.NoError(t, err)
	first := p.Nodes()[0]
	pl := fill(t, first, 9)
	assert.Equal(t, len(p.Nodes()), 2)
	assert.NoError(t, pl.Release())

	// both nodes are idle; the first one is set aside and dropped
	assert.Equal(t, labels(p.Nodes()), []string{"node1"})
	_, err = first.CreatePipeline("late")
	assert.ErrorIs(t, err, model.ErrNodeRetired)
}

func TestRegistrarAddsAnnouncedNodes(t *testing.T) {
	r, err := NewRegistrar(10, fakeFactory(10))
	assert.NoError(t, err)
	assert.Equal(t, len(r.Nodes()), 0)
	_, err = r.LeastLoaded()
	assert.ErrorIs(t, err, ErrEmptyPool)

	rec := &recorder{}
	r.AddListener(rec)
	n, err := r.Register("kms-a")
	assert.NoError(t, err)
	assert.Equal(t, n.Capacity(), 10)
	_, err = r.Register("kms-b")
	assert.NoError(t, err)
	assert.Equal(t, rec.added, []string{"kms-a", "kms-b"})

	fill(t, n, 3)
	least, err := r.LeastLoaded()
	assert.NoError(t, err)
	assert.Equal(t, least.Label(), "kms-b")

	// idle nodes stay
	assert.Equal(t, labels(r.Nodes()), []string{"kms-a", "kms-b"})
	assert.Equal(t, len(rec.removed), 0)
}

func TestRegistrarRejectsDuplicates(t *testing.T) {
	r, err := NewRegistrar(10, fakeFactory(10), "kms-a")
	assert.NoError(t, err)
	_, err = r.Register("kms-a")
	assert.ErrorIs(t, err, ErrNodeRegistered)
	_, err = r.Register("")
	assert.Error(t, err)
	assert.Equal(t, labels(r.Nodes()), []string{"kms-a"})

	_, err = NewRegistrar(10, fakeFactory(10), "kms-a", "kms-a")
	assert.ErrorIs(t, err, ErrNodeRegistered)
}
