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

package model_test

import (
	"testing"

	"mediatree.io/mediatree/pkg/test/util/assert"
	"mediatree.io/mediatree/tree/pkg/fakenode"
	"mediatree.io/mediatree/tree/pkg/model"
)

func newNode(label string, capacity int) (*model.Node, *fakenode.Driver) {
	d := fakenode.New(label, nil)
	return model.NewNode(label, d, model.MaxElements(capacity)), d
}

func newPipeline(t *testing.T, n *model.Node) *model.Pipeline {
	t.Helper()
	p, err := n.CreatePipeline("tree")
	assert.NoError(t, err)
	return p
}

func TestConnectSymmetry(t *testing.T) {
	n, _ := newNode("n1", 10)
	p := newPipeline(t, n)

	src, err := p.CreateTerminal("source", nil)
	assert.NoError(t, err)
	a, _ := p.CreateTerminal("a", nil)
	b, _ := p.CreateTerminal("b", nil)

	assert.NoError(t, src.Connect(a))
	assert.NoError(t, src.Connect(b))
	assert.Equal(t, ids(src.Sinks()), []model.ElementID{a.ID(), b.ID()})
	assert.Equal(t, a.Source().ID(), src.ID())

	a.Disconnect()
	a.Disconnect()
	assert.Equal(t, ids(src.Sinks()), []model.ElementID{b.ID()})
	if a.Source() != nil {
		t.Fatalf("disconnected element still has a source")
	}

	// reconnecting moves the sink to its new source
	assert.NoError(t, a.Connect(b))
	assert.Equal(t, len(src.Sinks()), 0)
	assert.Equal(t, b.Source().ID(), a.ID())
}

func TestConnectAcrossPipelinesRejected(t *testing.T) {
	n, _ := newNode("n1", 10)
	p1 := newPipeline(t, n)
	p2 := newPipeline(t, n)
	a, _ := p1.CreateTerminal("a", nil)
	b, _ := p2.CreateTerminal("b", nil)

	assert.ErrorIs(t, a.Connect(b), model.ErrInvalidTopology)
	assert.ErrorIs(t, a.Connect(a), model.ErrInvalidTopology)
}

func TestReleaseDetachesBothWays(t *testing.T) {
	n, d := newNode("n1", 10)
	p := newPipeline(t, n)
	src, _ := p.CreateTerminal("source", nil)
	mid, _ := p.CreateTerminal("mid", nil)
	leaf, _ := p.CreateTerminal("leaf", nil)
	assert.NoError(t, src.Connect(mid))
	assert.NoError(t, mid.Connect(leaf))

	assert.NoError(t, mid.Release())
	assert.NoError(t, mid.Release())

	assert.Equal(t, len(src.Sinks()), 0)
	if leaf.Source() != nil {
		t.Fatalf("sink of a released element kept its source")
	}
	if !mid.Released() || p.Lookup(mid.ID()) != nil {
		t.Fatalf("released element still in pipeline")
	}
	assert.Equal(t, p.Len(), 2)
	assert.Equal(t, d.LiveEndpoints(), 2)
	assert.ErrorIs(t, mid.Connect(leaf), model.ErrInvalidTopology)
}

func TestLinkPairing(t *testing.T) {
	n1, _ := newNode("n1", 10)
	n2, _ := newNode("n2", 10)
	p1 := newPipeline(t, n1)
	p2 := newPipeline(t, n2)

	local, remote, err := p1.LinkTo(p2, "bridge")
	assert.NoError(t, err)
	assert.Equal(t, local.LinkedTo().ID(), remote.ID())
	assert.Equal(t, remote.LinkedTo().ID(), local.ID())

	// a link can be paired once in its lifetime
	other, _ := p2.CreateLink("other")
	assert.ErrorIs(t, local.LinkTo(other), model.ErrInvalidTopology)

	assert.NoError(t, remote.Release())
	if local.LinkedTo() != nil {
		t.Fatalf("partner backlink not cleared")
	}
	fresh, _ := p2.CreateLink("fresh")
	assert.ErrorIs(t, local.LinkTo(fresh), model.ErrInvalidTopology)
}

func TestLinkSameNodeRejected(t *testing.T) {
	n, _ := newNode("n1", 10)
	p1 := newPipeline(t, n)
	p2 := newPipeline(t, n)
	_, _, err := p1.LinkTo(p2, "loop")
	assert.ErrorIs(t, err, model.ErrInvalidTopology)
	assert.Equal(t, n.ElementCount(), 0)
}

func TestLoadAndAdmission(t *testing.T) {
	n, _ := newNode("n1", 4)
	p := newPipeline(t, n)
	assert.Equal(t, n.Load(), 0.0)

	for i := 0; i < 3; i++ {
		_, err := p.CreateTerminal("t", nil)
		assert.NoError(t, err)
	}
	assert.Equal(t, n.Load(), 0.75)
	assert.Equal(t, n.AllowMoreElements(), true)
	assert.Equal(t, n.Admits(2), false)

	// pipelines themselves are free; the load clamps at one
	_, _ = p.CreateTerminal("t", nil)
	_, _ = p.CreateTerminal("t", nil)
	assert.Equal(t, n.ElementCount(), 5)
	assert.Equal(t, n.Load(), 1.0)
	assert.Equal(t, n.AllowMoreElements(), false)
}

func TestPipelineReleaseAndRetire(t *testing.T) {
	n, d := newNode("n1", 10)
	p := newPipeline(t, n)
	_, _ = p.CreateTerminal("a", nil)
	_, _ = p.CreateLink("l")

	assert.Equal(t, n.Retire(), false)
	assert.NoError(t, p.Release())
	assert.NoError(t, p.Release())
	assert.Equal(t, len(n.Pipelines()), 0)
	assert.Equal(t, d.LiveEndpoints(), 0)
	assert.Equal(t, d.LivePipelines(), 0)

	_, err := p.CreateTerminal("late", nil)
	assert.ErrorIs(t, err, model.ErrInvalidTopology)

	assert.Equal(t, n.Retire(), true)
	_, err = n.CreatePipeline("again")
	assert.ErrorIs(t, err, model.ErrNodeRetired)
}

func TestCollaboratorFailure(t *testing.T) {
	n, d := newNode("n1", 10)
	p := newPipeline(t, n)
	term, _ := p.CreateTerminal("a", nil)

	d.Faults().Offer.Store(true)
	_, err := term.ProcessOffer(fakenode.Offer("recvonly"))
	assert.ErrorIs(t, err, model.ErrCollaborator)

	d.Faults().Endpoint.Store(true)
	_, err = p.CreateTerminal("b", nil)
	assert.ErrorIs(t, err, model.ErrCollaborator)
	assert.Equal(t, p.Len(), 1)
}

func TestCandidatesFlowThroughTerminal(t *testing.T) {
	n, _ := newNode("n1", 10)
	p := newPipeline(t, n)
	var got []model.Candidate
	term, _ := p.CreateTerminal("a", func(c model.Candidate) { got = append(got, c) })

	_, err := term.ProcessOffer(fakenode.Offer("recvonly"))
	assert.NoError(t, err)
	assert.NoError(t, term.GatherCandidates())
	assert.Equal(t, len(got), 1)

	assert.NoError(t, term.Release())
	assert.ErrorIs(t, term.AddCandidate(model.Candidate{Candidate: "x"}), model.ErrInvalidTopology)
}

func ids(es []model.Element) []model.ElementID {
	out := make([]model.ElementID, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID())
	}
	return out
}
