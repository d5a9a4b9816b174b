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

package topology

import (
	"encoding/json"
	"strings"
	"testing"

	"sigs.k8s.io/yaml"

	"mediatree.io/mediatree/pkg/test/util/assert"
	"mediatree.io/mediatree/tree/pkg/fakenode"
	"mediatree.io/mediatree/tree/pkg/model"
)

func bridged(t *testing.T) []*model.Node {
	t.Helper()
	n1 := model.NewNode("n1", fakenode.New("n1", nil), model.MaxElements(10))
	n2 := model.NewNode("n2", fakenode.New("n2", nil), model.MaxElements(10))
	idle := model.NewNode("n3", fakenode.New("n3", nil), model.MaxElements(10))

	root, err := n1.CreatePipeline("tree")
	assert.NoError(t, err)
	leaf, err := n2.CreatePipeline("tree")
	assert.NoError(t, err)
	src, err := root.CreateTerminal("source", nil)
	assert.NoError(t, err)
	out, in, err := root.LinkTo(leaf, "link")
	assert.NoError(t, err)
	assert.NoError(t, src.Connect(out))
	sink, err := leaf.CreateTerminal("sink", nil)
	assert.NoError(t, err)
	assert.NoError(t, in.Connect(sink))
	return []*model.Node{n1, n2, idle}
}

func TestTake(t *testing.T) {
	s := Take(bridged(t))
	assert.Equal(t, len(s.Nodes), 3)
	assert.Equal(t, s.Elements(), 4)
	assert.Equal(t, s.Nodes[0].Elements, 2)
	assert.Equal(t, s.Nodes[0].Load, 0.2)
	assert.Equal(t, len(s.Nodes[2].Pipelines), 0)

	root := s.Nodes[0].Pipelines[0].Elements
	assert.Equal(t, root[0].Kind, "terminal")
	assert.Equal(t, root[0].Sinks, []uint64{root[1].ID})
	assert.Equal(t, root[1].Source, root[0].ID)
	assert.Equal(t, root[1].Peer.Node, "n2")

	leaf := s.Nodes[1].Pipelines[0].Elements
	assert.Equal(t, leaf[0].Peer.ID, root[1].ID)
}

func TestDOT(t *testing.T) {
	dot := Take(bridged(t)).DOT()
	if !strings.HasPrefix(dot, "digraph topology {") {
		t.Fatalf("unexpected graph header:\n%s", dot)
	}
	assert.Equal(t, strings.Count(dot, "subgraph cluster_node_"), 2)
	assert.Equal(t, strings.Count(dot, "subgraph cluster_pipeline_"), 2)
	assert.Equal(t, strings.Count(dot, "arrowhead=none"), 1)
	assert.Equal(t, strings.Count(dot, "\"n3\" [fillcolor=white]"), 1)
}

func TestEncodings(t *testing.T) {
	s := Take(bridged(t))

	js, err := s.JSON()
	assert.NoError(t, err)
	var back Snapshot
	assert.NoError(t, json.Unmarshal(js, &back))
	assert.Equal(t, back, s)

	ys, err := s.YAML()
	assert.NoError(t, err)
	if !strings.Contains(string(ys), "label: n1") {
		t.Fatalf("yaml lacks node label:\n%s", ys)
	}
	var fromYAML Snapshot
	assert.NoError(t, yaml.Unmarshal(ys, &fromYAML))
	assert.Equal(t, fromYAML, s)
}
