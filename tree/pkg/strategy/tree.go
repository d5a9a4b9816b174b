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

package strategy

import (
	"sort"
	"sync"

	"mediatree.io/mediatree/tree/pkg/model"
)

// Tree is the state of one broadcast tree shared by the registry and the
// strategy placing it. All fields are guarded by the tree lock, which the
// registry holds around every strategy call.
type Tree struct {
	ID string

	mu       sync.Mutex
	released bool

	// Source is the source Terminal, nil while the tree has none.
	Source *model.Terminal
	// SourcePipeline is the pipeline hosting the source, if one was built.
	SourcePipeline *model.Pipeline
	// Sinks are the sink Terminals by sink id.
	Sinks map[string]*model.Terminal
	// Pipelines are the pipelines the tree owns, one per node at most.
	Pipelines map[*model.Node]*model.Pipeline
}

func newTree(id string) *Tree {
	return &Tree{
		ID:        id,
		Sinks:     make(map[string]*model.Terminal),
		Pipelines: make(map[*model.Node]*model.Pipeline),
	}
}

// SinkIDs returns the sink ids in lexical order.
func (t *Tree) SinkIDs() []string {
	ids := make([]string, 0, len(t.Sinks))
	for id := range t.Sinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SourceNode returns the node hosting the source pipeline, or nil.
func (t *Tree) SourceNode() *model.Node {
	if t.SourcePipeline == nil {
		return nil
	}
	return t.SourcePipeline.Node()
}

func (t *Tree) addPipeline(p *model.Pipeline) {
	t.Pipelines[p.Node()] = p
}

func (t *Tree) dropPipeline(p *model.Pipeline) {
	if t.Pipelines[p.Node()] == p {
		delete(t.Pipelines, p.Node())
	}
	if t.SourcePipeline == p {
		t.SourcePipeline = nil
		t.Source = nil
	}
}

// Summary is a point-in-time description of a tree.
type Summary struct {
	ID     string   `json:"id"`
	Source bool     `json:"source"`
	Sinks  []string `json:"sinks"`
	Nodes  []string `json:"nodes"`
}

func (t *Tree) summary() Summary {
	s := Summary{ID: t.ID, Source: t.Source != nil, Sinks: t.SinkIDs()}
	for n := range t.Pipelines {
		s.Nodes = append(s.Nodes, n.Label())
	}
	sort.Strings(s.Nodes)
	return s
}
