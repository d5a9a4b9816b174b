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
	"fmt"

	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/pool"
)

// SingleNode places every tree on the one node of its pool. Each tree owns a
// single pipeline holding its source and all of its sinks.
type SingleNode struct {
	pool pool.Pool
}

var _ Strategy = &SingleNode{}

func NewSingleNode(p pool.Pool) *SingleNode {
	return &SingleNode{pool: p}
}

func (s *SingleNode) Name() string     { return "single-node" }
func (s *SingleNode) Pool() pool.Pool  { return s.pool }
func (s *SingleNode) SingleTree() bool { return false }

func (s *SingleNode) node() (*model.Node, error) {
	nodes := s.pool.Nodes()
	if len(nodes) != 1 {
		return nil, fmt.Errorf("%w: %s needs exactly one node, pool has %d",
			model.ErrInvalidTopology, s.Name(), len(nodes))
	}
	return nodes[0], nil
}

func (s *SingleNode) Init(t *Tree) error {
	n, err := s.node()
	if err != nil {
		return err
	}
	_, err = sourcePipeline(t, n)
	return err
}

func (s *SingleNode) SetSource(t *Tree, offerSdp string, onCandidate func(model.Candidate)) (string, error) {
	n, err := s.node()
	if err != nil {
		return "", err
	}
	p, err := sourcePipeline(t, n)
	if err != nil {
		return "", err
	}
	if err := sourceAdmitted(t); err != nil {
		return "", err
	}
	return setSource(t, p, offerSdp, onCandidate)
}

func (s *SingleNode) RemoveSource(t *Tree) error {
	return removeSource(t)
}

func (s *SingleNode) AddSink(t *Tree, sinkID, offerSdp string, onCandidate func(model.Candidate)) (string, error) {
	p := t.SourcePipeline
	if !p.Node().AllowMoreElements() {
		return "", exhausted(t, "a sink")
	}
	term, answer, err := attach(p, sinkLabel(t, sinkID), t.Source, offerSdp, onCandidate)
	if err != nil {
		return "", err
	}
	t.Sinks[sinkID] = term
	return answer, nil
}

func (s *SingleNode) RemoveSink(t *Tree, sinkID string) error {
	return dropSink(t, sinkID)
}

func (s *SingleNode) Release(t *Tree) error {
	return releaseAll(t)
}
