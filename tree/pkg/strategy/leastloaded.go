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

// LeastLoaded spreads sinks over the pool by load, bridging each node it uses
// to the source pipeline the first time a sink lands there.
//
// The fixed variant keeps the source on the first node and keeps sinks off the
// source node while another node has room. The elastic variant places the
// source on the least loaded node and prefers the source node for sinks, so
// that an elastic pool is filled before it grows.
type LeastLoaded struct {
	pool    pool.Pool
	elastic bool
}

var _ Strategy = &LeastLoaded{}

// NewLeastLoadedFixed is meant for a Fixed pool.
func NewLeastLoadedFixed(p pool.Pool) *LeastLoaded {
	return &LeastLoaded{pool: p}
}

// NewLeastLoadedElastic is meant for an elastic pool.
func NewLeastLoadedElastic(p pool.Pool) *LeastLoaded {
	return &LeastLoaded{pool: p, elastic: true}
}

func (s *LeastLoaded) Name() string {
	if s.elastic {
		return "elastic"
	}
	return "leastloaded"
}

func (s *LeastLoaded) Pool() pool.Pool  { return s.pool }
func (s *LeastLoaded) SingleTree() bool { return false }

func (s *LeastLoaded) Init(t *Tree) error {
	if len(s.pool.Nodes()) == 0 {
		return fmt.Errorf("%w: %v", model.ErrInvalidTopology, pool.ErrEmptyPool)
	}
	return nil
}

func (s *LeastLoaded) sourceNode() (*model.Node, error) {
	if !s.elastic {
		nodes := s.pool.Nodes()
		if len(nodes) == 0 {
			return nil, pool.ErrEmptyPool
		}
		return nodes[0], nil
	}
	for _, nl := range s.pool.SortedByLoad() {
		if nl.Node.AllowMoreElements() {
			return nl.Node, nil
		}
	}
	return nil, pool.ErrEmptyPool
}

func (s *LeastLoaded) SetSource(t *Tree, offerSdp string, onCandidate func(model.Candidate)) (string, error) {
	if p := t.SourcePipeline; p != nil {
		if err := sourceAdmitted(t); err != nil {
			return "", err
		}
		answer, err := setSource(t, p, offerSdp, onCandidate)
		if err != nil {
			_ = releaseIfEmpty(t, p)
			return "", err
		}
		return answer, nil
	}
	n, err := s.sourceNode()
	if err != nil || !n.AllowMoreElements() {
		return "", exhausted(t, "the source")
	}
	p, err := sourcePipeline(t, n)
	if err != nil {
		return "", err
	}
	answer, err := setSource(t, p, offerSdp, onCandidate)
	if err != nil {
		_ = p.Release()
		t.dropPipeline(p)
		return "", err
	}
	return answer, nil
}

func (s *LeastLoaded) RemoveSource(t *Tree) error {
	return removeSource(t)
}

func (s *LeastLoaded) AddSink(t *Tree, sinkID, offerSdp string, onCandidate func(model.Candidate)) (string, error) {
	src := t.SourceNode()
	// the elastic variant keeps a slot free on the source node for a bridge
	if s.elastic && src.Admits(2) {
		return s.attachSink(t, t.SourcePipeline, t.Source, sinkID, offerSdp, onCandidate)
	}

	for _, nl := range s.pool.SortedByLoad() {
		n := nl.Node
		if n == src {
			continue
		}
		if leaf, ok := t.Pipelines[n]; ok {
			in := inbound(leaf)
			if in == nil || !n.Admits(1) {
				continue
			}
			return s.attachSink(t, leaf, in, sinkID, offerSdp, onCandidate)
		}
		if !n.Admits(2) || !src.Admits(1) {
			continue
		}
		leaf, in, err := bridge(t, n)
		if err != nil {
			if isPlacementError(err) {
				continue
			}
			return "", err
		}
		answer, err := s.attachSink(t, leaf, in, sinkID, offerSdp, onCandidate)
		if err != nil {
			_ = dropLeaf(t, in)
			return "", err
		}
		return answer, nil
	}

	if src.AllowMoreElements() {
		return s.attachSink(t, t.SourcePipeline, t.Source, sinkID, offerSdp, onCandidate)
	}
	return "", exhausted(t, "a sink")
}

func (s *LeastLoaded) attachSink(t *Tree, p *model.Pipeline, upstream model.Element, sinkID, offerSdp string,
	onCandidate func(model.Candidate),
) (string, error) {
	term, answer, err := attach(p, sinkLabel(t, sinkID), upstream, offerSdp, onCandidate)
	if err != nil {
		return "", err
	}
	t.Sinks[sinkID] = term
	return answer, nil
}

func (s *LeastLoaded) RemoveSink(t *Tree, sinkID string) error {
	return dropSink(t, sinkID)
}

func (s *LeastLoaded) Release(t *Tree) error {
	return releaseAll(t)
}
