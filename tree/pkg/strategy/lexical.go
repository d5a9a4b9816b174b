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

// DefaultMaxSinksPerPipeline caps the sinks of one pipeline in Lexical.
const DefaultMaxSinksPerPipeline = 5

// Lexical builds a star for its only tree when the tree is created: a root
// pipeline on the first node, linked to one leaf pipeline on every other node.
// Sinks fill the leaves in pool order; the root takes sinks only when the pool
// has a single node.
type Lexical struct {
	pool    pool.Pool
	maxSink int
}

var _ Strategy = &Lexical{}

// NewLexical returns a Lexical strategy. A non positive maxSinksPerPipeline
// selects DefaultMaxSinksPerPipeline.
func NewLexical(p pool.Pool, maxSinksPerPipeline int) *Lexical {
	if maxSinksPerPipeline <= 0 {
		maxSinksPerPipeline = DefaultMaxSinksPerPipeline
	}
	return &Lexical{pool: p, maxSink: maxSinksPerPipeline}
}

func (l *Lexical) Name() string     { return "lexical" }
func (l *Lexical) Pool() pool.Pool  { return l.pool }
func (l *Lexical) SingleTree() bool { return true }

func (l *Lexical) Init(t *Tree) error {
	nodes := l.pool.Nodes()
	if len(nodes) == 0 {
		return fmt.Errorf("%w: %v", model.ErrInvalidTopology, pool.ErrEmptyPool)
	}
	root, err := sourcePipeline(t, nodes[0])
	if err != nil {
		return err
	}
	for _, n := range nodes[1:] {
		leaf, err := n.CreatePipeline(t.ID)
		if err != nil {
			_ = releaseAll(t)
			return err
		}
		t.addPipeline(leaf)
		if _, _, err := root.LinkTo(leaf, linkLabel(t, n)); err != nil {
			_ = releaseAll(t)
			return err
		}
	}
	scope.WithLabels("tree", t.ID).Debugf("built star over %d nodes", len(nodes))
	return nil
}

func (l *Lexical) SetSource(t *Tree, offerSdp string, onCandidate func(model.Candidate)) (string, error) {
	if t.SourcePipeline == nil {
		// an empty root goes with its source; only a star without leaves rebuilds it
		nodes := l.pool.Nodes()
		if len(t.Pipelines) > 0 || len(nodes) == 0 {
			return "", fmt.Errorf("%w: tree %q has no root pipeline", model.ErrInvalidTopology, t.ID)
		}
		if !nodes[0].AllowMoreElements() {
			return "", exhausted(t, "the source")
		}
		if _, err := sourcePipeline(t, nodes[0]); err != nil {
			return "", err
		}
	}
	if err := sourceAdmitted(t); err != nil {
		return "", err
	}
	p := t.SourcePipeline
	answer, err := setSource(t, p, offerSdp, onCandidate)
	if err != nil {
		_ = releaseIfEmpty(t, p)
		return "", err
	}
	return answer, nil
}

func (l *Lexical) RemoveSource(t *Tree) error {
	return removeSource(t)
}

// sinkCount is the number of sinks of t hosted by p.
func sinkCount(t *Tree, p *model.Pipeline) int {
	n := 0
	for _, term := range t.Sinks {
		if term.Pipeline() == p {
			n++
		}
	}
	return n
}

func (l *Lexical) AddSink(t *Tree, sinkID, offerSdp string, onCandidate func(model.Candidate)) (string, error) {
	for _, n := range l.pool.Nodes() {
		p, ok := t.Pipelines[n]
		if !ok || sinkCount(t, p) >= l.maxSink || !n.AllowMoreElements() {
			continue
		}
		// the root only hosts sinks when the star has no leaves
		if p == t.SourcePipeline && len(t.Pipelines) > 1 {
			continue
		}
		var upstream model.Element = t.Source
		if p != t.SourcePipeline {
			in := inbound(p)
			if in == nil {
				continue
			}
			upstream = in
		}
		term, answer, err := attach(p, sinkLabel(t, sinkID), upstream, offerSdp, onCandidate)
		if err != nil {
			return "", err
		}
		t.Sinks[sinkID] = term
		return answer, nil
	}
	return "", exhausted(t, "a sink")
}

// RemoveSink keeps the star intact.
func (l *Lexical) RemoveSink(t *Tree, sinkID string) error {
	term, err := sinkTerminal(t, sinkID)
	if err != nil {
		return err
	}
	delete(t.Sinks, sinkID)
	return term.Release()
}

func (l *Lexical) Release(t *Tree) error {
	return releaseAll(t)
}
