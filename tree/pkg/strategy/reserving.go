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
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"mediatree.io/mediatree/tree/pkg/ledger"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/pool"
)

// DefaultBridgeSlots is the number of outbound Links reserved with a source.
const DefaultBridgeSlots = 2

type ReservingOptions struct {
	// BridgeSlots is the number of outbound Links built next to the source.
	BridgeSlots int
	// MultiHop lets a leaf pipeline feed further leaves through Links of its own.
	MultiHop bool
}

// Reserving places elements only after taking their slots from a Ledger. A
// source takes 1+BridgeSlots slots on the least loaded node that has them.
// Sinks go to the source node while it has room, then to existing leaf
// pipelines, then to a new leaf fed through a free outbound Link. Leaves with
// no sinks left are torn down, and the Links that fed them are replaced.
type Reserving struct {
	pool   pool.Pool
	ledger *ledger.Ledger
	opts   ReservingOptions

	mu    sync.Mutex
	plans map[string]*plan
}

var _ Strategy = &Reserving{}

type leaf struct {
	pipeline *model.Pipeline
	in       *model.Link
	parent   *model.Node
}

type plan struct {
	leaves map[*model.Node]*leaf
}

// NewReserving returns a Reserving strategy and registers l with p so that
// nodes still holding reservations are not removed.
func NewReserving(p pool.Pool, l *ledger.Ledger, opts ReservingOptions) *Reserving {
	if opts.BridgeSlots <= 0 {
		opts.BridgeSlots = DefaultBridgeSlots
	}
	p.AddListener(l)
	return &Reserving{
		pool:   p,
		ledger: l,
		opts:   opts,
		plans:  make(map[string]*plan),
	}
}

func (s *Reserving) Name() string           { return "reserving" }
func (s *Reserving) Pool() pool.Pool        { return s.pool }
func (s *Reserving) SingleTree() bool       { return false }
func (s *Reserving) Ledger() *ledger.Ledger { return s.ledger }

func (s *Reserving) plan(t *Tree) *plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, ok := s.plans[t.ID]
	if !ok {
		pl = &plan{leaves: make(map[*model.Node]*leaf)}
		s.plans[t.ID] = pl
	}
	return pl
}

func (s *Reserving) forget(t *Tree) {
	s.mu.Lock()
	delete(s.plans, t.ID)
	s.mu.Unlock()
}

func (s *Reserving) Init(t *Tree) error {
	if len(s.pool.Nodes()) == 0 {
		return fmt.Errorf("%w: %v", model.ErrInvalidTopology, pool.ErrEmptyPool)
	}
	s.plan(t)
	return nil
}

func (s *Reserving) SetSource(t *Tree, offerSdp string, onCandidate func(model.Candidate)) (string, error) {
	if t.Source != nil {
		return s.replaceSource(t, offerSdp, onCandidate)
	}

	var answer string
	if p := t.SourcePipeline; p != nil {
		err := s.ledger.Reserve(p.Node(), 1, func() error {
			var err error
			answer, err = setSource(t, p, offerSdp, onCandidate)
			return err
		})
		return answer, err
	}
	for _, nl := range s.pool.SortedByLoad() {
		n := nl.Node
		err := s.ledger.Reserve(n, 1+s.opts.BridgeSlots, func() error {
			var err error
			answer, err = s.buildSource(t, n, offerSdp, onCandidate)
			return err
		})
		if err == nil {
			return answer, nil
		}
		if !isPlacementError(err) {
			return "", err
		}
	}
	return "", exhausted(t, "the source")
}

func (s *Reserving) buildSource(t *Tree, n *model.Node, offerSdp string, onCandidate func(model.Candidate)) (string, error) {
	p, err := sourcePipeline(t, n)
	if err != nil {
		return "", err
	}
	fail := func(err error) (string, error) {
		_ = p.Release()
		t.dropPipeline(p)
		return "", err
	}
	for i := 0; i < s.opts.BridgeSlots; i++ {
		if _, err := p.CreateLink(t.ID + "_out"); err != nil {
			return fail(err)
		}
	}
	answer, err := setSource(t, p, offerSdp, onCandidate)
	if err != nil {
		return fail(err)
	}
	return answer, nil
}

// replaceSource swaps the source Terminal in place, leaving the slot count of
// the source node unchanged. If the new source cannot be built the slot of the
// previous one is given back.
func (s *Reserving) replaceSource(t *Tree, offerSdp string, onCandidate func(model.Candidate)) (string, error) {
	var answer string
	err := s.ledger.Settle(t.SourceNode(), func() (int, error) {
		var err error
		answer, err = setSource(t, t.SourcePipeline, offerSdp, onCandidate)
		if err != nil {
			return 1, err
		}
		return 0, nil
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

// RemoveSource is only supported while the tree has no sinks.
func (s *Reserving) RemoveSource(t *Tree) error {
	if len(t.Sinks) > 0 {
		return fmt.Errorf("%w: removing the source of tree %q with %d sinks",
			model.ErrNotSupported, t.ID, len(t.Sinks))
	}
	return s.releasePipelines(t)
}

func (s *Reserving) AddSink(t *Tree, sinkID, offerSdp string, onCandidate func(model.Candidate)) (string, error) {
	pl := s.plan(t)
	label := sinkLabel(t, sinkID)
	var (
		term   *model.Terminal
		answer string
	)
	place := func(p *model.Pipeline, upstream model.Element) func() error {
		return func() error {
			var err error
			term, answer, err = attach(p, label, upstream, offerSdp, onCandidate)
			return err
		}
	}
	done := func() (string, error) {
		t.Sinks[sinkID] = term
		return answer, nil
	}

	src := t.SourceNode()
	err := s.ledger.Reserve(src, 1, place(t.SourcePipeline, t.Source))
	if err == nil {
		return done()
	}
	if !errors.Is(err, model.ErrCapacityExhausted) {
		return "", err
	}

	sorted := s.pool.SortedByLoad()
	for _, nl := range sorted {
		lf, ok := pl.leaves[nl.Node]
		if !ok {
			continue
		}
		err := s.ledger.Reserve(nl.Node, 1, place(lf.pipeline, lf.in))
		if err == nil {
			return done()
		}
		if !isPlacementError(err) {
			return "", err
		}
	}

	for _, nl := range sorted {
		n := nl.Node
		if n == src || pl.leaves[n] != nil {
			continue
		}
		up := s.freeLink(t, pl)
		if up == nil {
			break
		}
		lf, err := s.grow(t, n, up, place)
		if err == nil {
			pl.leaves[n] = lf
			return done()
		}
		if !isPlacementError(err) {
			return "", err
		}
	}
	return "", exhausted(t, "a sink")
}

// freeLink returns an outbound Link that was never paired, looking at the
// source pipeline first and, with multi-hop enabled, at the leaves in load
// order.
func (s *Reserving) freeLink(t *Tree, pl *plan) *model.Link {
	pipelines := []*model.Pipeline{t.SourcePipeline}
	if s.opts.MultiHop {
		for _, nl := range s.pool.SortedByLoad() {
			if lf, ok := pl.leaves[nl.Node]; ok {
				pipelines = append(pipelines, lf.pipeline)
			}
		}
	}
	for _, p := range pipelines {
		for _, l := range p.Links() {
			if l.Source() != nil && !l.Linked() {
				return l
			}
		}
	}
	return nil
}

// grow builds a leaf pipeline on n fed by up and places a sink in it.
func (s *Reserving) grow(t *Tree, n *model.Node, up *model.Link,
	place func(*model.Pipeline, model.Element) func() error,
) (*leaf, error) {
	cost := 2
	if s.opts.MultiHop {
		cost += s.opts.BridgeSlots
	}

	var lf *leaf
	err := s.ledger.Reserve(n, cost, func() error {
		p, err := n.CreatePipeline(t.ID)
		if err != nil {
			return err
		}
		fail := func(err error) error {
			_ = p.Release()
			if up.Linked() {
				s.renew(t, up)
			}
			return err
		}

		in, err := p.CreateLink(linkLabel(t, n))
		if err != nil {
			return fail(err)
		}
		if err := up.LinkTo(in); err != nil {
			return fail(err)
		}
		if s.opts.MultiHop {
			for i := 0; i < s.opts.BridgeSlots; i++ {
				out, err := p.CreateLink(t.ID + "_out")
				if err != nil {
					return fail(err)
				}
				if err := in.Connect(out); err != nil {
					return fail(err)
				}
			}
		}
		if err := place(p, in)(); err != nil {
			return fail(err)
		}
		t.addPipeline(p)
		lf = &leaf{pipeline: p, in: in, parent: up.Pipeline().Node()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	scope.WithLabels("tree", t.ID).Debugf("leaf on %s fed from %s", n.Label(), lf.parent.Label())
	return lf, nil
}

// renew replaces a Link that was paired once with a fresh one fed by the same
// element, so the slot it holds can feed a new leaf.
func (s *Reserving) renew(t *Tree, used *model.Link) {
	p := used.Pipeline()
	n := p.Node()
	err := s.ledger.Settle(n, func() (int, error) {
		feed := used.Source()
		if err := used.Release(); err != nil {
			scope.Warnf("releasing used link %v: %v", used, err)
		}
		fresh, err := p.CreateLink(used.Label())
		if err != nil {
			return 1, err
		}
		if feed != nil {
			return 0, feed.Connect(fresh)
		}
		return 0, nil
	})
	if err != nil {
		scope.WithLabels("tree", t.ID).Warnf("renewing link on %s: %v", n.Label(), err)
	}
}

func (s *Reserving) RemoveSink(t *Tree, sinkID string) error {
	term, err := sinkTerminal(t, sinkID)
	if err != nil {
		return err
	}
	n := term.Pipeline().Node()
	delete(t.Sinks, sinkID)

	var errs *multierror.Error
	if err := s.ledger.Free(n, 1, term.Release); err != nil {
		errs = multierror.Append(errs, err)
	}
	if n != t.SourceNode() {
		if err := s.prune(t, s.plan(t), n); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// prune tears down the leaf on n when it feeds nothing anymore, then walks up
// towards the source.
func (s *Reserving) prune(t *Tree, pl *plan, n *model.Node) error {
	lf, ok := pl.leaves[n]
	if !ok || !idle(lf.pipeline) {
		return nil
	}
	up := lf.in.LinkedTo()
	delete(pl.leaves, n)
	err := s.ledger.Free(n, lf.pipeline.Len(), lf.pipeline.Release)
	t.dropPipeline(lf.pipeline)
	if up != nil {
		s.renew(t, up)
	}
	if lf.parent != t.SourceNode() {
		if perr := s.prune(t, pl, lf.parent); perr != nil {
			err = multierror.Append(err, perr)
		}
	}
	return err
}

// idle reports whether a leaf pipeline holds no sink and feeds no other leaf.
func idle(p *model.Pipeline) bool {
	if len(p.Terminals()) > 0 {
		return false
	}
	for _, l := range p.Links() {
		if l.Source() != nil && l.LinkedTo() != nil {
			return false
		}
	}
	return true
}

func (s *Reserving) Release(t *Tree) error {
	defer s.forget(t)
	return s.releasePipelines(t)
}

func (s *Reserving) releasePipelines(t *Tree) error {
	var errs *multierror.Error
	pl := s.plan(t)
	for n, lf := range pl.leaves {
		if err := s.ledger.Free(n, lf.pipeline.Len(), lf.pipeline.Release); err != nil {
			errs = multierror.Append(errs, err)
		}
		t.dropPipeline(lf.pipeline)
		delete(pl.leaves, n)
	}
	if p := t.SourcePipeline; p != nil {
		if err := s.ledger.Free(p.Node(), p.Len(), p.Release); err != nil {
			errs = multierror.Append(errs, err)
		}
		t.dropPipeline(p)
	}
	t.Sinks = make(map[string]*model.Terminal)
	return errs.ErrorOrNil()
}
