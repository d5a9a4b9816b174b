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
	"strings"

	"github.com/hashicorp/go-multierror"

	"mediatree.io/mediatree/tree/pkg/model"
)

func nodeLabel(n *model.Node) string {
	if n == nil {
		return ""
	}
	return n.Label()
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func sourceLabel(t *Tree) string {
	return t.ID + "_source"
}

func sinkLabel(t *Tree, sinkID string) string {
	return t.ID + "_sink_" + shortID(sinkID)
}

func linkLabel(t *Tree, n *model.Node) string {
	return t.ID + "_link_" + n.Label()
}

// attach creates a Terminal in p fed by upstream, negotiates offer and starts
// candidate gathering. The Terminal is released again if any step fails.
func attach(p *model.Pipeline, label string, upstream model.Element, offer string,
	onCandidate func(model.Candidate),
) (*model.Terminal, string, error) {
	term, err := p.CreateTerminal(label, onCandidate)
	if err != nil {
		return nil, "", err
	}
	fail := func(err error) (*model.Terminal, string, error) {
		if rerr := term.Release(); rerr != nil {
			scope.Warnf("releasing %s after failure: %v", label, rerr)
		}
		return nil, "", err
	}

	if upstream != nil {
		if err := upstream.Connect(term); err != nil {
			return fail(err)
		}
	}
	answer, err := term.ProcessOffer(offer)
	if err != nil {
		return fail(err)
	}
	if err := term.GatherCandidates(); err != nil {
		return fail(err)
	}
	return term, answer, nil
}

// setSource builds a new source Terminal for t in p, releasing the previous
// source first. Every element of p left without a source, such as the sinks
// and outbound Links of the previous source, is fed from the new one.
func setSource(t *Tree, p *model.Pipeline, offer string, onCandidate func(model.Candidate)) (string, error) {
	if t.Source != nil {
		if err := t.Source.Release(); err != nil {
			scope.Warnf("releasing previous source of tree %s: %v", t.ID, err)
		}
		t.Source = nil
	}

	term, answer, err := attach(p, sourceLabel(t), nil, offer, onCandidate)
	if err != nil {
		return "", err
	}
	for _, e := range p.Elements() {
		if e.ID() == term.ID() || e.Source() != nil {
			continue
		}
		if err := term.Connect(e); err != nil {
			_ = term.Release()
			return "", err
		}
	}

	t.Source = term
	t.SourcePipeline = p
	t.addPipeline(p)
	return answer, nil
}

// removeSource releases the source Terminal and keeps the rest of the tree.
// The source pipeline goes too once it hosts nothing else.
func removeSource(t *Tree) error {
	if t.Source == nil {
		return nil
	}
	var errs *multierror.Error
	if err := t.Source.Release(); err != nil {
		errs = multierror.Append(errs, err)
	}
	t.Source = nil
	if err := releaseIfEmpty(t, t.SourcePipeline); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// releaseIfEmpty releases p and drops it from t when p hosts no element.
func releaseIfEmpty(t *Tree, p *model.Pipeline) error {
	if p == nil || p.Len() > 0 {
		return nil
	}
	err := p.Release()
	t.dropPipeline(p)
	return err
}

// sourceAdmitted fails with ErrCapacityExhausted when a source cannot be added
// to the existing source pipeline of t. Replacing a source is always admitted.
func sourceAdmitted(t *Tree) error {
	if t.Source == nil && !t.SourceNode().AllowMoreElements() {
		return exhausted(t, "the source")
	}
	return nil
}

// sourcePipeline returns the source pipeline of t, creating it on n if needed.
func sourcePipeline(t *Tree, n *model.Node) (*model.Pipeline, error) {
	if t.SourcePipeline != nil {
		return t.SourcePipeline, nil
	}
	p, err := n.CreatePipeline(t.ID)
	if err != nil {
		return nil, err
	}
	t.SourcePipeline = p
	t.addPipeline(p)
	return p, nil
}

// bridge creates a pipeline for t on n and links it from the source pipeline.
// The source side Link is fed by the source; the returned Link feeds the new
// pipeline.
func bridge(t *Tree, n *model.Node) (*model.Pipeline, *model.Link, error) {
	leaf, err := n.CreatePipeline(t.ID)
	if err != nil {
		return nil, nil, err
	}
	local, remote, err := t.SourcePipeline.LinkTo(leaf, linkLabel(t, n))
	if err != nil {
		_ = leaf.Release()
		return nil, nil, err
	}
	if err := t.Source.Connect(local); err != nil {
		_ = local.Release()
		_ = leaf.Release()
		return nil, nil, err
	}
	t.addPipeline(leaf)
	scope.WithLabels("tree", t.ID).Debugf("bridged %s to %s", nodeLabel(t.SourceNode()), n.Label())
	return leaf, remote, nil
}

// inbound returns the Link feeding a leaf pipeline, or nil.
func inbound(p *model.Pipeline) *model.Link {
	for _, l := range p.Links() {
		if l.Source() == nil {
			return l
		}
	}
	return nil
}

// sinkTerminal returns the sink registered under sinkID.
func sinkTerminal(t *Tree, sinkID string) (*model.Terminal, error) {
	term, ok := t.Sinks[sinkID]
	if !ok {
		return nil, fmt.Errorf("%w: tree %q has no sink %q", model.ErrInvalidTopology, t.ID, sinkID)
	}
	return term, nil
}

// dropSink releases a sink. When the sink was the last one fed by a bridge, the
// leaf pipeline and the source side Link go too.
func dropSink(t *Tree, sinkID string) error {
	term, err := sinkTerminal(t, sinkID)
	if err != nil {
		return err
	}
	upstream := term.Source()
	delete(t.Sinks, sinkID)

	var errs *multierror.Error
	if err := term.Release(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if in, ok := upstream.(*model.Link); ok && in.Pipeline() != t.SourcePipeline && len(in.Sinks()) == 0 {
		if err := dropLeaf(t, in); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if t.Source == nil {
		if err := releaseIfEmpty(t, t.SourcePipeline); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// dropLeaf releases the pipeline fed by in and the Link feeding in.
func dropLeaf(t *Tree, in *model.Link) error {
	var errs *multierror.Error
	partner := in.LinkedTo()
	p := in.Pipeline()
	if err := p.Release(); err != nil {
		errs = multierror.Append(errs, err)
	}
	t.dropPipeline(p)
	if partner != nil {
		if err := partner.Release(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	scope.WithLabels("tree", t.ID).Debugf("dropped bridge to %s", p.Node().Label())
	return errs.ErrorOrNil()
}

// releaseAll releases every pipeline t owns.
func releaseAll(t *Tree) error {
	var errs *multierror.Error
	for _, p := range t.Pipelines {
		if err := p.Release(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if t.SourcePipeline != nil {
		if err := t.SourcePipeline.Release(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	t.Source, t.SourcePipeline = nil, nil
	t.Sinks = make(map[string]*model.Terminal)
	t.Pipelines = make(map[*model.Node]*model.Pipeline)
	return errs.ErrorOrNil()
}

func exhausted(t *Tree, what string) error {
	return fmt.Errorf("%w: no node admits %s of tree %q", model.ErrCapacityExhausted, what, t.ID)
}

// isPlacementError reports whether err only rules out the node it happened on.
func isPlacementError(err error) bool {
	return errors.Is(err, model.ErrNodeRetired) || errors.Is(err, model.ErrCapacityExhausted)
}
