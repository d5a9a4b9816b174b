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

package model

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Pipeline is a processing context on one node holding the elements of a single
// tree on that node. Elements live in an arena keyed by ElementID; graph edges
// are stored as ids and resolved through the arena.
type Pipeline struct {
	node  *Node
	label string
	media MediaPipeline

	mu       sync.Mutex
	elements map[ElementID]Element
	order    []ElementID
	released bool
}

func newPipeline(n *Node, label string, media MediaPipeline) *Pipeline {
	return &Pipeline{
		node:     n,
		label:    label,
		media:    media,
		elements: make(map[ElementID]Element),
	}
}

// Node returns the node owning the pipeline.
func (p *Pipeline) Node() *Node {
	return p.node
}

func (p *Pipeline) Label() string {
	return p.label
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("pipeline(%s@%s)", p.label, p.node.Label())
}

// Released reports whether Release has been called.
func (p *Pipeline) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Len returns the number of live elements.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.elements)
}

// Elements returns the live elements in creation order.
func (p *Pipeline) Elements() []Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Element, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.elements[id])
	}
	return out
}

// Terminals returns the live Terminals in creation order.
func (p *Pipeline) Terminals() []*Terminal {
	var out []*Terminal
	for _, e := range p.Elements() {
		if t, ok := e.(*Terminal); ok {
			out = append(out, t)
		}
	}
	return out
}

// Links returns the live Links in creation order.
func (p *Pipeline) Links() []*Link {
	var out []*Link
	for _, e := range p.Elements() {
		if l, ok := e.(*Link); ok {
			out = append(out, l)
		}
	}
	return out
}

// Lookup resolves an element handle. It returns nil for released elements.
func (p *Pipeline) Lookup(id ElementID) Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[id]
}

func (p *Pipeline) lookupLink(id ElementID) *Link {
	l, _ := p.Lookup(id).(*Link)
	return l
}

// CreateTerminal adds a participant endpoint to the pipeline. onCandidate receives
// the candidates the endpoint gathers and may be nil.
func (p *Pipeline) CreateTerminal(label string, onCandidate func(Candidate)) (*Terminal, error) {
	t := &Terminal{}
	if err := p.add(&t.element, t, KindTerminal, EndpointOptions{Label: label, Kind: EndpointWebRTC, OnCandidate: onCandidate}); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateLink adds an unpaired bridge half to the pipeline.
func (p *Pipeline) CreateLink(label string) (*Link, error) {
	l := &Link{}
	if err := p.add(&l.element, l, KindLink, EndpointOptions{Label: label, Kind: EndpointLink}); err != nil {
		return nil, err
	}
	return l, nil
}

// LinkTo creates a Link in p and one in other and pairs them. Both are released
// again if pairing fails.
func (p *Pipeline) LinkTo(other *Pipeline, label string) (*Link, *Link, error) {
	local, err := p.CreateLink(label)
	if err != nil {
		return nil, nil, err
	}
	remote, err := other.CreateLink(label)
	if err != nil {
		_ = local.Release()
		return nil, nil, err
	}
	if err := local.LinkTo(remote); err != nil {
		_ = local.Release()
		_ = remote.Release()
		return nil, nil, err
	}
	return local, remote, nil
}

func (p *Pipeline) add(e *element, self Element, kind ElementKind, opts EndpointOptions) error {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return fmt.Errorf("%w: %v already released", ErrInvalidTopology, p)
	}

	ep, err := p.media.CreateEndpoint(opts)
	if err != nil {
		return collaboratorError("create "+kind.String(), err)
	}

	*e = element{
		id:       nextElementID(),
		kind:     kind,
		label:    opts.Label,
		pipeline: p,
		endpoint: ep,
		self:     self,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		_ = ep.Release()
		return fmt.Errorf("%w: %v already released", ErrInvalidTopology, p)
	}
	p.elements[e.id] = self
	p.order = append(p.order, e.id)
	return nil
}

// detachLocked removes e from its source's sink list. Caller holds p.mu.
func (p *Pipeline) detachLocked(e *element) {
	if e.source == 0 {
		return
	}
	if src := p.elements[e.source]; src != nil {
		b := src.base()
		for i, id := range b.sinks {
			if id == e.id {
				b.sinks = append(b.sinks[:i], b.sinks[i+1:]...)
				break
			}
		}
	}
	e.source = 0
}

// removeLocked drops an element from the arena. Caller holds p.mu.
func (p *Pipeline) removeLocked(id ElementID) {
	delete(p.elements, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Release releases every element, removes the pipeline from its node and
// releases the media pipeline. It is idempotent.
func (p *Pipeline) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	p.mu.Unlock()

	var errs *multierror.Error
	for _, e := range p.Elements() {
		if err := e.Release(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	p.node.removePipeline(p)
	if err := p.media.Release(); err != nil {
		errs = multierror.Append(errs, collaboratorError("release "+p.String(), err))
	}
	scope.Debugf("released %v", p)
	return errs.ErrorOrNil()
}
