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

import "fmt"

// Link is one half of a bridge between two pipelines on different nodes. A Link
// can be paired with a partner once in its lifetime; the pairing is symmetric and
// cleared on both sides when either half is released.
type Link struct {
	element

	// guarded by pipeline.mu
	peerPipeline *Pipeline
	peerID       ElementID
	linked       bool
}

var _ Element = &Link{}

// LinkedTo returns the partner Link, or nil when unpaired or when the partner is gone.
func (l *Link) LinkedTo() *Link {
	p := l.pipeline
	p.mu.Lock()
	pp, id := l.peerPipeline, l.peerID
	p.mu.Unlock()
	if pp == nil {
		return nil
	}
	return pp.lookupLink(id)
}

// Linked reports whether l has ever been paired. A linked Link stays unusable
// for new pairings after its partner is gone.
func (l *Link) Linked() bool {
	p := l.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	return l.linked
}

// LinkTo pairs l with other. The halves must live on different nodes and neither
// may have been paired before.
func (l *Link) LinkTo(other *Link) error {
	if other == nil {
		return fmt.Errorf("%w: link %v to nil", ErrInvalidTopology, &l.element)
	}
	if other.pipeline.node == l.pipeline.node {
		return fmt.Errorf("%w: %v and %v are on the same node", ErrInvalidTopology, &l.element, &other.element)
	}
	if err := l.claim(); err != nil {
		return err
	}
	if err := other.claim(); err != nil {
		l.unclaim()
		return err
	}

	if err := l.endpoint.LinkAcrossNodes(other.endpoint); err != nil {
		l.unclaim()
		other.unclaim()
		return collaboratorError("link across nodes", err)
	}

	l.setPeer(other)
	other.setPeer(l)
	scope.Debugf("linked %v <-> %v", &l.element, &other.element)
	return nil
}

func (l *Link) claim() error {
	p := l.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.elements[l.id] == nil {
		return fmt.Errorf("%w: %v already released", ErrInvalidTopology, &l.element)
	}
	if l.linked {
		return fmt.Errorf("%w: %v can only be linked once", ErrInvalidTopology, &l.element)
	}
	l.linked = true
	return nil
}

func (l *Link) unclaim() {
	p := l.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	l.linked = false
}

func (l *Link) setPeer(other *Link) {
	p := l.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.elements[l.id] == nil {
		return
	}
	l.peerPipeline = other.pipeline
	l.peerID = other.id
}

// clearPeer drops the backlink if it still points at the given half.
func (l *Link) clearPeer(pp *Pipeline, id ElementID) {
	p := l.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	if l.peerPipeline == pp && l.peerID == id {
		l.peerPipeline = nil
		l.peerID = 0
	}
}

func (l *Link) Release() error {
	peer := l.LinkedTo()
	err := l.release()
	if peer != nil {
		peer.clearPeer(l.pipeline, l.id)
	}
	p := l.pipeline
	p.mu.Lock()
	l.peerPipeline, l.peerID = nil, 0
	p.mu.Unlock()
	return err
}
