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

	"go.uber.org/atomic"

	"mediatree.io/mediatree/pkg/log"
)

var scope = log.RegisterScope("model", "element graph and processing nodes")

// ElementID is an opaque handle for an element inside its pipeline. Zero is never used.
type ElementID uint64

var lastElementID = atomic.NewUint64(0)

func nextElementID() ElementID {
	return ElementID(lastElementID.Inc())
}

// ElementKind distinguishes Terminals from Links.
type ElementKind int

const (
	KindTerminal ElementKind = iota
	KindLink
)

func (k ElementKind) String() string {
	switch k {
	case KindTerminal:
		return "terminal"
	case KindLink:
		return "link"
	default:
		return fmt.Sprintf("ElementKind(%d)", int(k))
	}
}

// Element is a media processing point inside a Pipeline. An element has at most
// one upstream source and any number of downstream sinks; both sides of every
// edge are kept consistent. Once released, an element no longer appears in its
// pipeline and every graph accessor returns empty values.
type Element interface {
	ID() ElementID
	Label() string
	Kind() ElementKind
	Pipeline() *Pipeline
	// Source returns the upstream element, or nil.
	Source() Element
	// Sinks returns the downstream elements in connection order.
	Sinks() []Element
	// Connect makes sink a downstream element of this one. Both must be live and in
	// the same pipeline. A sink that already has a source is detached from it first.
	Connect(sink Element) error
	// Disconnect detaches the element from its source. It is idempotent.
	Disconnect()
	// Release disconnects the element from its source and its sinks, removes it
	// from its pipeline and releases its media endpoint. It is idempotent.
	Release() error
	Released() bool

	base() *element
}

// element holds the state shared by Terminals and Links. Graph fields are guarded
// by the owning pipeline's mutex.
type element struct {
	id       ElementID
	kind     ElementKind
	label    string
	pipeline *Pipeline
	endpoint Endpoint
	self     Element

	source ElementID
	sinks  []ElementID
}

func (e *element) base() *element { return e }

func (e *element) ID() ElementID { return e.id }

func (e *element) Label() string { return e.label }

func (e *element) Kind() ElementKind { return e.kind }

func (e *element) Pipeline() *Pipeline { return e.pipeline }

func (e *element) String() string {
	return fmt.Sprintf("%s(%s#%d)", e.kind, e.label, e.id)
}

func (e *element) Released() bool {
	p := e.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[e.id] == nil
}

func (e *element) Source() Element {
	p := e.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.source == 0 {
		return nil
	}
	return p.elements[e.source]
}

func (e *element) Sinks() []Element {
	p := e.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Element, 0, len(e.sinks))
	for _, id := range e.sinks {
		if s := p.elements[id]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (e *element) Connect(sink Element) error {
	if sink == nil {
		return fmt.Errorf("%w: connect %v to nil", ErrInvalidTopology, e)
	}
	s := sink.base()
	if s.pipeline != e.pipeline {
		return fmt.Errorf("%w: %v and %v belong to different pipelines", ErrInvalidTopology, e, s)
	}
	if s.id == e.id {
		return fmt.Errorf("%w: %v connected to itself", ErrInvalidTopology, e)
	}

	p := e.pipeline
	p.mu.Lock()
	if p.elements[e.id] == nil || p.elements[s.id] == nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: connect %v to %v after release", ErrInvalidTopology, e, s)
	}
	p.mu.Unlock()

	if err := e.endpoint.Connect(s.endpoint); err != nil {
		return collaboratorError("connect", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.elements[e.id] == nil || p.elements[s.id] == nil {
		return fmt.Errorf("%w: connect %v to %v after release", ErrInvalidTopology, e, s)
	}
	if s.source == e.id {
		return nil
	}
	p.detachLocked(s)
	s.source = e.id
	e.sinks = append(e.sinks, s.id)
	return nil
}

func (e *element) Disconnect() {
	p := e.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detachLocked(e)
}

func (e *element) release() error {
	p := e.pipeline
	p.mu.Lock()
	if p.elements[e.id] == nil {
		p.mu.Unlock()
		return nil
	}
	p.detachLocked(e)
	for _, id := range e.sinks {
		if s := p.elements[id]; s != nil {
			s.base().source = 0
		}
	}
	e.sinks = nil
	p.removeLocked(e.id)
	p.mu.Unlock()

	scope.Debugf("released %v", e)
	if err := e.endpoint.Release(); err != nil {
		return collaboratorError("release "+e.label, err)
	}
	return nil
}
