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

// Package fakenode is an in-process processing node driver. Pipelines and
// endpoints only exist in memory; SDP answers are derived from the offer and
// ICE candidates are synthesized. It backs the server when no media server is
// wired, and every engine test.
package fakenode

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"mediatree.io/mediatree/tree/pkg/model"
)

var (
	errClosed   = errors.New("driver closed")
	errReleased = errors.New("already released")
	errInjected = errors.New("injected failure")
)

// Faults switch on failures of individual driver operations.
type Faults struct {
	Pipeline atomic.Bool
	Endpoint atomic.Bool
	Offer    atomic.Bool
	Gather   atomic.Bool
	Link     atomic.Bool
}

// Driver implements model.Driver.
type Driver struct {
	label  string
	faults *Faults

	mu        sync.Mutex
	pipelines map[*Pipeline]struct{}
	closed    bool

	endpoints *atomic.Int64
	hostOctet *atomic.Uint32
}

var _ model.Driver = &Driver{}

// New creates a driver for the node named label. faults may be nil.
func New(label string, faults *Faults) *Driver {
	if faults == nil {
		faults = &Faults{}
	}
	return &Driver{
		label:     label,
		faults:    faults,
		pipelines: make(map[*Pipeline]struct{}),
		endpoints: atomic.NewInt64(0),
		hostOctet: atomic.NewUint32(0),
	}
}

// Faults returns the failure switches of the driver.
func (d *Driver) Faults() *Faults {
	return d.faults
}

// LiveEndpoints returns the number of endpoints not yet released.
func (d *Driver) LiveEndpoints() int {
	return int(d.endpoints.Load())
}

// LivePipelines returns the number of pipelines not yet released.
func (d *Driver) LivePipelines() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pipelines)
}

func (d *Driver) CreatePipeline(label string) (model.MediaPipeline, error) {
	if d.faults.Pipeline.Load() {
		return nil, fmt.Errorf("create pipeline %s: %w", label, errInjected)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errClosed
	}
	p := &Pipeline{driver: d, label: label}
	d.pipelines[p] = struct{}{}
	return p, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Pipeline implements model.MediaPipeline.
type Pipeline struct {
	driver *Driver
	label  string

	mu       sync.Mutex
	released bool
}

func (p *Pipeline) CreateEndpoint(opts model.EndpointOptions) (model.Endpoint, error) {
	if p.driver.faults.Endpoint.Load() {
		return nil, fmt.Errorf("create endpoint %s: %w", opts.Label, errInjected)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, fmt.Errorf("pipeline %s: %w", p.label, errReleased)
	}
	p.driver.endpoints.Inc()
	return &Endpoint{
		pipeline:    p,
		label:       opts.Label,
		kind:        opts.Kind,
		onCandidate: opts.OnCandidate,
	}, nil
}

func (p *Pipeline) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil
	}
	p.released = true

	d := p.driver
	d.mu.Lock()
	delete(d.pipelines, p)
	d.mu.Unlock()
	return nil
}
