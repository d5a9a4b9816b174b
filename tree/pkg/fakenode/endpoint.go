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

package fakenode

import (
	"errors"
	"fmt"
	"sync"

	"mediatree.io/mediatree/tree/pkg/model"
)

// Endpoint implements model.Endpoint.
type Endpoint struct {
	pipeline    *Pipeline
	label       string
	kind        model.EndpointKind
	onCandidate func(model.Candidate)

	mu       sync.Mutex
	mids     []string
	sinks    []*Endpoint
	peer     *Endpoint
	remote   []model.Candidate
	released bool
}

var _ model.Endpoint = &Endpoint{}

func (e *Endpoint) faults() *Faults {
	return e.pipeline.driver.faults
}

func (e *Endpoint) ProcessOffer(offer string) (string, error) {
	if e.faults().Offer.Load() {
		return "", fmt.Errorf("process offer on %s: %w", e.label, errInjected)
	}
	if e.kind != model.EndpointWebRTC {
		return "", fmt.Errorf("%s is not a webrtc endpoint", e.label)
	}
	answer, mids, err := answerFor(offer)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return "", errReleased
	}
	e.mids = mids
	return answer, nil
}

func (e *Endpoint) GatherCandidates() error {
	if e.faults().Gather.Load() {
		return fmt.Errorf("gather on %s: %w", e.label, errInjected)
	}
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return errReleased
	}
	mids := e.mids
	cb := e.onCandidate
	e.mu.Unlock()

	if len(mids) == 0 {
		mids = []string{"0"}
	}
	if cb == nil {
		return nil
	}
	for i, mid := range mids {
		cb(e.pipeline.driver.hostCandidate(mid, i))
	}
	return nil
}

func (d *Driver) hostCandidate(mid string, index int) model.Candidate {
	octet := d.hostOctet.Inc()%250 + 1
	return model.Candidate{
		Candidate:     fmt.Sprintf("candidate:1 1 UDP 2122260223 10.0.%d.%d %d typ host", len(d.label)%250, octet, 40000+octet),
		SdpMid:        mid,
		SdpMLineIndex: index,
	}
}

func (e *Endpoint) AddCandidate(c model.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return errReleased
	}
	e.remote = append(e.remote, c)
	return nil
}

// RemoteCandidates returns the candidates added to the endpoint.
func (e *Endpoint) RemoteCandidates() []model.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Candidate(nil), e.remote...)
}

func (e *Endpoint) Connect(sink model.Endpoint) error {
	s, ok := sink.(*Endpoint)
	if !ok {
		return fmt.Errorf("cannot connect to foreign endpoint %T", sink)
	}
	if s.pipeline != e.pipeline {
		return errors.New("endpoints belong to different pipelines")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return errReleased
	}
	e.sinks = append(e.sinks, s)
	return nil
}

func (e *Endpoint) LinkAcrossNodes(peer model.Endpoint) error {
	if e.faults().Link.Load() {
		return fmt.Errorf("link %s: %w", e.label, errInjected)
	}
	p, ok := peer.(*Endpoint)
	if !ok {
		return fmt.Errorf("cannot link to foreign endpoint %T", peer)
	}
	if e.kind != model.EndpointLink || p.kind != model.EndpointLink {
		return errors.New("only link endpoints can be bridged")
	}

	// the two halves exchange one host candidate each
	local := e.pipeline.driver.hostCandidate("0", 0)
	remote := p.pipeline.driver.hostCandidate("0", 0)

	e.mu.Lock()
	e.peer = p
	e.remote = append(e.remote, remote)
	e.mu.Unlock()

	p.mu.Lock()
	p.peer = e
	p.remote = append(p.remote, local)
	p.mu.Unlock()
	return nil
}

func (e *Endpoint) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return nil
	}
	e.released = true
	e.sinks = nil
	e.peer = nil
	e.pipeline.driver.endpoints.Dec()
	return nil
}
