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

// Terminal is an element backing one participant's media endpoint, either the
// source of a tree or one of its sinks. Media negotiation is delegated to the
// processing node.
type Terminal struct {
	element
}

var _ Element = &Terminal{}

func (t *Terminal) Release() error {
	return t.release()
}

// ProcessOffer negotiates the participant's SDP offer and returns the answer.
func (t *Terminal) ProcessOffer(offer string) (string, error) {
	if t.Released() {
		return "", fmt.Errorf("%w: offer on released %v", ErrInvalidTopology, &t.element)
	}
	answer, err := t.endpoint.ProcessOffer(offer)
	if err != nil {
		return "", collaboratorError("process offer", err)
	}
	return answer, nil
}

// GatherCandidates starts ICE gathering. Gathered candidates are reported through
// the OnCandidate callback given at creation.
func (t *Terminal) GatherCandidates() error {
	if t.Released() {
		return fmt.Errorf("%w: gather on released %v", ErrInvalidTopology, &t.element)
	}
	if err := t.endpoint.GatherCandidates(); err != nil {
		return collaboratorError("gather candidates", err)
	}
	return nil
}

// AddCandidate hands a remote ICE candidate to the endpoint.
func (t *Terminal) AddCandidate(c Candidate) error {
	if t.Released() {
		return fmt.Errorf("%w: candidate on released %v", ErrInvalidTopology, &t.element)
	}
	if err := t.endpoint.AddCandidate(c); err != nil {
		return collaboratorError("add candidate", err)
	}
	return nil
}
