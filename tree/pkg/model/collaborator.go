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

// Candidate is an ICE candidate exchanged with a participant.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SdpMid        string `json:"sdpMid"`
	SdpMLineIndex int    `json:"sdpMLineIndex"`
}

// EndpointKind tells the driver which kind of media endpoint to build.
type EndpointKind int

const (
	// EndpointWebRTC is a participant facing endpoint backing a Terminal.
	EndpointWebRTC EndpointKind = iota
	// EndpointLink is one half of a cross-node bridge backing a Link.
	EndpointLink
)

func (k EndpointKind) String() string {
	if k == EndpointLink {
		return "link"
	}
	return "webrtc"
}

// EndpointOptions configure a media endpoint at creation.
type EndpointOptions struct {
	Label string
	Kind  EndpointKind
	// OnCandidate receives candidates gathered by the endpoint. It may be called
	// from any goroutine, and may be nil.
	OnCandidate func(Candidate)
}

// Driver is the media-plane side of a processing node.
type Driver interface {
	CreatePipeline(label string) (MediaPipeline, error)
	Close() error
}

// MediaPipeline is the media-plane side of a Pipeline.
type MediaPipeline interface {
	CreateEndpoint(opts EndpointOptions) (Endpoint, error)
	Release() error
}

// Endpoint is the media-plane side of an Element.
type Endpoint interface {
	ProcessOffer(offer string) (string, error)
	GatherCandidates() error
	AddCandidate(c Candidate) error
	// Connect wires this endpoint's output into sink, within one pipeline.
	Connect(sink Endpoint) error
	// LinkAcrossNodes sets up the transport between two bridge halves living on different nodes.
	LinkAcrossNodes(peer Endpoint) error
	Release() error
}
