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
	"strings"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
)

const fingerprint = "B4:5E:2A:9C:01:7F:33:D0:5A:C2:8E:61:4B:19:EF:70:AD:3C:98:12:6B:47:F5:0E:C1:D6:29:8A:73:BE:04:5D"

var errNoMedia = errors.New("offer has no media sections")

// answerFor builds an SDP answer mirroring the media sections of offer. It also
// returns the mids of the offered sections, in order.
func answerFor(offer string) (string, []string, error) {
	var o sdp.SessionDescription
	if err := o.Unmarshal([]byte(offer)); err != nil {
		return "", nil, fmt.Errorf("malformed offer: %v", err)
	}
	if len(o.MediaDescriptions) == 0 {
		return "", nil, errNoMedia
	}

	answer, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return "", nil, err
	}
	answer.SessionName = "mediatree"

	creds := strings.ReplaceAll(uuid.NewString(), "-", "")
	ufrag, pwd := creds[:8], creds[8:]

	var mids []string
	for i, m := range o.MediaDescriptions {
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   m.MediaName.Media,
				Port:    sdp.RangedPort{Value: 9},
				Protos:  m.MediaName.Protos,
				Formats: m.MediaName.Formats,
			},
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: "0.0.0.0"},
			},
		}

		mid, ok := m.Attribute("mid")
		if !ok {
			mid = fmt.Sprint(i)
		}
		mids = append(mids, mid)

		md = md.WithValueAttribute("mid", mid).
			WithICECredentials(ufrag, pwd).
			WithFingerprint("sha-256", fingerprint).
			WithValueAttribute("setup", "active").
			WithPropertyAttribute(answerDirection(m))
		for _, a := range m.Attributes {
			switch a.Key {
			case "rtpmap", "fmtp", "rtcp-fb", "rtcp-mux":
				md.Attributes = append(md.Attributes, a)
			}
		}
		answer = answer.WithMedia(md)
	}

	b, err := answer.Marshal()
	if err != nil {
		return "", nil, err
	}
	return string(b), mids, nil
}

func answerDirection(m *sdp.MediaDescription) string {
	for _, a := range m.Attributes {
		switch a.Key {
		case "sendonly":
			return "recvonly"
		case "recvonly":
			return "sendonly"
		case "inactive":
			return "inactive"
		}
	}
	return "sendrecv"
}

// Offer returns a minimal single-video offer with the given direction
// (sendonly for a tree source, recvonly for a sink).
func Offer(direction string) string {
	s, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		panic(err)
	}
	md := sdp.NewJSEPMediaDescription("video", nil).
		WithCodec(96, "VP8", 90000, 0, "").
		WithValueAttribute("mid", "0").
		WithICECredentials("abcd", "0123456789abcdef01234567").
		WithFingerprint("sha-256", fingerprint).
		WithPropertyAttribute(direction)
	b, err := s.WithMedia(md).Marshal()
	if err != nil {
		panic(err)
	}
	return string(b)
}
