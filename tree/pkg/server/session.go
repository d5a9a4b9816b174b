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

package server

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"

	"mediatree.io/mediatree/tree/pkg/candidates"
)

var sessionIDs = atomic.NewUint64(0)

// session is one websocket client. It is also the delivery channel of the
// candidates gathered for the Terminals the client created.
type session struct {
	id   uint64
	conn *websocket.Conn

	// serializes writes; gorilla connections support one concurrent writer
	mu     sync.Mutex
	closed bool
}

var _ candidates.Sink = &session{}

func newSession(conn *websocket.Conn) *session {
	return &session{id: sessionIDs.Inc(), conn: conn}
}

func (s *session) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *session) SendCandidate(ev candidates.Event) error {
	err := s.write(Notification{
		JSONRPC: jsonrpcVersion,
		Method:  EventIceCandidate,
		Params: IceCandidateEvent{
			TreeID:        ev.TreeID,
			SinkID:        ev.SinkID,
			Candidate:     ev.Candidate.Candidate,
			SdpMid:        ev.Candidate.SdpMid,
			SdpMLineIndex: ev.Candidate.SdpMLineIndex,
		},
	})
	if err != nil {
		scope.Debugf("session %d: sending candidate of %s/%s: %v", s.id, ev.TreeID, ev.SinkID, err)
	}
	return err
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = s.conn.Close()
}
