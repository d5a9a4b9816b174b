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

// Package candidates routes ICE candidates gathered by processing nodes back to
// the sessions that own the corresponding tree source or sink.
package candidates

import (
	"sync"

	"mediatree.io/mediatree/pkg/log"
	"mediatree.io/mediatree/pkg/queue"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/monitoring"
)

var scope = log.RegisterScope("candidates", "ice candidate delivery")

// DefaultBufferSize bounds the candidates kept for a key nobody listens to yet.
const DefaultBufferSize = 64

// Key names a Terminal of a tree. SinkID is empty for the tree source.
type Key struct {
	TreeID string
	SinkID string
}

// Event is a candidate gathered by the Terminal identified by TreeID and SinkID.
type Event struct {
	TreeID    string
	SinkID    string
	Candidate model.Candidate
}

func (e Event) Key() Key {
	return Key{TreeID: e.TreeID, SinkID: e.SinkID}
}

// Sink receives candidate events, typically a client session.
type Sink interface {
	SendCandidate(ev Event) error
}

// Hub keeps one delivery channel per Key. Events published for a key with no
// registered channel are buffered until one registers.
type Hub struct {
	q     queue.Instance
	limit int

	mu      sync.Mutex
	sinks   map[Key]Sink
	pending map[Key][]Event
}

// NewHub creates a hub delivering through q. With a nil queue events are sent
// synchronously from the publishing goroutine. limit <= 0 selects DefaultBufferSize.
func NewHub(q queue.Instance, limit int) *Hub {
	if limit <= 0 {
		limit = DefaultBufferSize
	}
	return &Hub{
		q:       q,
		limit:   limit,
		sinks:   make(map[Key]Sink),
		pending: make(map[Key][]Event),
	}
}

// Register sets the delivery channel of k and flushes what was buffered for it.
func (h *Hub) Register(k Key, s Sink) {
	h.mu.Lock()
	h.sinks[k] = s
	buffered := h.pending[k]
	delete(h.pending, k)
	if h.q != nil {
		for _, ev := range buffered {
			h.enqueueLocked(s, ev)
		}
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	for _, ev := range buffered {
		h.send(s, ev)
	}
}

// Unregister drops the delivery channel of k and anything buffered for it.
func (h *Hub) Unregister(k Key) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sinks, k)
	delete(h.pending, k)
}

// UnregisterSink drops every key delivered to s, as when a session closes.
func (h *Hub) UnregisterSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, o := range h.sinks {
		if o == s {
			delete(h.sinks, k)
		}
	}
}

// Forget drops channels and buffers of every key of a tree.
func (h *Hub) Forget(treeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.sinks {
		if k.TreeID == treeID {
			delete(h.sinks, k)
		}
	}
	for k := range h.pending {
		if k.TreeID == treeID {
			delete(h.pending, k)
		}
	}
}

// Pending returns the number of events buffered for k.
func (h *Hub) Pending(k Key) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending[k])
}

// Publish delivers ev to the channel registered for its key, or buffers it.
func (h *Hub) Publish(ev Event) {
	k := ev.Key()
	h.mu.Lock()
	s, ok := h.sinks[k]
	if !ok {
		buf := append(h.pending[k], ev)
		if len(buf) > h.limit {
			scope.Warnf("dropping oldest buffered candidate of tree %s sink %q", k.TreeID, k.SinkID)
			monitoring.Candidates.WithLabelValues("dropped").Inc()
			buf = buf[1:]
		}
		h.pending[k] = buf
		h.mu.Unlock()
		monitoring.Candidates.WithLabelValues("buffered").Inc()
		return
	}
	if h.q != nil {
		h.enqueueLocked(s, ev)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.send(s, ev)
}

// Callback returns a function publishing the candidates of the Terminal named by k.
func (h *Hub) Callback(k Key) func(model.Candidate) {
	return func(c model.Candidate) {
		h.Publish(Event{TreeID: k.TreeID, SinkID: k.SinkID, Candidate: c})
	}
}

func (h *Hub) enqueueLocked(s Sink, ev Event) {
	h.q.Push(func() error {
		err := s.SendCandidate(ev)
		monitoring.Candidates.WithLabelValues(outcome(err)).Inc()
		return err
	})
}

func (h *Hub) send(s Sink, ev Event) {
	err := s.SendCandidate(ev)
	monitoring.Candidates.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		scope.Warnf("delivering candidate of tree %s sink %q: %v", ev.TreeID, ev.SinkID, err)
	}
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "delivered"
}
