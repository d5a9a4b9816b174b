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

package candidates

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mediatree.io/mediatree/pkg/queue"
	"mediatree.io/mediatree/pkg/test/util/assert"
	"mediatree.io/mediatree/tree/pkg/model"
)

type collector struct {
	mu     sync.Mutex
	events []Event
	fail   int
}

func (c *collector) SendCandidate(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return errors.New("session not ready")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Candidate.Candidate)
	}
	return out
}

func event(tree, sink, cand string) Event {
	return Event{TreeID: tree, SinkID: sink, Candidate: model.Candidate{Candidate: cand}}
}

func TestSynchronousDelivery(t *testing.T) {
	h := NewHub(nil, 0)
	c := &collector{}
	h.Register(Key{"t1", "s1"}, c)

	h.Publish(event("t1", "s1", "a"))
	h.Publish(event("t1", "s2", "b"))
	assert.Equal(t, c.candidates(), []string{"a"})
	assert.Equal(t, h.Pending(Key{"t1", "s2"}), 1)
}

func TestBufferedUntilRegistered(t *testing.T) {
	h := NewHub(nil, 2)
	k := Key{"t1", ""}
	h.Publish(event("t1", "", "a"))
	h.Publish(event("t1", "", "b"))
	h.Publish(event("t1", "", "c"))
	assert.Equal(t, h.Pending(k), 2)

	c := &collector{}
	h.Register(k, c)
	assert.Equal(t, c.candidates(), []string{"b", "c"})
	assert.Equal(t, h.Pending(k), 0)
}

func TestUnregisterAndForget(t *testing.T) {
	h := NewHub(nil, 0)
	c := &collector{}
	h.Register(Key{"t1", "s1"}, c)
	h.Register(Key{"t2", "s1"}, c)
	h.Publish(event("t1", "s9", "x"))

	h.Forget("t1")
	assert.Equal(t, h.Pending(Key{"t1", "s9"}), 0)
	h.Publish(event("t1", "s1", "dropped"))
	h.Publish(event("t2", "s1", "kept"))
	assert.Equal(t, c.candidates(), []string{"kept"})

	h.UnregisterSink(c)
	h.Publish(event("t2", "s1", "buffered"))
	assert.Equal(t, h.Pending(Key{"t2", "s1"}), 1)
}

func TestQueuedDeliveryRetries(t *testing.T) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Millisecond
	eb.MaxInterval = 5 * time.Millisecond
	q := queue.NewBackOffQueue(eb)
	stop := make(chan struct{})
	defer close(stop)
	go q.Run(stop)

	h := NewHub(q, 0)
	c := &collector{fail: 2}
	h.Register(Key{"t1", "s1"}, c)
	h.Callback(Key{"t1", "s1"})(model.Candidate{Candidate: "a"})

	deadline := time.Now().Add(5 * time.Second)
	for len(c.candidates()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("candidate never delivered")
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, c.candidates(), []string{"a"})
}
