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

// Package ledger tracks, per processing node, how many admission slots remain
// unreserved. Strategies reserve slots before building elements so that two
// concurrent placements cannot both fill the last slots of a node.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"mediatree.io/mediatree/pkg/log"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/monitoring"
	"mediatree.io/mediatree/tree/pkg/pool"
)

var scope = log.RegisterScope("ledger", "capacity ledger")

type entry struct {
	holes *atomic.Int64
	// busy counts reserve/free brackets in flight; epoch moves on every bracket
	// entry and exit.
	busy  *atomic.Int32
	epoch *atomic.Uint64
}

func (e *entry) enter() int32 {
	e.epoch.Inc()
	return e.busy.Inc()
}

func (e *entry) leave() {
	e.busy.Dec()
	e.epoch.Inc()
}

// Ledger holds one hole counter per node. Counter updates are lock-free; the
// mutex only guards the entry map.
type Ledger struct {
	capacity int

	mu      sync.RWMutex
	entries map[*model.Node]*entry
}

var (
	_ pool.Listener = &Ledger{}
	_ pool.Retainer = &Ledger{}
)

// New creates a ledger whose entries start with capacity holes.
func New(capacity int) *Ledger {
	return &Ledger{
		capacity: capacity,
		entries:  make(map[*model.Node]*entry),
	}
}

func (l *Ledger) Capacity() int {
	return l.capacity
}

func (l *Ledger) entry(n *model.Node) *entry {
	l.mu.RLock()
	e, ok := l.entries[n]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[n]; ok {
		return e
	}
	e = &entry{
		holes: atomic.NewInt64(int64(l.capacity)),
		busy:  atomic.NewInt32(0),
		epoch: atomic.NewUint64(0),
	}
	l.entries[n] = e
	return e
}

// Holes returns the unreserved slots of n.
func (l *Ledger) Holes(n *model.Node) int {
	return int(l.entry(n).holes.Load())
}

// Reserve takes k holes on n, then runs build. If fewer than k holes remain
// nothing is taken and ErrCapacityExhausted is returned. If build fails the
// holes are given back. When no other reservation or release is in flight on n,
// the ledger is first checked against the live element count of the node.
func (l *Ledger) Reserve(n *model.Node, k int, build func() error) error {
	e := l.entry(n)
	if e.enter() == 1 {
		if err := l.verify(n, e); err != nil {
			e.leave()
			return err
		}
	}
	defer e.leave()

	holes := e.holes.Sub(int64(k))
	if holes < 0 {
		e.holes.Add(int64(k))
		monitoring.LedgerRejections.WithLabelValues("exhausted").Inc()
		scope.Debugf("reserve %d on %s refused, %d holes", k, n.Label(), holes+int64(k))
		return fmt.Errorf("%w: %d slots on %s", model.ErrCapacityExhausted, k, n.Label())
	}
	scope.Debugf("reserve %d on %s => %d", k, n.Label(), holes)

	if build != nil {
		if err := build(); err != nil {
			holes = e.holes.Add(int64(k))
			if errors.Is(err, model.ErrNodeRetired) {
				l.NodeRemoved(n)
			} else {
				l.report(n, holes)
			}
			return err
		}
	}
	l.report(n, holes)
	return nil
}

// Free runs teardown, then returns k holes on n. The holes are returned even if
// teardown fails.
func (l *Ledger) Free(n *model.Node, k int, teardown func() error) error {
	e := l.entry(n)
	e.enter()
	defer e.leave()

	var err error
	if teardown != nil {
		err = teardown()
	}
	holes := e.holes.Add(int64(k))
	if holes > int64(l.capacity) {
		scope.Errorf("free %d on %s overflows capacity: %d holes of %d", k, n.Label(), holes, l.capacity)
	}
	scope.Debugf("free %d on %s => %d", k, n.Label(), holes)
	l.report(n, holes)
	return err
}

// Settle runs fn on n inside a bracket. fn returns the number of elements it
// removed from n for good, and as many holes are returned before the bracket
// closes, whether fn failed or not.
func (l *Ledger) Settle(n *model.Node, fn func() (int, error)) error {
	e := l.entry(n)
	e.enter()
	defer e.leave()

	freed, err := fn()
	if freed != 0 {
		holes := e.holes.Add(int64(freed))
		scope.Debugf("settle %d on %s => %d", freed, n.Label(), holes)
		l.report(n, holes)
	}
	return err
}

// Verify checks that capacity minus the live elements of n equals its holes.
// It is only meaningful while no reservation is in flight for n.
func (l *Ledger) Verify(n *model.Node) error {
	return l.check(n, l.entry(n).holes.Load(), n.ElementCount())
}

// verify runs the check only if the node stayed quiescent while it was read.
func (l *Ledger) verify(n *model.Node, e *entry) error {
	start := e.epoch.Load()
	holes := e.holes.Load()
	used := n.ElementCount()
	if e.epoch.Load() != start || e.busy.Load() != 1 {
		return nil
	}
	return l.check(n, holes, used)
}

func (l *Ledger) check(n *model.Node, holes int64, used int) error {
	if want := int64(l.capacity - used); want != holes {
		monitoring.LedgerRejections.WithLabelValues("inconsistent").Inc()
		scope.Errorf("incongruent count on node %s: %d holes but should be %d", n.Label(), holes, want)
		return fmt.Errorf("%w: node %s has %d holes, %d live elements, capacity %d",
			model.ErrLedgerInconsistent, n.Label(), holes, used, l.capacity)
	}
	return nil
}

func (l *Ledger) report(n *model.Node, holes int64) {
	monitoring.LedgerHoles.WithLabelValues(n.Label()).Set(float64(holes))
}

// NodeAdded creates the entry of n.
func (l *Ledger) NodeAdded(n *model.Node) {
	l.report(n, l.entry(n).holes.Load())
}

// NodeRemoved drops the entry of n.
func (l *Ledger) NodeRemoved(n *model.Node) {
	l.mu.Lock()
	delete(l.entries, n)
	l.mu.Unlock()
	monitoring.LedgerHoles.DeleteLabelValues(n.Label())
}

// Retains keeps nodes with outstanding reservations in their pool.
func (l *Ledger) Retains(n *model.Node) bool {
	l.mu.RLock()
	e, ok := l.entries[n]
	l.mu.RUnlock()
	if !ok {
		return false
	}
	return e.busy.Load() > 0 || e.holes.Load() != int64(l.capacity)
}
