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

// Package strategy places broadcast trees onto a node pool.
//
// A Strategy decides, for each tree operation, which node hosts a new element
// and how cross-node Links are built and torn down. The Registry wraps a
// Strategy with the lifecycle shared by all of them: the tree table, per-tree
// serialization, id generation, candidate routing and metrics. The Registry is
// the TreeManager the outer layers talk to.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"mediatree.io/mediatree/pkg/log"
	"mediatree.io/mediatree/tree/pkg/candidates"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/monitoring"
	"mediatree.io/mediatree/tree/pkg/pool"
)

var scope = log.RegisterScope("strategy", "tree placement strategies")

// TreeEndpoint is the result of adding a sink.
type TreeEndpoint struct {
	SinkID    string `json:"sinkId"`
	AnswerSdp string `json:"answerSdp"`
}

// TreeManager is the strategy agnostic facade over tree operations. session
// receives the ICE candidates of the Terminal created by the call and may be nil.
type TreeManager interface {
	CreateTree() (string, error)
	CreateTreeWithID(treeID string) error
	ReleaseTree(treeID string) error
	SetTreeSource(session candidates.Sink, treeID, offerSdp string) (string, error)
	RemoveTreeSource(treeID string) error
	AddTreeSink(session candidates.Sink, treeID, offerSdp string) (TreeEndpoint, error)
	RemoveTreeSink(treeID, sinkID string) error
	AddSinkIceCandidate(treeID, sinkID string, c model.Candidate) error
	AddTreeIceCandidate(treeID string, c model.Candidate) error
	NodePool() pool.Pool
}

// Strategy is a placement rule. Every method but Name, Pool and SingleTree is
// called with the tree locked.
type Strategy interface {
	Name() string
	Pool() pool.Pool
	// SingleTree reports whether at most one tree may exist at a time.
	SingleTree() bool

	Init(t *Tree) error
	// SetSource builds the source Terminal of t, replacing an existing one.
	SetSource(t *Tree, offerSdp string, onCandidate func(model.Candidate)) (string, error)
	RemoveSource(t *Tree) error
	// AddSink builds a sink Terminal registered under sinkID. t has a source.
	AddSink(t *Tree, sinkID, offerSdp string, onCandidate func(model.Candidate)) (string, error)
	// RemoveSink releases an existing sink and whatever only it depended on.
	RemoveSink(t *Tree, sinkID string) error
	// Release releases everything t owns.
	Release(t *Tree) error
}

// Registry implements TreeManager on top of a Strategy.
type Registry struct {
	strategy Strategy
	hub      *candidates.Hub

	trees sync.Map

	// serializes tree creation for single tree strategies
	singleMu sync.Mutex
}

var _ TreeManager = &Registry{}

// NewRegistry wraps s. Candidates are routed through hub, which may be nil.
func NewRegistry(s Strategy, hub *candidates.Hub) *Registry {
	return &Registry{strategy: s, hub: hub}
}

// Strategy returns the wrapped strategy.
func (r *Registry) Strategy() Strategy {
	return r.strategy
}

func (r *Registry) NodePool() pool.Pool {
	return r.strategy.Pool()
}

func (r *Registry) CreateTree() (string, error) {
	id := uuid.NewString()
	if err := r.create(id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Registry) CreateTreeWithID(treeID string) error {
	if treeID == "" {
		return r.observe("createTree", fmt.Errorf("%w: empty tree id", model.ErrInvalidTopology))
	}
	return r.create(treeID)
}

func (r *Registry) create(id string) (err error) {
	defer func() { r.observe("createTree", err) }()

	if r.strategy.SingleTree() {
		r.singleMu.Lock()
		defer r.singleMu.Unlock()
		if n := r.count(); n > 0 {
			return fmt.Errorf("%w: %s allows a single tree", model.ErrTreeExists, r.strategy.Name())
		}
	}

	t := newTree(id)
	t.mu.Lock()
	if _, loaded := r.trees.LoadOrStore(id, t); loaded {
		t.mu.Unlock()
		scope.Infof("creating an already created tree with id %q", id)
		return nil
	}

	if err := r.strategy.Init(t); err != nil {
		t.released = true
		r.trees.Delete(id)
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	monitoring.Trees.Inc()
	scope.WithLabels("tree", id).Infof("created tree with %s", r.strategy.Name())
	return nil
}

func (r *Registry) count() int {
	n := 0
	r.trees.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// with runs fn with the tree locked.
func (r *Registry) with(op, treeID string, fn func(t *Tree) error) error {
	v, ok := r.trees.Load(treeID)
	if !ok {
		return r.observe(op, fmt.Errorf("%w: %q", model.ErrUnknownTree, treeID))
	}
	t := v.(*Tree)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return r.observe(op, fmt.Errorf("%w: %q", model.ErrUnknownTree, treeID))
	}
	return r.observe(op, fn(t))
}

func (r *Registry) observe(op string, err error) error {
	monitoring.TreeOperations.WithLabelValues(r.strategy.Name(), op, monitoring.Result(err)).Inc()
	return err
}

func (r *Registry) ReleaseTree(treeID string) error {
	return r.with("releaseTree", treeID, func(t *Tree) error {
		sinks := len(t.Sinks)
		err := r.strategy.Release(t)
		t.released = true
		t.Source, t.SourcePipeline = nil, nil
		t.Sinks = map[string]*model.Terminal{}
		t.Pipelines = map[*model.Node]*model.Pipeline{}
		r.trees.Delete(treeID)
		if r.hub != nil {
			r.hub.Forget(treeID)
		}
		monitoring.Trees.Dec()
		monitoring.Sinks.Sub(float64(sinks))
		scope.WithLabels("tree", treeID).Infof("released tree")
		return err
	})
}

func (r *Registry) SetTreeSource(session candidates.Sink, treeID, offerSdp string) (string, error) {
	var answer string
	err := r.with("setTreeSource", treeID, func(t *Tree) error {
		key := candidates.Key{TreeID: treeID}
		cb := r.route(session, key)
		var err error
		answer, err = r.strategy.SetSource(t, offerSdp, cb)
		if err != nil {
			r.unroute(session, key)
			return err
		}
		scope.WithLabels("tree", treeID, "node", nodeLabel(t.SourceNode())).Infof("source set")
		return nil
	})
	return answer, err
}

func (r *Registry) RemoveTreeSource(treeID string) error {
	return r.with("removeTreeSource", treeID, func(t *Tree) error {
		if t.Source == nil {
			return nil
		}
		if err := r.strategy.RemoveSource(t); err != nil {
			return err
		}
		if r.hub != nil {
			r.hub.Unregister(candidates.Key{TreeID: treeID})
		}
		scope.WithLabels("tree", treeID).Infof("source removed")
		return nil
	})
}

func (r *Registry) AddTreeSink(session candidates.Sink, treeID, offerSdp string) (TreeEndpoint, error) {
	var ep TreeEndpoint
	err := r.with("addTreeSink", treeID, func(t *Tree) error {
		if t.Source == nil {
			return fmt.Errorf("%w: tree %q has no source", model.ErrInvalidTopology, treeID)
		}
		sinkID := uuid.NewString()
		key := candidates.Key{TreeID: treeID, SinkID: sinkID}
		cb := r.route(session, key)
		answer, err := r.strategy.AddSink(t, sinkID, offerSdp, cb)
		if err != nil {
			r.unroute(session, key)
			return err
		}
		ep = TreeEndpoint{SinkID: sinkID, AnswerSdp: answer}
		monitoring.Sinks.Inc()
		scope.WithLabels("tree", treeID, "sink", sinkID, "node", t.Sinks[sinkID].Pipeline().Node().Label()).
			Infof("sink added")
		return nil
	})
	return ep, err
}

func (r *Registry) RemoveTreeSink(treeID, sinkID string) error {
	return r.with("removeTreeSink", treeID, func(t *Tree) error {
		if _, ok := t.Sinks[sinkID]; !ok {
			return fmt.Errorf("%w: tree %q has no sink %q", model.ErrInvalidTopology, treeID, sinkID)
		}
		if err := r.strategy.RemoveSink(t, sinkID); err != nil {
			return err
		}
		if r.hub != nil {
			r.hub.Unregister(candidates.Key{TreeID: treeID, SinkID: sinkID})
		}
		monitoring.Sinks.Dec()
		scope.WithLabels("tree", treeID, "sink", sinkID).Infof("sink removed")
		return nil
	})
}

func (r *Registry) AddSinkIceCandidate(treeID, sinkID string, c model.Candidate) error {
	return r.with("addSinkIceCandidate", treeID, func(t *Tree) error {
		return addCandidate(t.Sinks[sinkID], treeID, sinkID, c)
	})
}

func (r *Registry) AddTreeIceCandidate(treeID string, c model.Candidate) error {
	return r.with("addTreeIceCandidate", treeID, func(t *Tree) error {
		return addCandidate(t.Source, treeID, "", c)
	})
}

// addCandidate hands c to term. A Terminal that is already gone is a benign
// race with its removal and only logged.
func addCandidate(term *model.Terminal, treeID, sinkID string, c model.Candidate) error {
	if term == nil || term.Released() {
		scope.WithLabels("tree", treeID, "sink", sinkID).Warnf("received ice candidate for a terminal that no longer exists")
		return nil
	}
	return term.AddCandidate(c)
}

func (r *Registry) route(session candidates.Sink, key candidates.Key) func(model.Candidate) {
	if session == nil || r.hub == nil {
		return nil
	}
	r.hub.Register(key, session)
	return r.hub.Callback(key)
}

func (r *Registry) unroute(session candidates.Sink, key candidates.Key) {
	if session != nil && r.hub != nil {
		r.hub.Unregister(key)
	}
}

// Trees returns a summary of every live tree, ordered by id.
func (r *Registry) Trees() []Summary {
	var ids []string
	r.trees.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		v, ok := r.trees.Load(id)
		if !ok {
			continue
		}
		t := v.(*Tree)
		t.mu.Lock()
		if !t.released {
			out = append(out, t.summary())
		}
		t.mu.Unlock()
	}
	return out
}

// Tree runs fn with the tree locked. It is meant for inspection.
func (r *Registry) Tree(treeID string, fn func(t *Tree)) error {
	v, ok := r.trees.Load(treeID)
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrUnknownTree, treeID)
	}
	t := v.(*Tree)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return fmt.Errorf("%w: %q", model.ErrUnknownTree, treeID)
	}
	fn(t)
	return nil
}
