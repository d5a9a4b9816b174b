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

package simulation

import (
	"context"
	"math/rand"

	"mediatree.io/mediatree/tree/pkg/fakenode"
	"mediatree.io/mediatree/tree/pkg/strategy"
)

var (
	sourceOffer = fakenode.Offer("sendonly")
	sinkOffer   = fakenode.Offer("recvonly")
)

type sink struct {
	tree string
	id   string
}

// OneSource grows a single tree by adding Add sinks and removing Remove random
// ones per round until Operations sinks have been added.
type OneSource struct {
	Operations int
	Add        int
	Remove     int
	Seed       int64
}

func DefaultOneSource() *OneSource {
	return &OneSource{Operations: 100, Add: 5, Remove: 2}
}

func (u *OneSource) Name() string { return "one-source" }

func (u *OneSource) Run(ctx context.Context, tm strategy.TreeManager, rec *Recorder) error {
	o := ops{tm: tm, rec: rec}
	r := rand.New(rand.NewSource(u.Seed))
	treeID := treeName(0)
	if err := o.create(treeID); err != nil {
		return err
	}

	var sinks []string
	added := 0
	for added < u.Operations {
		for i := 0; i < u.Add && added < u.Operations; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := o.addSink(treeID)
			if err != nil {
				return err
			}
			sinks = append(sinks, id)
			added++
		}
		for i := 0; i < u.Remove && len(sinks) > 0; i++ {
			n := r.Intn(len(sinks))
			id := sinks[n]
			sinks = append(sinks[:n], sinks[n+1:]...)
			if err := o.removeSink(treeID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cyclic runs Trees trees that each grow to MaxSinks sinks, shrink to none and
// are released, Iterations times. Tree i starts after i*CreateDelay turns. Turns
// are handed out at random with a non negative Seed, round robin otherwise.
type Cyclic struct {
	Trees       int
	MaxSinks    int
	Iterations  int
	Seed        int64
	CreateDelay int
}

func DefaultCyclic() *Cyclic {
	return &Cyclic{Trees: 4, MaxSinks: 5, Iterations: 3, Seed: 0, CreateDelay: 2}
}

func (u *Cyclic) Name() string { return "cyclic" }

type cyclicTree struct {
	id        string
	wait      int
	created   bool
	growing   bool
	iteration int
	sinks     []string
}

func (c *cyclicTree) evolve(o ops, maxSinks int) error {
	switch {
	case !c.created:
		if c.wait > 0 {
			c.wait--
			return nil
		}
		if err := o.create(c.id); err != nil {
			return err
		}
		c.created, c.growing = true, true
	case c.growing:
		id, err := o.addSink(c.id)
		if err != nil {
			return err
		}
		c.sinks = append(c.sinks, id)
		if len(c.sinks) >= maxSinks {
			c.growing = false
		}
	default:
		id := c.sinks[0]
		c.sinks = c.sinks[1:]
		if err := o.removeSink(c.id, id); err != nil {
			return err
		}
		if len(c.sinks) == 0 {
			scope.Debugf("restarting %s after iteration %d", c.id, c.iteration)
			if err := o.release(c.id); err != nil {
				return err
			}
			c.created = false
			c.iteration++
		}
	}
	return nil
}

func (u *Cyclic) Run(ctx context.Context, tm strategy.TreeManager, rec *Recorder) error {
	o := ops{tm: tm, rec: rec}
	var r *rand.Rand
	if u.Seed >= 0 {
		r = rand.New(rand.NewSource(u.Seed))
	}

	trees := make([]*cyclicTree, 0, u.Trees)
	for i := 0; i < u.Trees; i++ {
		trees = append(trees, &cyclicTree{id: treeName(i), wait: i * u.CreateDelay})
	}

	next := -1
	for len(trees) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r != nil {
			next = r.Intn(len(trees))
		} else {
			next = (next + 1) % len(trees)
		}
		tr := trees[next]
		if tr.iteration >= u.Iterations {
			trees = append(trees[:next], trees[next+1:]...)
			continue
		}
		if err := tr.evolve(o, u.MaxSinks); err != nil {
			return err
		}
	}
	return nil
}

// NSourcesRandom creates Trees trees up front, then adds a sink to a random tree
// with probability AddProb or removes a random sink otherwise. It stops when
// capacity runs out or after MaxOperations steps.
type NSourcesRandom struct {
	Trees         int
	AddProb       float64
	Seed          int64
	MaxOperations int
}

func DefaultNSourcesRandom() *NSourcesRandom {
	return &NSourcesRandom{Trees: 4, AddProb: 0.8, Seed: 0, MaxOperations: 1000}
}

func (u *NSourcesRandom) Name() string { return "n-sources-random" }

func (u *NSourcesRandom) Run(ctx context.Context, tm strategy.TreeManager, rec *Recorder) error {
	o := ops{tm: tm, rec: rec}
	for i := 0; i < u.Trees; i++ {
		if err := o.create(treeName(i)); err != nil {
			return err
		}
	}

	r := rand.New(rand.NewSource(u.Seed))
	var sinks []sink
	for step := 0; u.MaxOperations <= 0 || step < u.MaxOperations; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Float64() < u.AddProb {
			treeID := treeName(r.Intn(u.Trees))
			id, err := o.addSink(treeID)
			if err != nil {
				return err
			}
			sinks = append(sinks, sink{tree: treeID, id: id})
			continue
		}
		if len(sinks) == 0 {
			continue
		}
		n := int(r.Float64() * float64(len(sinks)))
		s := sinks[n]
		sinks = append(sinks[:n], sinks[n+1:]...)
		if err := o.removeSink(s.tree, s.id); err != nil {
			return err
		}
	}
	return nil
}
