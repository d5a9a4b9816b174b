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

// Package bootstrap builds a tree server from its configuration.
package bootstrap

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"mediatree.io/mediatree/pkg/log"
	"mediatree.io/mediatree/pkg/queue"
	"mediatree.io/mediatree/pkg/version"
	"mediatree.io/mediatree/tree/pkg/candidates"
	"mediatree.io/mediatree/tree/pkg/fakenode"
	"mediatree.io/mediatree/tree/pkg/ledger"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/pool"
	"mediatree.io/mediatree/tree/pkg/server"
	"mediatree.io/mediatree/tree/pkg/strategy"
)

var scope = log.RegisterScope("bootstrap", "tree server bootstrap")

// Components are the wired parts of a tree server.
type Components struct {
	Config *Config
	Pool   pool.Pool
	// Registrar is set in registrar mode, and is the same pool as Pool.
	Registrar *pool.Registrar
	Ledger    *ledger.Ledger
	Strategy  strategy.Strategy
	Queue     queue.Instance
	Hub       *candidates.Hub
	Registry  *strategy.Registry
	Server    *server.Server
}

// NodeFactory returns the factory of in-process nodes of the given capacity.
func NodeFactory(capacity int) pool.NodeFactory {
	return func(label string) (*model.Node, error) {
		return model.NewNode(label, fakenode.New(label, nil), model.MaxElements(capacity)), nil
	}
}

// Build wires the pool, the strategy, the candidate hub and the server
// described by c. Nodes are produced by factory, or in process when nil.
func Build(c *Config, factory pool.NodeFactory) (*Components, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		factory = NodeFactory(c.Node.Capacity)
	}
	comps := &Components{Config: c}

	var err error
	switch c.Pool.Mode {
	case PoolFixed:
		comps.Pool, err = pool.NewFixedFromFactory(c.Node.Capacity, c.Pool.Size, factory)
	case PoolMinFree:
		comps.Pool, err = pool.NewMinFreeSpace(c.Node.Capacity, c.Pool.MinFree, c.Pool.MaxNodes, factory)
	case PoolMeanLoad:
		comps.Pool, err = pool.NewMeanLoad(c.Node.Capacity, c.Pool.MeanLoad, c.Pool.MaxNodes, factory)
	case PoolRegistrar:
		comps.Registrar, err = pool.NewRegistrar(c.Node.Capacity, factory, c.Pool.Nodes...)
		if err == nil {
			comps.Pool = comps.Registrar
		}
	}
	if err != nil {
		return nil, err
	}

	switch c.Strategy.Name {
	case StrategySingle:
		comps.Strategy = strategy.NewSingleNode(comps.Pool)
	case StrategyLexical:
		comps.Strategy = strategy.NewLexical(comps.Pool, c.Strategy.MaxSinksPerPipeline)
	case StrategyLeastLoaded:
		comps.Strategy = strategy.NewLeastLoadedFixed(comps.Pool)
	case StrategyElastic:
		comps.Strategy = strategy.NewLeastLoadedElastic(comps.Pool)
	case StrategyReserving:
		comps.Ledger = ledger.New(c.Node.Capacity)
		comps.Strategy = strategy.NewReserving(comps.Pool, comps.Ledger, strategy.ReservingOptions{
			BridgeSlots: c.Strategy.BridgeSlots,
			MultiHop:    c.Strategy.MultiHop,
		})
	}

	if c.Candidates.Queue {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = c.Candidates.RetryFor
		comps.Queue = queue.NewBackOffQueue(eb)
	}
	comps.Hub = candidates.NewHub(comps.Queue, c.Candidates.Buffer)
	comps.Registry = strategy.NewRegistry(comps.Strategy, comps.Hub)
	opts := server.Options{Address: c.Server.Address, Path: c.Server.Path}
	if comps.Registrar != nil {
		opts.RegistrarPath = c.Server.RegistrarPath
		opts.Registrar = comps.Registrar
	}
	comps.Server = server.New(opts, comps.Registry, comps.Hub)

	scope.Infof("built %s strategy over a %s pool of %d nodes", comps.Strategy.Name(), c.Pool.Mode, len(comps.Pool.Nodes()))
	return comps, nil
}

// Run serves until ctx is done.
func (c *Components) Run(ctx context.Context) error {
	scope.Infof("starting tree server, %s", version.Line())
	g, ctx := errgroup.WithContext(ctx)
	if c.Queue != nil {
		g.Go(func() error {
			c.Queue.Run(ctx.Done())
			return nil
		})
	}
	g.Go(func() error {
		return c.Server.Run(ctx)
	})
	return g.Wait()
}
