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
	"fmt"
	"testing"

	"mediatree.io/mediatree/pkg/test/util/assert"
	"mediatree.io/mediatree/tree/pkg/fakenode"
	"mediatree.io/mediatree/tree/pkg/model"
	"mediatree.io/mediatree/tree/pkg/pool"
	"mediatree.io/mediatree/tree/pkg/strategy"
)

func factory(capacity int) pool.NodeFactory {
	return func(label string) (*model.Node, error) {
		return model.NewNode(label, fakenode.New(label, nil), model.MaxElements(capacity)), nil
	}
}

func fixedManager(t *testing.T, size, capacity int) *strategy.Registry {
	t.Helper()
	p, err := pool.NewFixedFromFactory(capacity, size, factory(capacity))
	assert.NoError(t, err)
	return strategy.NewRegistry(strategy.NewLeastLoadedFixed(p), nil)
}

func TestOneSource(t *testing.T) {
	tm := fixedManager(t, 3, 50)
	report, err := Run(context.Background(), &OneSource{Operations: 20, Add: 5, Remove: 2}, tm)
	assert.NoError(t, err)
	assert.Equal(t, report.CapacityReached, false)
	// create, 20 additions and 2 removals after each batch of 5
	assert.Equal(t, len(report.Steps), 29)
	assert.Equal(t, report.Steps[0].Op, "create")
	assert.Equal(t, report.MaxNodes, 3)
	assert.NoError(t, tm.Tree("tree0", func(tr *strategy.Tree) {
		assert.Equal(t, len(tr.Sinks), 12)
	}))
}

func TestOneSourceReachesCapacity(t *testing.T) {
	p, err := pool.NewFixedFromFactory(5, 1, factory(5))
	assert.NoError(t, err)
	tm := strategy.NewRegistry(strategy.NewSingleNode(p), nil)

	report, err := Run(context.Background(), DefaultOneSource(), tm)
	assert.NoError(t, err)
	assert.Equal(t, report.CapacityReached, true)
	assert.Equal(t, report.MaxElements, 5)
}

func TestCyclic(t *testing.T) {
	for _, seed := range []int64{-1, 0, 7} {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			tm := fixedManager(t, 3, 20)
			u := DefaultCyclic()
			u.Seed = seed
			report, err := Run(context.Background(), u, tm)
			assert.NoError(t, err)
			// per tree and iteration: create, 5 additions, 5 removals, release
			assert.Equal(t, len(report.Steps), 4*3*12)
			last := report.Steps[len(report.Steps)-1]
			assert.Equal(t, last.Op, "release")
			assert.Equal(t, last.Elements, 0)
			assert.Equal(t, len(tm.Trees()), 0)
		})
	}
}

func TestNSourcesRandomOnElasticPool(t *testing.T) {
	p, err := pool.NewMinFreeSpace(10, 3, 3, factory(10))
	assert.NoError(t, err)
	tm := strategy.NewRegistry(strategy.NewLeastLoadedElastic(p), nil)

	report, err := Run(context.Background(), DefaultNSourcesRandom(), tm)
	assert.NoError(t, err)
	assert.Equal(t, report.CapacityReached, true)
	if report.MaxNodes < 2 || report.MaxNodes > 3 {
		t.Fatalf("pool grew to %d nodes", report.MaxNodes)
	}
	if report.MaxElements > 30 {
		t.Fatalf("pool of 3 nodes held %d elements", report.MaxElements)
	}
}

func TestCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, DefaultCyclic(), fixedManager(t, 1, 20))
	assert.ErrorIs(t, err, context.Canceled)
}
