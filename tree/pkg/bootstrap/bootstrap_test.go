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

package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"mediatree.io/mediatree/pkg/test/util/assert"
	"mediatree.io/mediatree/tree/pkg/client"
	"mediatree.io/mediatree/tree/pkg/fakenode"
	"mediatree.io/mediatree/tree/pkg/server"
)

func TestDefaults(t *testing.T) {
	c, err := Load(NewViper(), "")
	assert.NoError(t, err)
	assert.Equal(t, c.Server.Address, server.DefaultAddress)
	assert.Equal(t, c.Server.Path, server.DefaultPath)
	assert.Equal(t, c.Pool.Mode, PoolFixed)
	assert.Equal(t, c.Pool.Size, 1)
	assert.Equal(t, c.Strategy.Name, StrategyLeastLoaded)
	assert.Equal(t, c.Candidates.RetryFor, 10*time.Second)
	assert.Equal(t, c.Server.RegistrarPath, server.DefaultRegistrarPath)
	assert.Equal(t, len(c.Pool.Nodes), 0)
}

func TestRegistrarFlags(t *testing.T) {
	v := NewViper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	assert.NoError(t, BindFlags(fs, v))
	assert.NoError(t, fs.Parse([]string{"--pool-mode=registrar", "--pool-nodes=kms-a,kms-b", "--strategy=elastic"}))

	c, err := Load(v, "")
	assert.NoError(t, err)
	assert.Equal(t, c.Pool.Mode, PoolRegistrar)
	assert.Equal(t, c.Pool.Nodes, []string{"kms-a", "kms-b"})
}

func TestPrecedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tree.yaml")
	assert.NoError(t, os.WriteFile(file, []byte(`
node:
  capacity: 8
pool:
  mode: minfree
  minFree: 2
strategy:
  name: elastic
`), 0o644))
	t.Setenv("MEDIATREE_POOL_MAXNODES", "6")
	t.Setenv("MEDIATREE_NODE_CAPACITY", "12")

	v := NewViper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	assert.NoError(t, BindFlags(fs, v))
	assert.NoError(t, fs.Parse([]string{"--strategy=reserving", "--multi-hop", "--candidate-retry-for=1s"}))

	c, err := Load(v, file)
	assert.NoError(t, err)
	// environment over file
	assert.Equal(t, c.Node.Capacity, 12)
	assert.Equal(t, c.Pool.MaxNodes, 6)
	assert.Equal(t, c.Pool.Mode, PoolMinFree)
	assert.Equal(t, c.Pool.MinFree, 2)
	// flags over file
	assert.Equal(t, c.Strategy.Name, StrategyReserving)
	assert.Equal(t, c.Strategy.MultiHop, true)
	assert.Equal(t, c.Candidates.RetryFor, time.Second)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func valid() *Config {
	c, _ := Load(NewViper(), "")
	return c
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(c *Config)
	}{
		{"capacity", func(c *Config) { c.Node.Capacity = 0 }},
		{"pool mode", func(c *Config) { c.Pool.Mode = "bogus" }},
		{"pool size", func(c *Config) { c.Pool.Size = 0 }},
		{"strategy", func(c *Config) { c.Strategy.Name = "bogus" }},
		{"single on two nodes", func(c *Config) { c.Strategy.Name = StrategySingle; c.Pool.Size = 2 }},
		{"lexical on elastic pool", func(c *Config) { c.Strategy.Name = StrategyLexical; c.Pool.Mode = PoolMeanLoad }},
		{"leastloaded on registrar", func(c *Config) { c.Pool.Mode = PoolRegistrar }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mod(c)
			assert.Error(t, c.Validate())
			_, err := Build(c, nil)
			assert.Error(t, err)
		})
	}
}

func TestBuild(t *testing.T) {
	cases := []struct {
		strategy string
		pool     string
		size     int
		want     string
	}{
		{StrategySingle, PoolFixed, 1, "single-node"},
		{StrategyLexical, PoolFixed, 3, "lexical"},
		{StrategyLeastLoaded, PoolFixed, 3, "leastloaded"},
		{StrategyElastic, PoolMinFree, 1, "elastic"},
		{StrategyReserving, PoolMeanLoad, 1, "reserving"},
		{StrategyElastic, PoolRegistrar, 0, "elastic"},
	}
	for _, tc := range cases {
		t.Run(tc.strategy+"/"+tc.pool, func(t *testing.T) {
			c := valid()
			c.Strategy.Name = tc.strategy
			c.Pool.Mode = tc.pool
			c.Pool.Size = tc.size
			comps, err := Build(c, nil)
			assert.NoError(t, err)
			assert.Equal(t, comps.Strategy.Name(), tc.want)
			assert.Equal(t, comps.Ledger != nil, tc.strategy == StrategyReserving)
			assert.Equal(t, comps.Pool.Capacity(), c.Node.Capacity)
			if tc.pool == PoolFixed {
				assert.Equal(t, len(comps.Pool.Nodes()), tc.size)
			}
			assert.Equal(t, comps.Registrar != nil, tc.pool == PoolRegistrar)
		})
	}
}

// start runs comps until the test ends.
func start(t *testing.T, comps *Components) {
	t.Helper()
	assert.NoError(t, comps.Server.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- comps.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("components did not stop")
		}
	})
}

func dial(t *testing.T, comps *Components, path string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, "ws://"+comps.Server.Addr().String()+path, client.Options{})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRun(t *testing.T) {
	c := valid()
	c.Server.Address = "127.0.0.1:0"
	c.Strategy.Name = StrategyReserving
	comps, err := Build(c, nil)
	assert.NoError(t, err)
	start(t, comps)

	ctx := context.Background()
	cl := dial(t, comps, c.Server.Path)
	id, err := cl.CreateTree(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(comps.Registry.Trees()), 1)
	_, err = cl.SetTreeSource(ctx, id, fakenode.Offer("sendonly"))
	assert.NoError(t, err)
	assert.NoError(t, cl.ReleaseTree(ctx, id))
	assert.Equal(t, len(comps.Registry.Trees()), 0)
}

func TestRunRegistrar(t *testing.T) {
	c := valid()
	c.Server.Address = "127.0.0.1:0"
	c.Pool.Mode = PoolRegistrar
	c.Strategy.Name = StrategyElastic
	comps, err := Build(c, nil)
	assert.NoError(t, err)
	start(t, comps)

	ctx := context.Background()
	cl := dial(t, comps, c.Server.Path)
	_, err = cl.CreateTree(ctx)
	kind, ok := client.TreeErrorKind(err)
	assert.Equal(t, ok, true)
	assert.Equal(t, kind, "invalidTopology")

	reg := dial(t, comps, c.Server.RegistrarPath)
	assert.NoError(t, reg.Register(ctx, "kms-a"))
	assert.Equal(t, len(comps.Pool.Nodes()), 1)

	id, err := cl.CreateTree(ctx)
	assert.NoError(t, err)
	_, err = cl.SetTreeSource(ctx, id, fakenode.Offer("sendonly"))
	assert.NoError(t, err)
	assert.Equal(t, comps.Pool.Nodes()[0].ElementCount(), 1)
}
