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
	"fmt"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mediatree.io/mediatree/tree/pkg/server"
	"mediatree.io/mediatree/tree/pkg/strategy"
)

// EnvPrefix prefixes the environment variables overriding configuration keys,
// with dots replaced by underscores: MEDIATREE_POOL_MODE sets pool.mode.
const EnvPrefix = "MEDIATREE"

const (
	PoolFixed    = "fixed"
	PoolMinFree  = "minfree"
	PoolMeanLoad = "meanload"
	// PoolRegistrar grows only when nodes register on the registrar endpoint.
	PoolRegistrar = "registrar"

	StrategySingle      = "single"
	StrategyLexical     = "lexical"
	StrategyLeastLoaded = "leastloaded"
	StrategyElastic     = "elastic"
	StrategyReserving   = "reserving"
)

type Config struct {
	Server struct {
		Address string `mapstructure:"address"`
		Path    string `mapstructure:"path"`
		// RegistrarPath is the route nodes register on in registrar mode.
		RegistrarPath string `mapstructure:"registrarPath"`
	} `mapstructure:"server"`

	Node struct {
		// Capacity is the number of elements a node hosts.
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"node"`

	Pool struct {
		Mode     string  `mapstructure:"mode"`
		Size     int     `mapstructure:"size"`
		MinFree  int     `mapstructure:"minFree"`
		MeanLoad float64 `mapstructure:"meanLoad"`
		MaxNodes int     `mapstructure:"maxNodes"`
		// Nodes are the labels a registrar pool starts with.
		Nodes []string `mapstructure:"nodes"`
	} `mapstructure:"pool"`

	Strategy struct {
		Name                string `mapstructure:"name"`
		MaxSinksPerPipeline int    `mapstructure:"maxSinksPerPipeline"`
		BridgeSlots         int    `mapstructure:"bridgeSlots"`
		MultiHop            bool   `mapstructure:"multiHop"`
	} `mapstructure:"strategy"`

	Candidates struct {
		Buffer int `mapstructure:"buffer"`
		// Queue delivers candidates from a retrying work queue instead of
		// the goroutine that gathered them.
		Queue    bool          `mapstructure:"queue"`
		RetryFor time.Duration `mapstructure:"retryFor"`
	} `mapstructure:"candidates"`
}

var defaults = map[string]any{
	"server.address":               server.DefaultAddress,
	"server.path":                  server.DefaultPath,
	"server.registrarPath":         server.DefaultRegistrarPath,
	"node.capacity":                50,
	"pool.mode":                    PoolFixed,
	"pool.size":                    1,
	"pool.minFree":                 5,
	"pool.meanLoad":                0.8,
	"pool.maxNodes":                0,
	"pool.nodes":                   []string{},
	"strategy.name":                StrategyLeastLoaded,
	"strategy.maxSinksPerPipeline": strategy.DefaultMaxSinksPerPipeline,
	"strategy.bridgeSlots":         strategy.DefaultBridgeSlots,
	"strategy.multiHop":            false,
	"candidates.buffer":            64,
	"candidates.queue":             true,
	"candidates.retryFor":          10 * time.Second,
}

// NewViper returns a viper instance with the defaults and environment bindings
// of every configuration key.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

var flagKeys = []struct {
	flag, key, usage string
}{
	{"address", "server.address", "listen address of the tree server"},
	{"path", "server.path", "path of the websocket endpoint"},
	{"registrar-path", "server.registrarPath", "path nodes register on in registrar mode"},
	{"node-capacity", "node.capacity", "number of elements a node hosts"},
	{"pool-mode", "pool.mode", "node pool: fixed, minfree, meanload or registrar"},
	{"pool-size", "pool.size", "number of nodes of a fixed pool"},
	{"pool-min-free", "pool.minFree", "free slots the minfree pool keeps on some node"},
	{"pool-mean-load", "pool.meanLoad", "mean load above which the meanload pool grows"},
	{"pool-max-nodes", "pool.maxNodes", "upper bound on the nodes of an elastic pool, 0 for none"},
	{"pool-nodes", "pool.nodes", "labels of the nodes a registrar pool starts with"},
	{"strategy", "strategy.name", "placement strategy: single, lexical, leastloaded, elastic or reserving"},
	{"max-sinks-per-pipeline", "strategy.maxSinksPerPipeline", "sinks per pipeline of the lexical strategy"},
	{"bridge-slots", "strategy.bridgeSlots", "links reserved next to a source by the reserving strategy"},
	{"multi-hop", "strategy.multiHop", "let the reserving strategy feed leaves from other leaves"},
	{"candidate-buffer", "candidates.buffer", "candidates buffered per terminal with no listener"},
	{"candidate-queue", "candidates.queue", "deliver candidates through a retrying queue"},
	{"candidate-retry-for", "candidates.retryFor", "how long a candidate delivery is retried"},
}

// BindFlags defines one flag per configuration key on fs and binds it to v.
// Flags take precedence over the environment and the config file.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	for _, f := range flagKeys {
		switch d := defaults[f.key].(type) {
		case string:
			fs.String(f.flag, d, f.usage)
		case int:
			fs.Int(f.flag, d, f.usage)
		case float64:
			fs.Float64(f.flag, d, f.usage)
		case bool:
			fs.Bool(f.flag, d, f.usage)
		case time.Duration:
			fs.Duration(f.flag, d, f.usage)
		case []string:
			fs.StringSlice(f.flag, d, f.usage)
		default:
			return fmt.Errorf("no flag type for %s (%T)", f.key, d)
		}
		if err := v.BindPFlag(f.key, fs.Lookup(f.flag)); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the optional config file at path and decodes the configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	scope.Debugf("configuration %s", spew.Sdump(c))
	return &c, nil
}

func (c *Config) Validate() error {
	if c.Node.Capacity <= 0 {
		return fmt.Errorf("node.capacity must be positive, got %d", c.Node.Capacity)
	}
	switch c.Pool.Mode {
	case PoolFixed:
		if c.Pool.Size <= 0 {
			return fmt.Errorf("pool.size must be positive, got %d", c.Pool.Size)
		}
	case PoolMinFree, PoolMeanLoad, PoolRegistrar:
	default:
		return fmt.Errorf("unknown pool.mode %q", c.Pool.Mode)
	}
	switch c.Strategy.Name {
	case StrategySingle:
		if c.Pool.Mode != PoolFixed || c.Pool.Size != 1 {
			return fmt.Errorf("strategy %s needs a fixed pool of one node", c.Strategy.Name)
		}
	case StrategyLexical, StrategyLeastLoaded:
		if c.Pool.Mode != PoolFixed {
			return fmt.Errorf("strategy %s needs a fixed pool", c.Strategy.Name)
		}
	case StrategyElastic, StrategyReserving:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy.Name)
	}
	return nil
}
