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

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"mediatree.io/mediatree/tree/pkg/simulation"
	"mediatree.io/mediatree/tree/pkg/topology"
)

type simulateArgs struct {
	usage  string
	output string
	seed   int64
	trees  int
	dot    string
}

func usageFor(sa *simulateArgs) (simulation.Usage, error) {
	switch sa.usage {
	case "one-source":
		u := simulation.DefaultOneSource()
		u.Seed = sa.seed
		return u, nil
	case "cyclic":
		u := simulation.DefaultCyclic()
		u.Seed = sa.seed
		if sa.trees > 0 {
			u.Trees = sa.trees
		}
		return u, nil
	case "n-sources-random":
		u := simulation.DefaultNSourcesRandom()
		u.Seed = sa.seed
		if sa.trees > 0 {
			u.Trees = sa.trees
		}
		return u, nil
	}
	return nil, fmt.Errorf("unknown usage %q", sa.usage)
}

func simulateCmd(ra *rootArgs) *cobra.Command {
	sa := &simulateArgs{}
	c := &cobra.Command{
		Use:   "simulate",
		Short: "Runs a synthetic workload against the configured strategy and prints the pool evolution",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if sa.output != "json" && sa.output != "yaml" {
				return fmt.Errorf("unknown output format %q", sa.output)
			}
			return nil
		},
		RunE: func(c *cobra.Command, _ []string) error {
			u, err := usageFor(sa)
			if err != nil {
				return err
			}
			comps, err := ra.build()
			if err != nil {
				return err
			}
			report, err := simulation.Run(c.Context(), u, comps.Registry)
			if err != nil {
				return err
			}

			if sa.dot != "" {
				f, err := os.Create(sa.dot)
				if err != nil {
					return err
				}
				werr := topology.Take(comps.Pool.Nodes()).WriteDOT(f)
				if err := f.Close(); werr == nil {
					werr = err
				}
				if werr != nil {
					return fmt.Errorf("writing %s: %v", sa.dot, werr)
				}
			}

			var out []byte
			if sa.output == "yaml" {
				out, err = yaml.Marshal(report)
			} else {
				out, err = json.MarshalIndent(report, "", "  ")
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.OutOrStdout(), string(out))
			return err
		},
	}
	c.Flags().StringVarP(&sa.usage, "usage", "u", "one-source", "Workload: one-source, cyclic or n-sources-random")
	c.Flags().StringVarP(&sa.output, "output", "o", "json", "Report format: json or yaml")
	c.Flags().Int64Var(&sa.seed, "seed", 0, "Random seed of the workload; cyclic runs round robin below zero")
	c.Flags().IntVar(&sa.trees, "trees", 0, "Number of trees of the multi-tree workloads, 0 for the default")
	c.Flags().StringVar(&sa.dot, "dot", "", "Write the final topology as a graphviz file")
	return c
}
