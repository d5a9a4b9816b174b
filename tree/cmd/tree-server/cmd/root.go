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

// Package cmd holds the commands of the tree server binary.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mediatree.io/mediatree/pkg/log"
	"mediatree.io/mediatree/tree/pkg/bootstrap"
)

type rootArgs struct {
	configFile string
	v          *viper.Viper
}

// GetRootCmd returns the root of the cobra command-tree.
func GetRootCmd(args []string) *cobra.Command {
	loggingOptions := log.DefaultOptions()
	ra := &rootArgs{v: bootstrap.NewViper()}

	rootCmd := &cobra.Command{
		Use:          "tree-server",
		Short:        "Media distribution tree server",
		Long:         "Builds one-to-many media distribution trees over a pool of media server nodes.",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return log.Configure(loggingOptions)
		},
	}
	rootCmd.SetArgs(args)

	rootCmd.PersistentFlags().StringVarP(&ra.configFile, "config", "c", "",
		"Configuration file (yaml, json or toml). Keys can be overridden with "+bootstrap.EnvPrefix+"_* variables and flags")
	if err := bootstrap.BindFlags(rootCmd.PersistentFlags(), ra.v); err != nil {
		log.Fatalf("binding flags: %v", err)
	}
	loggingOptions.AttachCobraFlags(rootCmd)

	rootCmd.AddCommand(serveCmd(ra))
	rootCmd.AddCommand(simulateCmd(ra))
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func (ra *rootArgs) build() (*bootstrap.Components, error) {
	cfg, err := bootstrap.Load(ra.v, ra.configFile)
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(cfg, nil)
}
