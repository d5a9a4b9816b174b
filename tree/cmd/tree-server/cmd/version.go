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
	"fmt"

	"github.com/spf13/cobra"

	"mediatree.io/mediatree/pkg/version"
)

func versionCmd() *cobra.Command {
	var short bool
	c := &cobra.Command{
		Use:   "version",
		Short: "Prints out build version information",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if short {
				_, err := fmt.Fprintln(c.OutOrStdout(), version.Info.Version)
				return err
			}
			_, err := fmt.Fprint(c.OutOrStdout(), version.Info.LongForm())
			return err
		},
	}
	c.Flags().BoolVarP(&short, "short", "s", false, "Displays a short form of the version information")
	return c
}
