/*
Copyright The Ratify Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	var showDestination bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the images a replication would copy",
		Long: `Enumerates the images of the configured source without copying them.
Every image is printed as "repository:tag", one per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			rc, err := cfg.RunContext()
			if err != nil {
				return err
			}
			resolver, err := newCredentialResolver(cfg)
			if err != nil {
				return err
			}
			items, err := newEnumerator(cfg, resolver, opts.log).Enumerate(cmd.Context(), rc)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, item := range items {
				if showDestination {
					fmt.Fprintf(out, "%s -> %s/%s:%s\n", item, rc.DestinationHost(), rc.Destination.Repository(item.Repository), item.Tag)
					continue
				}
				fmt.Fprintln(out, item)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showDestination, "show-destination", false, "Print the destination reference of every image")
	return cmd
}
