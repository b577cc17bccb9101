// Copyright 2026 The stagemux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stagemux/stagemux/muxer"
)

func newEntries(pather CommandPather, global *globalFlags) *cobra.Command {
	var flags struct {
		device string
		policy uint32
	}
	var cmd = &cobra.Command{
		Use:   "entries",
		Short: "List the entries recorded in the entry store",
		Example: fmt.Sprintf(`  %[1]s entries --device leaf1
  %[1]s entries --device leaf1 --policy 7`, pather.CommandPath()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := global.load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			batches, err := store.Batches(cmd.Context(), flags.device)
			if err != nil {
				return err
			}
			filter := cmd.Flags().Changed("policy")
			var rows [][]string
			for _, b := range batches {
				if filter && b.Instance != flags.policy {
					continue
				}
				for _, e := range b.Entries {
					rows = append(rows, []string{
						b.ID.String()[:8],
						b.Device,
						strconv.FormatUint(uint64(b.Instance), 10),
						e.TableName(),
						strconv.Itoa(e.Priority),
						criteria(e.Match),
						e.Action.String(),
					})
				}
			}
			renderTable(cmd.OutOrStdout(), []string{
				"BATCH", "DEVICE", "POLICY", "TABLE", "PRIO", "MATCH", "ACTION",
			}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.device, "device", "",
		"Only list the entries of this device")
	cmd.Flags().Uint32Var(&flags.policy, "policy", 0,
		"Only list the entries of this policy id")
	return cmd
}

func criteria(cs []muxer.Criterion) string {
	s := make([]string, 0, len(cs))
	for _, c := range cs {
		s = append(s, c.String())
	}
	return strings.Join(s, " ")
}
