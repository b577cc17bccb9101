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
	"sort"
	"strconv"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stagemux/stagemux/muxer"
	"github.com/stagemux/stagemux/muxer/control"
	"github.com/stagemux/stagemux/pkg/log"
	"github.com/stagemux/stagemux/pkg/private/serrors"
)

func newInstall(pather CommandPather, global *globalFlags) *cobra.Command {
	var flags struct {
		program string
		rules   string
		devices []string
		policy  uint32
		dryRun  bool
	}
	var cmd = &cobra.Command{
		Use:   "install",
		Short: "Bind a program to devices and install its rules",
		Example: fmt.Sprintf(`  %[1]s install --program l3.json --rules l3_rules.json \
      --device leaf1 --device leaf2 --policy 7`, pather.CommandPath()),
		Long: `'install' binds a program to one or more devices under a policy id and
installs the rules of the rule file on every device.

The entries are recorded in the entry store of the configuration. Match
results already recorded in the store are not reused, and a policy id that
has entries on a device cannot be installed there again. With --dry-run, the
entries are compiled but not stored. Devices are processed
concurrently; the first failure aborts the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(flags.devices) == 0 {
				return serrors.New("at least one device is required")
			}
			cmd.SilenceUsage = true
			cfg, err := global.load()
			if err != nil {
				return err
			}
			layout, err := cfg.Pipeline.LoadLayout()
			if err != nil {
				return err
			}

			var (
				sink      muxer.Sink = muxer.NewMemSink()
				installed []muxer.Batch
			)
			if !flags.dryRun {
				store, err := openStore(cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				// Entries of earlier runs share the physical tables.
				if installed, err = store.Batches(cmd.Context(), ""); err != nil {
					return err
				}
				sink = store
			}
			m, err := control.New(control.Config{
				Sink:               sink,
				Layout:             layout,
				ProgramCacheSize:   cfg.Muxer.ProgramCacheSize,
				MatchResultModulus: cfg.Muxer.MatchResultModulus,
			})
			if err != nil {
				return err
			}
			m.Restore(installed)
			prog, err := m.CompileFile(flags.program)
			if err != nil {
				return err
			}
			rules, err := muxer.LoadRules(flags.rules, prog)
			if err != nil {
				return err
			}

			var mu sync.Mutex
			counts := make(map[string]int)
			ctx, logger := log.WithLabels(cmd.Context(), "program", flags.program)
			g, ctx := errgroup.WithContext(ctx)
			for _, dev := range flags.devices {
				g.Go(func() error {
					defer log.HandlePanic()
					inst, err := m.Bind(ctx, prog, dev, flags.policy)
					if err != nil {
						return err
					}
					for _, r := range rules {
						if err := m.AddRule(ctx, dev, flags.policy, r); err != nil {
							return err
						}
					}
					logger.Info("Rules installed", "device", dev, "policy", flags.policy,
						"rules", len(rules))
					mu.Lock()
					defer mu.Unlock()
					counts[dev] = len(inst.Entries())
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			devices := append([]string(nil), flags.devices...)
			sort.Strings(devices)
			var rows [][]string
			for _, dev := range devices {
				rows = append(rows, []string{
					dev,
					strconv.FormatUint(uint64(flags.policy), 10),
					strconv.Itoa(len(rules)),
					strconv.Itoa(counts[dev]),
				})
			}
			renderTable(cmd.OutOrStdout(),
				[]string{"DEVICE", "POLICY", "RULES", "ENTRIES"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.program, "program", "", "Program JSON file (required)")
	cmd.Flags().StringVar(&flags.rules, "rules", "", "Rule file (required)")
	cmd.Flags().StringArrayVar(&flags.devices, "device", nil,
		"Device to install on, can be repeated")
	cmd.Flags().Uint32Var(&flags.policy, "policy", 1, "Policy id of the program instance")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Compile without storing the entries")
	cmd.MarkFlagRequired("program")
	cmd.MarkFlagRequired("rules")
	return cmd
}
