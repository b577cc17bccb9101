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
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stagemux/stagemux/muxer"
	"github.com/stagemux/stagemux/pkg/matchresult"
	"github.com/stagemux/stagemux/pkg/pipeline"
	"github.com/stagemux/stagemux/pkg/program"
)

func newCompile(pather CommandPather) *cobra.Command {
	var flags struct {
		headers bool
	}
	var cmd = &cobra.Command{
		Use:   "compile <program.json>",
		Short: "Compile a program and show its stages",
		Example: fmt.Sprintf(`  %[1]s compile l3.json
  %[1]s compile --headers l3.json`, pather.CommandPath()),
		Long: `'compile' parses a program and classifies its tables as stages of the
physical pipeline.

For every stage, the widths of the header, metadata and standard metadata
match values are shown, together with the match bitmap and the successor
the stage dispatches to.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			prog, err := program.Load(args[0])
			if err != nil {
				return err
			}
			inst, err := muxer.NewInstance(muxer.InstanceConfig{
				Program:   prog,
				Sink:      muxer.NewMemSink(),
				Allocator: matchresult.NewAllocator(0),
			})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if flags.headers {
				printHeaders(w, prog)
				fmt.Fprintln(w)
			}
			printStages(w, inst)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.headers, "headers", false, "Show the header layout")
	return cmd
}

func printHeaders(w io.Writer, prog *program.Program) {
	var rows [][]string
	for _, h := range prog.Headers.All() {
		kind := "packet"
		switch {
		case h.Standard():
			kind = "standard"
		case h.Metadata:
			kind = "metadata"
		}
		rows = append(rows, []string{
			strconv.Itoa(h.ID),
			h.Name,
			h.Type.Name,
			kind,
			strconv.Itoa(h.Offset()),
			strconv.Itoa(h.BitLength()),
		})
	}
	renderTable(w, []string{"ID", "HEADER", "TYPE", "KIND", "OFFSET", "BITS"}, rows)
}

func printStages(w io.Writer, inst *muxer.Instance) {
	var rows [][]string
	for _, s := range inst.Stages() {
		next, _ := inst.Successor(s)
		nextName := "end"
		if n, ok := inst.Stage(next); ok {
			nextName = n.Name()
		}
		actions := make([]string, 0, len(s.Table.Actions))
		for _, a := range s.Table.Actions {
			actions = append(actions, a.Name)
		}
		rows = append(rows, []string{
			strconv.Itoa(s.ID),
			s.Name(),
			strconv.Itoa(s.HeaderBits),
			strconv.Itoa(s.MetadataBits),
			strconv.Itoa(s.StdBits),
			fmt.Sprintf("%03b", s.MatchBitmap()),
			nextName,
			strings.Join(actions, ","),
		})
	}
	renderTable(w, []string{
		"STAGE", "TABLE", "HEADER", "METADATA", "STD", "BITMAP", "NEXT", "ACTIONS",
	}, rows)
}

func newTables(pather CommandPather) *cobra.Command {
	var flags struct {
		stage int
		kind  string
	}
	var cmd = &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the physical pipeline",
		Example: fmt.Sprintf(`  %[1]s tables
  %[1]s tables --stage 2
  %[1]s tables --kind header_match`, pather.CommandPath()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.stage >= pipeline.StageCount {
				return fmt.Errorf("stage %d out of range [0, %d)", flags.stage,
					pipeline.StageCount)
			}
			cmd.SilenceUsage = true
			var rows [][]string
			for id, name := range pipeline.Names() {
				kind, stage, ok := pipeline.Locate(id)
				kindName, stageName := "", ""
				if ok {
					kindName, stageName = kind.String(), strconv.Itoa(stage)
				}
				if flags.stage >= 0 && (!ok || stage != flags.stage) {
					continue
				}
				if flags.kind != "" && kindName != flags.kind {
					continue
				}
				rows = append(rows, []string{strconv.Itoa(id), name, stageName, kindName})
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "NAME", "STAGE", "KIND"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.stage, "stage", -1, "Only list the tables of this stage")
	cmd.Flags().StringVar(&flags.kind, "kind", "", "Only list the tables of this kind")
	return cmd
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}
