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
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/stagemux/stagemux/muxer"
	"github.com/stagemux/stagemux/pkg/private/serrors"
)

func newTrace(pather CommandPather, global *globalFlags) *cobra.Command {
	var flags struct {
		device  string
		policy  uint32
		packet  hexVal
		noColor bool
	}
	var cmd = &cobra.Command{
		Use:   "trace",
		Short: "Evaluate the stored header match entries against a packet",
		Example: fmt.Sprintf(`  %[1]s trace --device leaf1 --policy 7 \
      --packet 000000000002000000000001080045000028...`, pather.CommandPath()),
		Long: `'trace' decodes an Ethernet frame and evaluates the header match entries of
an instance against it, the way the header match tables of the pipeline would.

The matching entries are listed by stage, highest priority first. Only the
header category is evaluated; metadata and standard metadata are not known
outside the device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(flags.packet) == 0 {
				return serrors.New("packet must be set")
			}
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
			entries, err := store.Entries(cmd.Context(), flags.device)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printLayers(w, flags.packet)
			hits := muxer.Trace(entries, flags.policy, flags.packet)
			printHits(w, hits, !flags.noColor && isTerminal(w))
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.device, "device", "", "Device of the instance (required)")
	cmd.Flags().Uint32Var(&flags.policy, "policy", 1, "Policy id of the instance")
	cmd.Flags().Var(&flags.packet, "packet", "Ethernet frame in hex (required)")
	cmd.Flags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	cmd.MarkFlagRequired("device")
	return cmd
}

func printLayers(w io.Writer, data []byte) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	var names []string
	for _, l := range packet.Layers() {
		names = append(names, l.LayerType().String())
	}
	fmt.Fprintf(w, "Packet: %d bytes, %s\n", len(data), strings.Join(names, "/"))
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		fmt.Fprintf(w, "Decoding: %s\n", errLayer.Error())
	}
}

func printHits(w io.Writer, hits []muxer.TraceHit, colored bool) {
	noColor := color.New()
	stage, match, detail := noColor, noColor, noColor
	if colored {
		stage = color.New(color.FgHiCyan)
		match = color.New(color.FgGreen)
		detail = color.New(color.FgHiBlack)
	}
	if len(hits) == 0 {
		fmt.Fprintln(w, "No header match entry matches.")
		return
	}
	for _, h := range hits {
		fmt.Fprintf(w, "%s %s prio=%d result=%s\n",
			stage.Sprintf("[stage %d]", h.Stage),
			h.Entry.TableName(),
			h.Entry.Priority,
			match.Sprint(h.Result),
		)
		fmt.Fprintf(w, "    %s\n", detail.Sprint(criteria(h.Entry.Match)))
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
