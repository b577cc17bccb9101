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

// stagemux compiles packet processing programs and their rules into entries
// of the fixed physical pipeline.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// CommandPather returns the path to a command.
type CommandPather interface {
	CommandPath() string
}

func main() {
	if err := newRootCommand(filepath.Base(os.Args[0])).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCommand(executable string) *cobra.Command {
	var flags globalFlags
	cmd := &cobra.Command{
		Use:           executable,
		Short:         "Multiplex packet processing programs onto a fixed pipeline",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	flags.register(cmd.PersistentFlags())
	cmd.AddCommand(
		newCompile(cmd),
		newTables(cmd),
		newInstall(cmd, &flags),
		newEntries(cmd, &flags),
		newTrace(cmd, &flags),
		newSample(cmd),
		newGendocs(cmd),
	)
	return cmd
}
