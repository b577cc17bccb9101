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
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/stagemux/stagemux/pkg/private/serrors"
)

func newGendocs(pather CommandPather) *cobra.Command {
	var cmd = &cobra.Command{
		Use:     "gendocs <directory>",
		Short:   "Generate documentation for the stagemux CLI",
		Example: fmt.Sprintf("  %[1]s gendocs doc/command/stagemux", pather.CommandPath()),
		Long: `'gendocs' generates the markdown documentation of the stagemux CLI and
stores it in the given directory.`,
		Args:   cobra.ExactArgs(1),
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			directory := args[0]
			cmd.Root().DisableAutoGenTag = true
			if err := os.MkdirAll(directory, 0755); err != nil {
				return serrors.Wrap("creating directory", err, "directory", directory)
			}
			if err := doc.GenMarkdownTree(cmd.Root(), directory); err != nil {
				return serrors.Wrap("generating documentation", err)
			}
			return nil
		},
	}
	return cmd
}
