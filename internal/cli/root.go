// Copyright 2025 Tom Barlow
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

package cli

import (
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// GlobalFlags holds the persistent flag values every batchctl subcommand
// reads to decide how to talk to the user.
type GlobalFlags struct {
	Verbose    bool
	Quiet      bool
	JSONOutput bool
	ConfigPath string
}

// SetVersion records the version metadata main injects at build time via
// -ldflags, read back through GetVersion.
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// GetVersion returns the version metadata previously set by SetVersion.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// NewRootCommand builds the batchctl root command and its persistent
// flags. Subcommand trees (binding, batch) are registered by main.
func NewRootCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batchctl",
		Short: "batchctl drives large batches of parameterized requests against a remote workflow execution service",
		Long: `batchctl registers workflow bindings, uploads a spreadsheet of per-row
parameters, and runs every row as an independent task against a remote
workflow execution service with bounded concurrency and automatic retry.

Run 'batchctl binding create' to register a workflow, then
'batchctl batch create' to start a run from a spreadsheet.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable verbose output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress non-error output")
	cmd.PersistentFlags().BoolVar(&flags.JSONOutput, "json", false, "output in JSON format")
	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (default: ~/.config/batchctl/config.yaml)")

	return cmd
}
