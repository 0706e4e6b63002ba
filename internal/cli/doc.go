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

/*
Package cli provides the root command, global flags, and exit-code
handling for batchctl.

# Command Tree

	batchctl
	├── binding
	│   ├── create    Register a workflow binding
	│   ├── sync      Refresh a binding's cached schema
	│   ├── delete    Remove a binding (refused while in use)
	│   └── list      List registered bindings
	└── batch
	    ├── create    Materialize tasks from a spreadsheet
	    ├── start     Begin dispatching a batch's tasks
	    ├── pause     Stop claiming new tasks
	    ├── resume    Alias for start on a paused batch
	    ├── cancel    Stop a batch and cancel its pending tasks
	    ├── status    Print a batch's current counts
	    ├── download  Render and download a batch's results
	    └── watch     Stream live progress events

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	flags := &cli.GlobalFlags{}
	rootCmd := cli.NewRootCommand(flags)
	// ... register binding/batch subcommands ...
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Exit Codes

	0  success
	1  runtime error
	2  invalid input (ValidationError)
	3  not found (NotFoundError)
	4  config error (ConfigError)
*/
package cli
