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

// Package batch implements batchctl's "batch" subcommand tree: create,
// start, pause, resume, cancel, status, download, and watch, all
// operating on the Batch Coordinator (SPEC_FULL.md §6).
package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/conductorbatch/core/internal/cli"
	"github.com/conductorbatch/core/internal/coordinator"
	"github.com/conductorbatch/core/internal/eventbus"
	"github.com/conductorbatch/core/pkg/batchcore"
)

// Deps is the subset of App the batch commands call into, resolved
// lazily via appFunc so the command tree builds before the App does.
type Deps struct {
	Coordinator *coordinator.Coordinator
	EventBus    *eventbus.Bus
}

// NewCommand builds the "batch" command and its subcommands.
func NewCommand(flags *cli.GlobalFlags, appFunc func() (*Deps, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage batch runs against a workflow binding",
	}

	cmd.AddCommand(
		newCreateCommand(flags, appFunc),
		newStartCommand(flags, appFunc, "start", "Begin dispatching a batch's pending tasks"),
		newStartCommand(flags, appFunc, "resume", "Resume a paused batch"),
		newPauseCommand(flags, appFunc),
		newCancelCommand(flags, appFunc),
		newStatusCommand(flags, appFunc),
		newDownloadCommand(flags, appFunc),
		newWatchCommand(flags, appFunc),
	)
	return cmd
}

func newCreateCommand(flags *cli.GlobalFlags, appFunc func() (*Deps, error)) *cobra.Command {
	var (
		bindingID        string
		sheetPath        string
		concurrencyLimit int
		maxAttempts      int
		resultTemplate   string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Materialize one task per spreadsheet row against a binding's schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}
			raw, err := os.ReadFile(sheetPath)
			if err != nil {
				return cli.NewExitError("reading sheet", err)
			}
			b, err := deps.Coordinator.Create(cmd.Context(), coordinator.CreateBatchRequest{
				BindingID:        bindingID,
				Sheet:            raw,
				ConcurrencyLimit: concurrencyLimit,
				MaxAttempts:      maxAttempts,
				ResultTemplate:   resultTemplate,
			})
			if err != nil {
				return cli.NewExitError("creating batch", err)
			}
			return printBatch(flags, b)
		},
	}

	cmd.Flags().StringVar(&bindingID, "binding-id", "", "workflow binding to run the batch against (required)")
	cmd.Flags().StringVar(&sheetPath, "sheet", "", "path to the input spreadsheet (.xlsx) (required)")
	cmd.Flags().IntVar(&concurrencyLimit, "concurrency-limit", 0, "per-batch worker count (default: process default)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "per-task retry ceiling (default: process default)")
	cmd.Flags().StringVar(&resultTemplate, "result-template", "", "expr-lang template evaluated against each terminal task")
	cmd.MarkFlagRequired("binding-id")
	cmd.MarkFlagRequired("sheet")

	return cmd
}

func newStartCommand(flags *cli.GlobalFlags, appFunc func() (*Deps, error), use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <batch-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}
			if err := deps.Coordinator.Start(cmd.Context(), args[0]); err != nil {
				return cli.NewExitError("starting batch", err)
			}
			if !flags.Quiet {
				fmt.Printf("batch %s running\n", args[0])
			}
			return nil
		},
	}
}

func newPauseCommand(flags *cli.GlobalFlags, appFunc func() (*Deps, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <batch-id>",
		Short: "Stop claiming new tasks; in-flight tasks finish their current attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}
			if err := deps.Coordinator.Pause(cmd.Context(), args[0]); err != nil {
				return cli.NewExitError("pausing batch", err)
			}
			if !flags.Quiet {
				fmt.Printf("batch %s paused\n", args[0])
			}
			return nil
		},
	}
}

func newCancelCommand(flags *cli.GlobalFlags, appFunc func() (*Deps, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a batch: pending tasks are marked cancelled, in-flight tasks stop retrying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}
			if err := deps.Coordinator.Cancel(cmd.Context(), args[0]); err != nil {
				return cli.NewExitError("cancelling batch", err)
			}
			if !flags.Quiet {
				fmt.Printf("batch %s cancelling\n", args[0])
			}
			return nil
		},
	}
}

func newStatusCommand(flags *cli.GlobalFlags, appFunc func() (*Deps, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Print a batch's current state and task counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}
			b, err := deps.Coordinator.GetBatch(cmd.Context(), args[0])
			if err != nil {
				return cli.NewExitError("loading batch", err)
			}
			return printBatch(flags, b)
		},
	}
}

func newDownloadCommand(flags *cli.GlobalFlags, appFunc func() (*Deps, error)) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "download <batch-id>",
		Short: "Render every terminal task's result and download the annotated spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}
			data, err := deps.Coordinator.DownloadResult(cmd.Context(), args[0])
			if err != nil {
				return cli.NewExitError("downloading result", err)
			}
			if outPath == "" {
				outPath = args[0] + "-results.xlsx"
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return cli.NewExitError("writing result file", err)
			}
			if !flags.Quiet {
				fmt.Printf("wrote %s\n", outPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output file path (default: <batch-id>-results.xlsx)")
	return cmd
}

func newWatchCommand(flags *cli.GlobalFlags, appFunc func() (*Deps, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <batch-id>",
		Short: "Stream live progress events until the batch reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}
			batchID := args[0]

			b, err := deps.Coordinator.GetBatch(cmd.Context(), batchID)
			if err != nil {
				return cli.NewExitError("loading batch", err)
			}
			renderProgress(b.Counts, b.State)
			if isTerminal(b.State) {
				return nil
			}

			ch, unsub := deps.EventBus.Subscribe(batchID)
			defer unsub()

			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return nil
					}
					if ev.Type != batchcore.EventBatchProgress && ev.Type != batchcore.EventBatchStateChanged {
						continue
					}
					renderProgress(ev.Counts, ev.State)
					if isTerminal(ev.State) {
						return nil
					}
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
			}
		},
	}
}

func isTerminal(s batchcore.BatchState) bool {
	return s == batchcore.BatchCompleted || s == batchcore.BatchFailed
}

// renderProgress prints a compact ASCII progress bar for counts, in the
// style of the teacher's setup-wizard ProgressBar: a fixed-width
// "[===>   ] NN%" bar followed by the batch state and per-state counts.
func renderProgress(counts batchcore.Counts, state batchcore.BatchState) {
	const width = 30
	done := counts.Succeeded + counts.Failed + counts.Cancelled
	pct := 0
	if counts.Total > 0 {
		pct = done * 100 / counts.Total
	}
	filled := width * pct / 100
	bar := make([]byte, width)
	for i := range bar {
		switch {
		case i < filled:
			bar[i] = '='
		case i == filled:
			bar[i] = '>'
		default:
			bar[i] = ' '
		}
	}
	fmt.Printf("\r[%s] %3d%%  %s  ok=%d fail=%d running=%d pending=%d  (%s)",
		string(bar), pct, state, counts.Succeeded, counts.Failed, counts.Running, counts.Pending,
		time.Now().Format("15:04:05"))
	if isTerminal(state) {
		fmt.Println()
	}
}

func printBatch(flags *cli.GlobalFlags, b *batchcore.Batch) error {
	if flags.JSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
	fmt.Printf("batch %s  state=%s  total=%d pending=%d running=%d succeeded=%d failed=%d cancelled=%d\n",
		b.ID, b.State, b.Counts.Total, b.Counts.Pending, b.Counts.Running,
		b.Counts.Succeeded, b.Counts.Failed, b.Counts.Cancelled)
	return nil
}
