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

// Package binding implements batchctl's "binding" subcommand tree:
// create, sync, delete, and list operations against the Workflow
// Registry (SPEC_FULL.md §6).
package binding

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conductorbatch/core/internal/cli"
	"github.com/conductorbatch/core/internal/credential"
	"github.com/conductorbatch/core/internal/registry"
	"github.com/conductorbatch/core/pkg/batchcore"
)

// NewCommand builds the "binding" command and its subcommands. reg is
// resolved lazily via appFunc so the command tree can be constructed
// before the App (and its config-dependent store) is built.
func NewCommand(flags *cli.GlobalFlags, appFunc func() (*registry.Registry, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "binding",
		Short: "Manage workflow bindings",
	}

	cmd.AddCommand(
		newCreateCommand(flags, appFunc),
		newSyncCommand(flags, appFunc),
		newDeleteCommand(flags, appFunc),
		newListCommand(flags, appFunc),
	)
	return cmd
}

func newCreateCommand(flags *cli.GlobalFlags, appFunc func() (*registry.Registry, error)) *cobra.Command {
	var (
		name, description, baseURL string
		credType, secretRef        string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new workflow binding and fetch its parameter schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}

			ref := credential.Ref{Type: credential.RefType(credType), SecretRef: secretRef}
			b, err := reg.Create(cmd.Context(), name, description, baseURL, ref)
			if err != nil {
				return cli.NewExitError("creating binding", err)
			}
			return printBinding(flags, b)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "binding name (required)")
	cmd.Flags().StringVar(&description, "description", "", "binding description")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "remote workflow service base URL (required)")
	cmd.Flags().StringVar(&credType, "credential-type", string(credential.RefBearer), "credential type: bearer, oauth2_client_credentials, aws_sigv4")
	cmd.Flags().StringVar(&secretRef, "secret-ref", "", "credential secret reference, e.g. env:MY_TOKEN (required)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("base-url")
	cmd.MarkFlagRequired("secret-ref")

	return cmd
}

func newSyncCommand(flags *cli.GlobalFlags, appFunc func() (*registry.Registry, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <binding-id>",
		Short: "Re-fetch a binding's parameter schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}
			if err := reg.Sync(cmd.Context(), args[0]); err != nil {
				return cli.NewExitError("syncing binding", err)
			}
			b, err := reg.Get(cmd.Context(), args[0])
			if err != nil {
				return cli.NewExitError("reloading binding", err)
			}
			return printBinding(flags, b)
		},
	}
}

func newDeleteCommand(flags *cli.GlobalFlags, appFunc func() (*registry.Registry, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <binding-id>",
		Short: "Delete a binding, refusing if any non-terminal batch still references it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}
			if err := reg.Delete(cmd.Context(), args[0]); err != nil {
				return cli.NewExitError("deleting binding", err)
			}
			if !flags.Quiet {
				fmt.Printf("deleted binding %s\n", args[0])
			}
			return nil
		},
	}
}

func newListCommand(flags *cli.GlobalFlags, appFunc func() (*registry.Registry, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := appFunc()
			if err != nil {
				return cli.NewExitError("initializing", err)
			}
			bindings, err := reg.List(cmd.Context())
			if err != nil {
				return cli.NewExitError("listing bindings", err)
			}
			if flags.JSONOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(bindings)
			}
			for _, b := range bindings {
				synced := "never"
				if b.SyncedAt != nil {
					synced = b.SyncedAt.Format("2006-01-02T15:04:05Z07:00")
				}
				fmt.Printf("%s\t%s\tactive=%v\tsynced=%s\n", b.ID, b.Name, b.Active, synced)
			}
			return nil
		},
	}
}

func printBinding(flags *cli.GlobalFlags, b *batchcore.Binding) error {
	if flags.JSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
	params := 0
	if b.Schema != nil {
		params = len(b.Schema.Parameters)
	}
	fmt.Printf("binding %s created: %s (%d parameters)\n", b.ID, b.Name, params)
	return nil
}
