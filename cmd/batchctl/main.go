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

package main

import (
	"context"

	"github.com/conductorbatch/core/internal/app"
	"github.com/conductorbatch/core/internal/cli"
	bindingcmd "github.com/conductorbatch/core/internal/commands/binding"
	batchcmd "github.com/conductorbatch/core/internal/commands/batch"
	"github.com/conductorbatch/core/internal/registry"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	flags := &cli.GlobalFlags{}
	rootCmd := cli.NewRootCommand(flags)

	// The App is built lazily, the first time a subcommand's RunE needs
	// it, so "batchctl --help" never has to load config or open a store.
	var instance *app.App
	getApp := func() (*app.App, error) {
		if instance != nil {
			return instance, nil
		}
		a, err := app.NewApp(context.Background(), flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		instance = a
		return a, nil
	}

	rootCmd.AddCommand(bindingcmd.NewCommand(flags, func() (*registry.Registry, error) {
		a, err := getApp()
		if err != nil {
			return nil, err
		}
		return a.Registry, nil
	}))

	rootCmd.AddCommand(batchcmd.NewCommand(flags, func() (*batchcmd.Deps, error) {
		a, err := getApp()
		if err != nil {
			return nil, err
		}
		return &batchcmd.Deps{Coordinator: a.Coordinator, EventBus: a.EventBus}, nil
	}))

	err := rootCmd.Execute()

	if instance != nil {
		_ = instance.Close(context.Background())
	}

	if err != nil {
		cli.HandleExitError(err)
	}
}
