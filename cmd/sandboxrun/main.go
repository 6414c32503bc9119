/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Command sandboxrun is a thin CLI harness over the sandbox launcher
// core.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/basuotian/sandboxrun/internal/deploystore"
	"github.com/basuotian/sandboxrun/internal/launcherrors"
	"github.com/basuotian/sandboxrun/launcher"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "sandboxrun:", err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "sandboxrun"
	app.Usage = "launch a deployed app inside its sandboxed runtime"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		&cli.StringFlag{
			Name:  "installations-dir",
			Usage: "root of the deploy store's on-disk layout",
			Value: defaultInstallationsDir(),
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "root of the per-app data directories",
			Value: defaultDataDir(),
		},
		&cli.StringFlag{
			Name:  "executor",
			Usage: "path to the unprivileged container executor",
			Value: "bwrap",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.Bool("debug") {
			return log.SetLevel("debug")
		}
		return nil
	}
	app.Commands = []*cli.Command{
		runCommand,
		infoCommand,
	}
	return app
}

func defaultInstallationsDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "sandboxrun")
	}
	return "/var/lib/sandboxrun"
}

func defaultDataDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".var", "app")
	}
	return "/var/lib/sandboxrun/data"
}

func storeFromContext(c *cli.Context) *deploystore.FsStore {
	return &deploystore.FsStore{BaseDir: c.String("installations-dir"), DataDir: c.String("data-dir")}
}

// buildLauncher assembles the shared options every subcommand needs
// from the common flag set.
func buildLauncher(c *cli.Context, extraCliArgs []string) (*launcher.Launcher, error) {
	return launcher.New(storeFromContext(c),
		launcher.WithExecutorPath(c.String("executor")),
		launcher.WithExtraCliArgs(extraCliArgs),
		launcher.WithBackground(c.Bool("background")),
		launcher.WithUserInstallRoot(c.String("installations-dir")),
	)
}

// exitCode maps the launcherrors taxonomy to process exit codes:
// configuration/deploy problems exit 1, a fatal sandbox/executor
// failure exits 2.
func exitCode(err error) int {
	switch err.(type) {
	case *launcherrors.FatalSandbox:
		return 2
	default:
		return 1
	}
}
