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

package main

import (
	"github.com/urfave/cli/v2"

	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// runCommand implements the primary "launch this app" verb. Flags
// mirror flatpak run's permission surface plus the --unshare-all
// convenience flag.
var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "resolve, compose, and exec the sandbox for an app ref",
	ArgsUsage: "<app-id>[/<arch>/<branch>] [-- COMMAND ARGS...]",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "background", Usage: "fork into the background instead of execing in place"},
		&cli.BoolFlag{Name: "unshare-all", Usage: "shorthand for --unshare=network --unshare=ipc"},
		&cli.StringSliceFlag{Name: "share", Usage: "share a namespace normally unshared (network, ipc)"},
		&cli.StringSliceFlag{Name: "unshare", Usage: "unshare a namespace normally shared"},
		&cli.StringSliceFlag{Name: "socket", Usage: "grant a socket capability"},
		&cli.StringSliceFlag{Name: "nosocket", Usage: "revoke a socket capability"},
		&cli.StringSliceFlag{Name: "filesystem", Usage: "expose an additional filesystem path"},
		&cli.StringSliceFlag{Name: "env", Usage: "NAME=VALUE to set in the sandboxed environment"},
	},
	Action: runAction,
}

func runAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return launcherrors.NewConfigError("app-ref", "<missing>")
	}
	appRef, err := parseAppRef(c.Args().First())
	if err != nil {
		return err
	}

	extraCliArgs := collectCliArgs(c)
	l, err := buildLauncher(c, extraCliArgs)
	if err != nil {
		return err
	}

	return l.Run(c.Context, appRef, c.Args().Tail())
}

// collectCliArgs renders the run command's own flag set into the
// "--flag=value" argv form permctx.ParseCliArgs expects.
func collectCliArgs(c *cli.Context) []string {
	var args []string
	for _, v := range c.StringSlice("share") {
		args = append(args, "--share="+v)
	}
	for _, v := range c.StringSlice("unshare") {
		args = append(args, "--unshare="+v)
	}
	if c.Bool("unshare-all") {
		args = append(args, "--unshare=network", "--unshare=ipc")
	}
	for _, v := range c.StringSlice("socket") {
		args = append(args, "--socket="+v)
	}
	for _, v := range c.StringSlice("nosocket") {
		args = append(args, "--nosocket="+v)
	}
	for _, v := range c.StringSlice("filesystem") {
		args = append(args, "--filesystem="+v)
	}
	for _, v := range c.StringSlice("env") {
		args = append(args, "--env="+v)
	}
	return args
}
