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
	"fmt"

	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"

	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// infoCommand is the read-only diagnostic subcommand: it runs the
// full composition pipeline but stops at Launcher.Plan, printing the
// flattened Context and the resulting ExposurePlan instead of
// execing.
var infoCommand = &cli.Command{
	Name:      "info",
	Usage:     "print the resolved Context and ExposurePlan for a ref without launching",
	ArgsUsage: "<app-id>[/<arch>/<branch>]",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "share"},
		&cli.StringSliceFlag{Name: "unshare"},
		&cli.StringSliceFlag{Name: "socket"},
		&cli.StringSliceFlag{Name: "nosocket"},
		&cli.StringSliceFlag{Name: "filesystem"},
		&cli.StringSliceFlag{Name: "env"},
	},
	Action: infoAction,
}

func infoAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return launcherrors.NewConfigError("app-ref", "<missing>")
	}
	appRef, err := parseAppRef(c.Args().First())
	if err != nil {
		return err
	}

	l, err := buildLauncher(c, collectCliArgs(c))
	if err != nil {
		return err
	}

	result, err := l.Plan(c.Context, appRef)
	if err != nil {
		return err
	}

	fmt.Println("Context:")
	fmt.Print(string(result.Context.Serialize(true)))

	fmt.Println("\nExposurePlan:")
	for _, e := range result.Plan.Render() {
		fmt.Printf("  %-7s %s\n", e.Exposure.Kind, e.Path)
	}

	fmt.Printf("\nArgStream: %d arguments, %s sealed\n",
		len(result.ArgStream.Args()), units.HumanSize(float64(len(result.ArgStream.Serialize()))))
	return nil
}
