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
	"runtime"
	"strings"

	"github.com/basuotian/sandboxrun/internal/deploystore"
	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// parseAppRef accepts a bare app id ("org.example.App", arch/branch
// default to the host arch and "master") or a fully qualified
// "<id>/<arch>/<branch>" ref, the two forms flatpak's own CLI accepts
// for its positional APP argument.
func parseAppRef(raw string) (deploystore.Ref, error) {
	parts := strings.Split(raw, "/")
	switch len(parts) {
	case 1:
		return deploystore.Ref{Kind: "app", ID: parts[0], Arch: hostArch(), Branch: "master"}, nil
	case 3:
		return deploystore.Ref{Kind: "app", ID: parts[0], Arch: parts[1], Branch: parts[2]}, nil
	default:
		return deploystore.Ref{}, launcherrors.NewConfigError("app-ref", raw)
	}
}

// hostArch maps runtime.GOARCH to the flatpak-style arch string used
// in ref components and deploy-store directory layout.
func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i386"
	case "arm":
		return "arm"
	default:
		return runtime.GOARCH
	}
}
