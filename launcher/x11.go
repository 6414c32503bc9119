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

package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/basuotian/sandboxrun/argstream"
	"github.com/basuotian/sandboxrun/configblobs"
)

// x11SocketDir is where X servers place their listening sockets; a
// Launcher field would be overkill since only tests ever want another
// location, and they go through bindX11Socket directly.
const x11SocketDir = "/tmp/.X11-unix"

// applyX11 exposes the host X display as display :99 inside the
// sandbox: the
// host's /tmp/.X11-unix/X<n> socket is bound at X99, DISPLAY is
// rewritten to :99.0, and a filtered Xauthority limited to the current
// host and display is generated at /run/user/<uid>/Xauthority.
func (l *Launcher) applyX11(stream *argstream.ArgStream, env map[string]string) error {
	display, ok := parseDisplayNumber(os.Getenv("DISPLAY"))
	if !ok {
		return nil
	}
	return l.bindX11Socket(stream, env, x11SocketDir, display)
}

func (l *Launcher) bindX11Socket(stream *argstream.ArgStream, env map[string]string, socketDir string, display int) error {
	hostSocket := filepath.Join(socketDir, fmt.Sprintf("X%d", display))
	if _, err := os.Stat(hostSocket); err != nil {
		return nil
	}
	stream.Add("--bind", hostSocket, x11SocketDir+"/X99")
	env["DISPLAY"] = ":99.0"

	xauthData, err := os.ReadFile(hostXauthorityPath(l.identity.Home))
	if err != nil {
		return nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return nil
	}
	filtered, err := configblobs.FilterXauth(xauthData, hostname, display)
	if err != nil || len(filtered) == 0 {
		return nil
	}
	dest := "/run/user/" + strconv.Itoa(l.identity.Uid) + "/Xauthority"
	if err := stream.AddData("xauth", filtered, dest); err != nil {
		return err
	}
	env["XAUTHORITY"] = dest
	return nil
}

func hostXauthorityPath(home string) string {
	if p := os.Getenv("XAUTHORITY"); p != "" {
		return p
	}
	return filepath.Join(home, ".Xauthority")
}

// parseDisplayNumber extracts the display number from a DISPLAY value
// of the local forms ":3", ":3.0", or "unix:3.0". Remote displays
// (anything with a hostname) are not rewritable to a bound socket and
// report false.
func parseDisplayNumber(display string) (int, bool) {
	rest, found := strings.CutPrefix(display, "unix")
	if !found {
		rest = display
	}
	if !strings.HasPrefix(rest, ":") {
		return 0, false
	}
	num, _, _ := strings.Cut(rest[1:], ".")
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
