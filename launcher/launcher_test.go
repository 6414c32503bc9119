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
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/basuotian/sandboxrun/argstream"
	"github.com/basuotian/sandboxrun/configblobs"
	"github.com/basuotian/sandboxrun/permctx"
)

func TestEmptyContextBaseArgs(t *testing.T) {
	l := &Launcher{identity: configblobs.Identity{Uid: 1000}}
	stream := argstream.New()

	l.applyBaseArgs(stream, permctx.New())

	args := stream.Args()
	require.Contains(t, args, "--unshare-ipc")
	require.Contains(t, args, "--unshare-net")
	require.Contains(t, args, "--dev")
	require.Contains(t, args, "/dev")
	require.Contains(t, args, "/tmp/.X11-unix")
	for _, a := range args {
		require.False(t, strings.HasPrefix(a, "/tmp/.X11-unix/X"), "no X socket bound for an empty context, got %q", a)
	}
}

func TestNetworkShareOmitsUnshareNet(t *testing.T) {
	l := &Launcher{identity: configblobs.Identity{Uid: 1000}}
	pctx := permctx.New()
	pctx.Shares.Grant(permctx.ShareNetwork)
	stream := argstream.New()

	l.applyBaseArgs(stream, pctx)

	require.Contains(t, stream.Args(), "--unshare-ipc")
	require.NotContains(t, stream.Args(), "--unshare-net")
}

func TestParseDisplayNumber(t *testing.T) {
	for display, want := range map[string]int{":3": 3, ":3.0": 3, "unix:7.1": 7, ":0": 0} {
		n, ok := parseDisplayNumber(display)
		require.True(t, ok, display)
		require.Equal(t, want, n, display)
	}
	for _, display := range []string{"", "remotehost:3", "tcp/host:5", ":x"} {
		_, ok := parseDisplayNumber(display)
		require.False(t, ok, display)
	}
}

// wildXauthEntry renders one FamilyWild Xauthority record for display,
// in the binary format FilterXauth reads.
func wildXauthEntry(t *testing.T, display string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(65535)))
	for _, field := range [][]byte{nil, []byte(display), []byte("MIT-MAGIC-COOKIE-1"), make([]byte, 16)} {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(len(field))))
		buf.Write(field)
	}
	return buf.Bytes()
}

func TestBindX11SocketRewritesDisplay(t *testing.T) {
	socketDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(socketDir, "X3"), nil, 0o600))

	xauthPath := filepath.Join(t.TempDir(), "Xauthority")
	require.NoError(t, os.WriteFile(xauthPath, wildXauthEntry(t, "3"), 0o600))
	t.Setenv("XAUTHORITY", xauthPath)

	l := &Launcher{identity: configblobs.Identity{Uid: 1000, Home: t.TempDir()}}
	stream := argstream.New()
	env := map[string]string{}

	require.NoError(t, l.bindX11Socket(stream, env, socketDir, 3))
	defer stream.Close()

	args := stream.Args()
	require.Contains(t, args, filepath.Join(socketDir, "X3"))
	require.Contains(t, args, "/tmp/.X11-unix/X99")
	require.Equal(t, ":99.0", env["DISPLAY"])
	require.Contains(t, args, "--bind-data")
	require.Contains(t, args, "/run/user/1000/Xauthority")
	require.Equal(t, "/run/user/1000/Xauthority", env["XAUTHORITY"])
}

func TestBindX11SocketMissingSocketIsNoop(t *testing.T) {
	l := &Launcher{identity: configblobs.Identity{Uid: 1000}}
	stream := argstream.New()
	env := map[string]string{}

	require.NoError(t, l.bindX11Socket(stream, env, t.TempDir(), 3))
	require.Empty(t, stream.Args())
	require.Empty(t, env)
}
