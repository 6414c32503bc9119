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

package appinfo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/basuotian/sandboxrun/argstream"
)

func TestRenderApplicationGroups(t *testing.T) {
	i := Info{
		AppID:            "org.example.App",
		AppPath:          "/var/lib/flatpak/app/org.example.App/current/active/files",
		AppCommit:        "abc123",
		RuntimeRef:       "runtime/org.example.Platform/x86_64/1.0",
		RuntimePath:      "/var/lib/flatpak/runtime/org.example.Platform/x86_64/1.0/active/files",
		RuntimeCommit:    "def456",
		Extensions:       "org.example.Ext=local",
		Branch:           "stable",
		LauncherVersion:  "1.0",
		SessionBusProxy:  true,
		SystemBusProxy:   false,
		FlattenedContext: "[Context]\nshared=network;\n",
	}
	out := string(i.Render())

	require.Contains(t, out, "[Application]")
	require.Contains(t, out, "name=org.example.App")
	require.Contains(t, out, "runtime=org.example.Platform/x86_64/1.0")
	require.Contains(t, out, "app-commit=abc123")
	require.Contains(t, out, "runtime-commit=def456")
	require.Contains(t, out, "[Instance]")
	require.Contains(t, out, "branch=stable")
	require.Contains(t, out, "session-bus-proxy=true")
	require.Contains(t, out, "system-bus-proxy=false")
	require.Contains(t, out, "[Context]")
	require.Contains(t, out, "shared=network;")
}

func TestRenderRuntimeOnlyUsesRuntimeGroup(t *testing.T) {
	i := Info{RuntimeRef: "runtime/org.example.Platform/x86_64/1.0"}
	out := string(i.Render())
	require.True(t, strings.HasPrefix(out, "[Runtime]\n"))
}

func TestMountAppendsDoubleFdAndSymlink(t *testing.T) {
	i := Info{AppID: "org.example.App", RuntimeRef: "runtime/x"}
	stream := argstream.New()

	require.NoError(t, i.Mount(stream, 1000))
	defer stream.Close()

	args := stream.Args()
	require.Contains(t, args, "--file")
	require.Contains(t, args, "--ro-bind-data")
	require.Contains(t, args, "/.flatpak-info")
	require.Contains(t, args, "/run/user/1000/flatpak-info")
	require.Len(t, stream.Fds(), 2)
	require.NotEqual(t, stream.Fds()[0], stream.Fds()[1])
}
