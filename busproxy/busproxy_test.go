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

package busproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/basuotian/sandboxrun/internal/launcherrors"
	"github.com/basuotian/sandboxrun/permctx"
)

func TestProxyArgsSession(t *testing.T) {
	req := Request{
		Bus:             Session,
		UpstreamAddress: "unix:path=/run/user/1000/bus",
		AppID:           "org.example.App",
		Policy: map[string]permctx.Policy{
			"org.example.Other": permctx.PolicyTalk,
			"org.example.Seen":  permctx.PolicySee,
		},
	}.WithSocketPath("/run/user/1000/.dbus-proxy/session-xyz")

	args := ProxyArgs(req)
	require.Equal(t, "unix:path=/run/user/1000/bus", args[0])
	require.Equal(t, "/run/user/1000/.dbus-proxy/session-xyz", args[1])
	require.Equal(t, "--filter", args[2])
	require.Contains(t, args, "--own=org.example.App")
	require.Contains(t, args, "--own=org.example.App.*")
	require.Contains(t, args, "--talk=org.example.Other")
	require.Contains(t, args, "--see=org.example.Seen")
}

func TestProxyArgsIncludesSyncFD(t *testing.T) {
	req := Request{Bus: System, UpstreamAddress: "unix:path=/run/dbus/system_bus_socket", SyncFD: 4}.WithSocketPath("/tmp/proxy-system")
	args := ProxyArgs(req)
	require.Contains(t, args, "--fd=4")
}

func TestProxyArgsA11yFixedFilter(t *testing.T) {
	req := Request{Bus: A11y, UpstreamAddress: "unix:path=/tmp/at-spi"}.WithSocketPath("/tmp/proxy-a11y")
	args := ProxyArgs(req)
	require.Contains(t, args, "--talk=org.a11y.atspi.Registry")
}

func TestSyncPipeRendezvous(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		unix.Write(p.WriteFD(), []byte{1})
	}()

	require.NoError(t, p.AwaitReady(time.Second))
}

func TestSyncPipeTimeout(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.CloseWriteEnd()

	err = p.AwaitReady(10 * time.Millisecond)
	require.ErrorIs(t, err, launcherrors.ErrProxyTimeout)
}
