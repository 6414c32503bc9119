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
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/basuotian/sandboxrun/busproxy"
	"github.com/basuotian/sandboxrun/configblobs"
	"github.com/basuotian/sandboxrun/permctx"
)

func TestBusParamsSessionUnrestrictedWhenGrantedNoPolicy(t *testing.T) {
	l := &Launcher{identity: configblobs.Identity{Uid: 1000}, userRuntimeDir: "/run/user/1000"}
	pctx := permctx.New()
	pctx.Sockets.Grant(permctx.SocketSessionBus)

	policy, granted, sandboxPath, envVar, upstream := l.busParams(pctx, busproxy.Session)
	require.Empty(t, policy)
	require.True(t, granted)
	require.Equal(t, "/run/user/1000/bus", sandboxPath)
	require.Equal(t, "DBUS_SESSION_BUS_ADDRESS", envVar)
	require.NotEmpty(t, upstream)
}

func TestBusParamsA11yNeverUnrestricted(t *testing.T) {
	l := &Launcher{identity: configblobs.Identity{Uid: 1000}, userRuntimeDir: "/run/user/1000"}
	pctx := permctx.Default()

	_, granted, _, envVar, _ := l.busParams(pctx, busproxy.A11y)
	require.False(t, granted)
	require.Equal(t, "AT_SPI_BUS_ADDRESS", envVar)
}

func TestResolveA11yBusAddressPrefersEnv(t *testing.T) {
	l := &Launcher{}
	require.NoError(t, os.Setenv("AT_SPI_BUS_ADDRESS", "unix:path=/tmp/at-spi"))
	defer os.Unsetenv("AT_SPI_BUS_ADDRESS")

	require.Equal(t, "unix:path=/tmp/at-spi", l.resolveA11yBusAddress())
}

func TestApplyOneBusSkipsWhenNeitherGrantedNorPolicyNorA11y(t *testing.T) {
	l := &Launcher{identity: configblobs.Identity{Uid: 1000}, userRuntimeDir: t.TempDir()}
	pctx := permctx.Default()
	env := map[string]string{}

	p, err := l.applyOneBus(nil, nil, pctx, env, busproxy.System, "org.example.App", -1)
	require.NoError(t, err)
	require.Nil(t, p)
}
