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

package permctx_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/basuotian/sandboxrun/permctx"
)

func sampleContext() *permctx.Context {
	c := permctx.New()
	c.Shares.Grant(permctx.ShareNetwork)
	c.Shares.Deny(permctx.ShareIPC)
	c.Sockets.Grant(permctx.SocketX11)
	c.Devices.Grant(permctx.DeviceDRI)
	c.EnvVars["FOO"] = "bar"
	c.Persistent[".config/foo"] = true
	c.Filesystems["home"] = permctx.ReadOnly
	c.Filesystems["/media"] = permctx.ReadWrite
	c.SessionBusPolicy["org.example.A"] = permctx.PolicyOwn
	c.SystemBusPolicy["org.example.B"] = permctx.PolicyTalk
	c.GenericPolicy["appstream.origin"] = []string{"foo", "!foo", "foo"}
	return c
}

func diff(t *testing.T, a, b *permctx.Context) string {
	t.Helper()
	return cmp.Diff(a, b, cmp.AllowUnexported(permctx.Mask{}))
}

func TestMergeIdempotence(t *testing.T) {
	a := sampleContext()

	withSelf := a.Clone()
	withSelf.Merge(a.Clone())
	require.Empty(t, diff(t, a, withSelf))

	withEmpty := a.Clone()
	withEmpty.Merge(permctx.New())
	require.Empty(t, diff(t, a, withEmpty))
}

func TestRoundTrip(t *testing.T) {
	a := sampleContext()
	blob := a.Serialize(false)
	got, err := permctx.Parse(blob)
	require.NoError(t, err)
	require.Empty(t, diff(t, a, got))
}

func TestFlattenSoundness(t *testing.T) {
	a := sampleContext()
	blob := a.Serialize(true)
	flat, err := permctx.Parse(blob)
	require.NoError(t, err)

	merged := permctx.New()
	merged.Merge(flat)

	// Grants exactly the same capabilities...
	require.True(t, merged.Shares.IsGranted(permctx.ShareNetwork))
	require.True(t, merged.Sockets.IsGranted(permctx.SocketX11))
	require.True(t, merged.Devices.IsGranted(permctx.DeviceDRI))

	// ...and denies nothing else: the flattened IPC deny is gone.
	require.True(t, merged.Shares.IsUnspecified(permctx.ShareIPC))
}

func TestCliRoundTrip(t *testing.T) {
	c := permctx.New()
	c.Shares.Grant(permctx.ShareNetwork)
	c.Sockets.Deny(permctx.SocketWayland)
	c.Filesystems["/srv"] = permctx.ReadWrite
	c.EnvVars["X"] = "1"
	c.SessionBusPolicy["org.example.A"] = permctx.PolicyOwn
	c.Persistent[".bash_history"] = true

	args := c.ToCliArgs()
	got, err := permctx.ParseCliArgs(args)
	require.NoError(t, err)
	require.Empty(t, diff(t, c, got))
}

func TestBusPolicyMergeLastWriterWins(t *testing.T) {
	// metadata declares --talk-name=org.example.A
	metadata, err := permctx.ParseCliArgs([]string{"--talk-name=org.example.A"})
	require.NoError(t, err)
	// overrides declare --own-name=org.example.A
	overrides, err := permctx.ParseCliArgs([]string{"--own-name=org.example.A"})
	require.NoError(t, err)

	result := metadata.Clone()
	result.Merge(overrides)

	require.Len(t, result.SessionBusPolicy, 1)
	require.Equal(t, permctx.PolicyOwn, result.SessionBusPolicy["org.example.A"])
	require.Equal(t, []string{"--own-name=org.example.A"}, result.ToCliArgs())
}

func TestGenericPolicySequence(t *testing.T) {
	c := permctx.New()
	for _, v := range []string{"foo", "!foo", "foo"} {
		other := permctx.New()
		other.GenericPolicy["appstream.origin"] = []string{v}
		c.Merge(other)
	}
	require.Equal(t, []string{"foo"}, c.GenericPolicy["appstream.origin"])
}

func TestDefaultPermissions(t *testing.T) {
	d := permctx.Default()
	require.Equal(t, permctx.PolicyTalk, d.SessionBusPolicy["org.freedesktop.portal.*"])
}

func TestValidatePathSpecRejectsGarbage(t *testing.T) {
	require.Error(t, permctx.ValidatePathSpec("not-a-spec"))
	require.NoError(t, permctx.ValidatePathSpec("xdg-download"))
	require.NoError(t, permctx.ValidatePathSpec("~/Projects"))
}

func TestValidateBusNamePatternRejectsUniqueName(t *testing.T) {
	require.Error(t, permctx.ValidateBusNamePattern(":1.42"))
	require.NoError(t, permctx.ValidateBusNamePattern("org.example.App"))
	require.NoError(t, permctx.ValidateBusNamePattern("org.example.*"))
}
