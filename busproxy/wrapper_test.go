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

	"github.com/stretchr/testify/require"
)

func TestBuildWrapperArgsOmitsAppInfoWhenNegative(t *testing.T) {
	// A negative appInfoFD must not produce a "--file ... /.flatpak-info"
	// triple: the spawner never gets handed an invalid fd reference.
	stream, err := BuildWrapperArgs(OSWrapperFS{}, t.TempDir(), -1)
	require.NoError(t, err)
	require.NotContains(t, stream.Args(), "/.flatpak-info")
}

func TestBuildWrapperArgsIncludesAppInfoWhenPresent(t *testing.T) {
	stream, err := BuildWrapperArgs(OSWrapperFS{}, t.TempDir(), 5)
	require.NoError(t, err)

	args := stream.Args()
	require.Contains(t, args, "--file")
	require.Contains(t, args, "5")
	require.Contains(t, args, "/.flatpak-info")
	// The fd number is baked into the args; the stream owns no fds.
	require.Empty(t, stream.Fds())
}
