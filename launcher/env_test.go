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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/basuotian/sandboxrun/argstream"
)

func TestBuildEnvSetsPerAppXDGDirs(t *testing.T) {
	env := buildEnv("/var/app/org.example.App", nil)
	require.Equal(t, "/var/app/org.example.App/data", env["XDG_DATA_HOME"])
	require.Equal(t, "/var/app/org.example.App/config", env["XDG_CONFIG_HOME"])
	require.Equal(t, "/var/app/org.example.App/cache", env["XDG_CACHE_HOME"])
}

func TestBuildEnvUnsetsByDefaultUnlessExtraOverrides(t *testing.T) {
	env := buildEnv("", nil)
	_, ok := env["LD_LIBRARY_PATH"]
	require.False(t, ok)

	env = buildEnv("", map[string]string{"LD_LIBRARY_PATH": "/app/lib"})
	require.Equal(t, "/app/lib", env["LD_LIBRARY_PATH"])
}

func TestBuildEnvExtraOverridesBase(t *testing.T) {
	env := buildEnv("", map[string]string{"PATH": "/custom/bin"})
	require.Equal(t, "/custom/bin", env["PATH"])
}

func TestApplyEnvEmitsUnsetForMissingDefaults(t *testing.T) {
	stream := argstream.New()
	applyEnv(stream, map[string]string{"PATH": "/app/bin:/usr/bin"})
	args := stream.Args()
	require.Contains(t, args, "--unsetenv")
	require.Contains(t, args, "LD_LIBRARY_PATH")
	require.Contains(t, args, "--setenv")
}
