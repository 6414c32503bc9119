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

package ldcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyDeterministic(t *testing.T) {
	k1 := Key("app123", "runtime456", "a=1", "b=2")
	k2 := Key("app123", "runtime456", "a=1", "b=2")
	require.Equal(t, k1, k2)
	require.Len(t, k1, 64)

	k3 := Key("app123", "runtime456", "a=1", "b=3")
	require.NotEqual(t, k1, k3)
}

func TestDirPrefersPerAppDataDir(t *testing.T) {
	require.Equal(t, "/data/app/.ld.so", Dir("/data/app", "/home/user/.cache"))
	require.Equal(t, "/home/user/.cache/flatpak/ld.so", Dir("", "/home/user/.cache"))
}

func TestLookupMissing(t *testing.T) {
	dir := t.TempDir()
	_, ok := Lookup(dir, "nonexistent-key")
	require.False(t, ok)
}

func TestLookupPresent(t *testing.T) {
	dir := t.TempDir()
	key := "abc123"
	require.NoError(t, os.WriteFile(filepath.Join(dir, key), []byte("cache-bytes"), 0o644))

	fd, ok := Lookup(dir, key)
	require.True(t, ok)
	require.GreaterOrEqual(t, fd, 0)
	os.NewFile(uintptr(fd), "").Close()
}

func TestSwitchActiveGarbageCollectsPrior(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old-key"), []byte("old"), 0o644))
	require.NoError(t, os.Symlink("old-key", filepath.Join(dir, "active")))

	require.NoError(t, switchActive(dir, "new-key"))

	target, err := os.Readlink(filepath.Join(dir, "active"))
	require.NoError(t, err)
	require.Equal(t, "new-key", target)

	_, err = os.Stat(filepath.Join(dir, "old-key"))
	require.True(t, os.IsNotExist(err))
}
