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

package deploystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeDeploy(t *testing.T, baseDir string, ref Ref, commit, metadata string) {
	t.Helper()
	refDir := filepath.Join(baseDir, ref.Kind, ref.ID, ref.Arch, ref.Branch)
	commitDir := filepath.Join(refDir, commit)
	require.NoError(t, os.MkdirAll(filepath.Join(commitDir, "files"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(commitDir, "metadata"), []byte(metadata), 0o644))
	require.NoError(t, os.Symlink(commit, filepath.Join(refDir, "active")))
}

func TestFsStoreResolve(t *testing.T) {
	baseDir := t.TempDir()
	ref := Ref{Kind: "app", ID: "org.example.App", Arch: "x86_64", Branch: "master"}
	writeDeploy(t, baseDir, ref, "deadbeef", "[Application]\nname=org.example.App\nruntime=org.example.Runtime/x86_64/stable\n")

	s := &FsStore{BaseDir: baseDir, DataDir: t.TempDir()}
	deploy, err := s.Resolve(ref)
	require.NoError(t, err)
	require.Equal(t, "deadbeef", deploy.Commit)
	require.Equal(t, filepath.Join(baseDir, "app", ref.ID, ref.Arch, ref.Branch, "deadbeef", "files"), deploy.FilesPath)
	require.Contains(t, string(deploy.Metadata), "runtime=org.example.Runtime/x86_64/stable")
	require.Empty(t, deploy.Extensions)
}

func TestFsStoreResolveWithExtensions(t *testing.T) {
	baseDir := t.TempDir()
	ref := Ref{Kind: "runtime", ID: "org.example.Runtime", Arch: "x86_64", Branch: "stable"}
	writeDeploy(t, baseDir, ref, "cafef00d", "[Runtime]\nname=org.example.Runtime\n")

	commitDir := filepath.Join(baseDir, ref.Kind, ref.ID, ref.Arch, ref.Branch, "cafef00d")
	deployJSON := `{"extensions":[{"installed_id":"org.example.Ext","directory":"extra","files_path":"/deploy/ext/files","add_ld_path":"lib","commit":"ext1"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(commitDir, "deploy.json"), []byte(deployJSON), 0o644))

	s := &FsStore{BaseDir: baseDir, DataDir: t.TempDir()}
	deploy, err := s.Resolve(ref)
	require.NoError(t, err)
	require.Len(t, deploy.Extensions, 1)
	require.Equal(t, "org.example.Ext", deploy.Extensions[0].InstalledID)
	require.Equal(t, "lib", deploy.Extensions[0].AddLdPath)
}

func TestFsStoreResolveMissing(t *testing.T) {
	s := &FsStore{BaseDir: t.TempDir(), DataDir: t.TempDir()}
	_, err := s.Resolve(Ref{Kind: "app", ID: "nope", Arch: "x86_64", Branch: "master"})
	require.Error(t, err)
}

func TestFsStoreLoadOverridesAbsent(t *testing.T) {
	s := &FsStore{BaseDir: t.TempDir(), DataDir: t.TempDir()}
	raw, err := s.LoadOverrides("org.example.App")
	require.NoError(t, err)
	require.Nil(t, raw)
}

func TestFsStoreLoadOverridesPresent(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "overrides"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, "overrides", "org.example.App"), []byte("[Context]\nshared=network;\n"), 0o644))

	s := &FsStore{BaseDir: baseDir, DataDir: t.TempDir()}
	raw, err := s.LoadOverrides("org.example.App")
	require.NoError(t, err)
	require.Contains(t, string(raw), "shared=network;")
}

func TestFsStorePerAppDataDir(t *testing.T) {
	s := &FsStore{BaseDir: t.TempDir(), DataDir: "/data"}
	require.Equal(t, "/data/org.example.App", s.PerAppDataDir("org.example.App"))
}
