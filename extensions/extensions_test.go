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

package extensions

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/basuotian/sandboxrun/argstream"
)

type fakeFS struct {
	dirs map[string][]os.DirEntry
}

func (f fakeFS) Stat(path string) (os.FileInfo, error) {
	return nil, os.ErrNotExist
}

func (f fakeFS) ReadDir(path string) ([]os.DirEntry, error) {
	if e, ok := f.dirs[path]; ok {
		return e, nil
	}
	return nil, os.ErrNotExist
}

func TestApplyBindsSortedByDirectory(t *testing.T) {
	m := &Mounter{FS: fakeFS{}}
	stream := argstream.New()
	exts := []Extension{
		{InstalledID: "org.z", FilesPath: "/deploy/z", Directory: "extensions/z"},
		{InstalledID: "org.a", FilesPath: "/deploy/a", Directory: "extensions/a"},
	}
	counter := 0
	_, summary, err := m.Apply(stream, exts, "", &counter)
	require.NoError(t, err)
	require.Equal(t, "org.z=local;org.a=local", summary)

	args := stream.Args()
	// Sorted-by-directory bind pass: "a" before "z".
	idxA := indexOf(args, "/deploy/a")
	idxZ := indexOf(args, "/deploy/z")
	require.Less(t, idxA, idxZ)
}

func TestApplyLdPathOrdering(t *testing.T) {
	m := &Mounter{FS: fakeFS{}}
	stream := argstream.New()
	exts := []Extension{
		{InstalledID: "runtime.ext", FilesPath: "/deploy/r", Directory: "extensions/r", AddLdPath: "lib", IsApp: false},
		{InstalledID: "app.ext", FilesPath: "/deploy/app", Directory: "extensions/app", AddLdPath: "lib", IsApp: true},
	}
	counter := 0
	ld, _, err := m.Apply(stream, exts, "", &counter)
	require.NoError(t, err)
	// runtime extensions prepend, app extensions append.
	require.Equal(t, "/usr/extensions/r/lib:/app/extensions/app/lib", ld)
}

func TestApplyMergeDirFirstWins(t *testing.T) {
	fs := fakeFS{dirs: map[string][]os.DirEntry{
		"/deploy/a/share/icons": {direntry{"foo.png"}},
		"/deploy/b/share/icons": {direntry{"foo.png"}, direntry{"bar.png"}},
	}}
	m := &Mounter{FS: fs}
	stream := argstream.New()
	exts := []Extension{
		{InstalledID: "org.a", FilesPath: "/deploy/a", Directory: "extensions/a", MergeDirs: []string{"share/icons"}},
		{InstalledID: "org.b", FilesPath: "/deploy/b", Directory: "extensions/b", MergeDirs: []string{"share/icons"}},
	}
	counter := 0
	_, _, err := m.Apply(stream, exts, "", &counter)
	require.NoError(t, err)

	args := stream.Args()
	fooCount := countOccurrences(args, "/usr/share/icons/foo.png")
	require.Equal(t, 1, fooCount)
	require.Contains(t, args, "/usr/share/icons/bar.png")
}

type direntry struct{ name string }

func (d direntry) Name() string               { return d.name }
func (d direntry) IsDir() bool                { return false }
func (d direntry) Type() os.FileMode          { return 0 }
func (d direntry) Info() (os.FileInfo, error) { return nil, nil }

func indexOf(s []string, v string) int {
	for i, e := range s {
		if e == v {
			return i
		}
	}
	return -1
}

func countOccurrences(s []string, v string) int {
	n := 0
	for _, e := range s {
		if e == v {
			n++
		}
	}
	return n
}
