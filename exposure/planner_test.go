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

package exposure

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/basuotian/sandboxrun/permctx"
)

type fakeNode struct {
	mode       os.FileMode
	linkTarget string
}

type fakeFileInfo struct {
	name string
	mode os.FileMode
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return 0 }
func (f fakeFileInfo) Mode() os.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeFileInfo) Sys() any           { return nil }

type fakeDirEntry struct{ fakeFileInfo }

func (f fakeDirEntry) Type() os.FileMode          { return f.mode.Type() }
func (f fakeDirEntry) Info() (os.FileInfo, error) { return f.fakeFileInfo, nil }

type fakeFS struct {
	nodes map[string]fakeNode
}

func newFakeFS() *fakeFS { return &fakeFS{nodes: map[string]fakeNode{"/": {mode: os.ModeDir}}} }

func (f *fakeFS) dir(path string) {
	f.nodes[path] = fakeNode{mode: os.ModeDir}
}
func (f *fakeFS) file(path string) {
	f.nodes[path] = fakeNode{mode: 0}
}
func (f *fakeFS) symlink(path, target string) {
	f.nodes[path] = fakeNode{mode: os.ModeSymlink, linkTarget: target}
}

// resolveFull resolves every component of path through the fake
// symlink table, the way the real lstat(2) resolves directory
// components on the way to the final entry.
func (f *fakeFS) resolveFull(path string) (string, error) {
	path = filepath.Clean(path)
	if path == "/" {
		return "/", nil
	}
	parent, base := filepath.Split(path)
	parent = filepath.Clean(parent)
	resolvedParent := "/"
	if parent != "/" {
		var err error
		resolvedParent, err = f.resolveFull(parent)
		if err != nil {
			return "", err
		}
	}
	full := filepath.Join(resolvedParent, base)
	n, ok := f.nodes[full]
	if !ok {
		return "", os.ErrNotExist
	}
	if n.mode&os.ModeSymlink != 0 {
		target := n.linkTarget
		if !filepath.IsAbs(target) {
			target = filepath.Clean(filepath.Join(resolvedParent, target))
		}
		return f.resolveFull(target)
	}
	return full, nil
}

// resolveParent resolves path's directory through symlinks but leaves
// the final component untouched, matching lstat(2) semantics.
func (f *fakeFS) resolveParent(path string) (string, error) {
	path = filepath.Clean(path)
	dir, base := filepath.Split(path)
	dir = filepath.Clean(dir)
	if dir == "/" || dir == path {
		return path, nil
	}
	resolvedDir, err := f.resolveFull(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

func (f *fakeFS) Lstat(path string) (os.FileInfo, error) {
	resolved, err := f.resolveParent(path)
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	n, ok := f.nodes[resolved]
	if !ok {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: os.ErrNotExist}
	}
	return fakeFileInfo{name: filepath.Base(resolved), mode: n.mode}, nil
}

func (f *fakeFS) ReadDir(path string) ([]os.DirEntry, error) {
	path = filepath.Clean(path)
	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	var out []os.DirEntry
	for p, n := range f.nodes {
		if p == path || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		out = append(out, fakeDirEntry{fakeFileInfo{name: rest, mode: n.mode}})
	}
	return out, nil
}

func (f *fakeFS) Readlink(path string) (string, error) {
	resolved, err := f.resolveParent(path)
	if err != nil {
		return "", err
	}
	n, ok := f.nodes[resolved]
	if !ok || n.mode&os.ModeSymlink == 0 {
		return "", fmt.Errorf("not a symlink: %s", path)
	}
	return n.linkTarget, nil
}

func (f *fakeFS) MkdirAll(path string, perm os.FileMode) error {
	cur := ""
	for _, part := range strings.Split(strings.TrimPrefix(filepath.Clean(path), "/"), "/") {
		if part == "" {
			continue
		}
		cur += "/" + part
		if _, ok := f.nodes[cur]; !ok {
			f.dir(cur)
		}
	}
	return nil
}

func newTestPlanner(fs *fakeFS, home string) *Planner {
	return &Planner{FS: fs, Home: home}
}

func TestExposeSimpleFile(t *testing.T) {
	fs := newFakeFS()
	fs.dir("/home")
	fs.dir("/home/user")
	fs.file("/home/user/doc.txt")
	pl := newTestPlanner(fs, "/home/user")

	ctx := permctx.New()
	ctx.Filesystems["/home/user/doc.txt"] = permctx.ReadOnly

	plan, err := pl.Build(ctx)
	require.NoError(t, err)
	e, ok := plan.Get("/home/user/doc.txt")
	require.True(t, ok)
	require.Equal(t, KindBind, e.Kind)
	require.Equal(t, permctx.ReadOnly, e.Mode)
}

func TestSymlinkCrossing(t *testing.T) {
	// /a/b -> /x, expose /a/b/c
	fs := newFakeFS()
	fs.dir("/a")
	fs.symlink("/a/b", "/x")
	fs.dir("/x")
	fs.file("/x/c")
	pl := newTestPlanner(fs, "/home/user")

	ctx := permctx.New()
	ctx.Filesystems["/a/b/c"] = permctx.ReadOnly

	plan, err := pl.Build(ctx)
	require.NoError(t, err)

	sym, ok := plan.Get("/a/b")
	require.True(t, ok)
	require.Equal(t, KindSymlink, sym.Kind)
	require.Equal(t, "../x", sym.Target)

	bind, ok := plan.Get("/x/c")
	require.True(t, ok)
	require.Equal(t, KindBind, bind.Kind)
}

func TestSymlinkRecursionCapped(t *testing.T) {
	fs := newFakeFS()
	fs.dir("/a")
	// l1 and l2 point at each other: a genuine infinite loop, the same
	// shape the kernel rejects with ELOOP.
	fs.symlink("/a/l1", "/a/l2")
	fs.symlink("/a/l2", "/a/l1")
	pl := newTestPlanner(fs, "/home/user")

	err := pl.expose(NewPlan(), permctx.ReadOnly, "/a/l1", 0)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrSymlinkLoop)
}

func TestHostExposeBlacklist(t *testing.T) {
	fs := newFakeFS()
	for _, d := range []string{"lib", "usr", "bin", "home", "mnt", "opt"} {
		fs.dir("/" + d)
	}
	fs.dir("/home/user")
	pl := newTestPlanner(fs, "/home/user")

	ctx := permctx.New()
	ctx.Filesystems["host"] = permctx.ReadOnly

	plan, err := pl.Build(ctx)
	require.NoError(t, err)

	_, libExposed := plan.Get("/lib")
	require.False(t, libExposed)
	_, mntExposed := plan.Get("/mnt")
	require.True(t, mntExposed)
}

type fakeMountPoints struct{ under map[string][]string }

func (f fakeMountPoints) Under(root string) ([]string, error) { return f.under[root], nil }

func TestHostExposeReachesNestedMounts(t *testing.T) {
	fs := newFakeFS()
	for _, d := range []string{"lib", "usr", "bin", "home"} {
		fs.dir("/" + d)
	}
	fs.dir("/home/user")
	fs.dir("/media")
	fs.dir("/media/usbstick")
	pl := newTestPlanner(fs, "/home/user")
	pl.Mounts = fakeMountPoints{under: map[string][]string{
		"/": {"/media/usbstick"},
	}}

	ctx := permctx.New()
	ctx.Filesystems["host"] = permctx.ReadOnly

	plan, err := pl.Build(ctx)
	require.NoError(t, err)

	_, ok := plan.Get("/media/usbstick")
	require.True(t, ok)
}

func TestExposeRejectsAppPrefix(t *testing.T) {
	fs := newFakeFS()
	fs.dir("/app")
	fs.file("/app/secret")
	pl := newTestPlanner(fs, "/home/user")

	ctx := permctx.New()
	ctx.Filesystems["/app/secret"] = permctx.ReadOnly
	_, err := pl.Build(ctx)
	require.Error(t, err)
}

func TestPlanRendersShortestFirst(t *testing.T) {
	fs := newFakeFS()
	fs.dir("/srv")
	fs.dir("/srv/data")
	fs.file("/srv/data/f")
	pl := newTestPlanner(fs, "/home/user")

	ctx := permctx.New()
	ctx.Filesystems["/srv"] = permctx.ReadOnly
	ctx.Filesystems["/srv/data/f"] = permctx.ReadWrite

	plan, err := pl.Build(ctx)
	require.NoError(t, err)

	entries := plan.Render()
	idxParent, idxChild := -1, -1
	for i, e := range entries {
		if e.Path == "/srv" {
			idxParent = i
		}
		if e.Path == "/srv/data/f" {
			idxChild = i
		}
	}
	require.True(t, idxParent >= 0 && idxChild >= 0)
	require.Less(t, idxParent, idxChild)
}

func TestVisibilityQuery(t *testing.T) {
	plan := NewPlan()
	plan.set("/home/user", Exposure{Kind: KindBind, Mode: permctx.ReadWrite})
	plan.set("/a/b", Exposure{Kind: KindSymlink, Target: "../x"})
	plan.set("/x", Exposure{Kind: KindBind, Mode: permctx.ReadOnly})

	require.True(t, plan.Visible("/home/user/file.txt"))
	require.True(t, plan.Visible("/a/b/c"))
	require.False(t, plan.Visible("/etc/shadow"))
}

func TestXdgUserDirRecorded(t *testing.T) {
	t.Setenv("XDG_DOWNLOAD_DIR", "")
	fs := newFakeFS()
	fs.dir("/home")
	fs.dir("/home/user")
	fs.dir("/home/user/Downloads")
	pl := newTestPlanner(fs, "/home/user")

	ctx := permctx.New()
	ctx.Filesystems["xdg-download"] = permctx.ReadWrite

	plan, err := pl.Build(ctx)
	require.NoError(t, err)
	require.Equal(t, "/home/user/Downloads", plan.XdgUserDirs()["download"])

	e, ok := plan.Get("/home/user/Downloads")
	require.True(t, ok)
	require.Equal(t, KindBind, e.Kind)
	require.Equal(t, permctx.ReadWrite, e.Mode)
}

func TestPlanMonotonicity(t *testing.T) {
	fs := newFakeFS()
	fs.dir("/srv")
	pl := newTestPlanner(fs, "/home/user")

	ctx := permctx.New()
	ctx.Filesystems["/srv"] = permctx.ReadOnly
	plan1, err := pl.Build(ctx)
	require.NoError(t, err)
	_, ok := plan1.Get("/srv")
	require.True(t, ok)

	ctx2 := ctx.Clone()
	ctx2.Filesystems["/srv"] = permctx.Negated
	plan2, err := pl.Build(ctx2)
	require.NoError(t, err)
	require.False(t, plan2.Visible("/srv"))
}
