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
	"os"
	"strconv"

	"github.com/basuotian/sandboxrun/argstream"
)

// writableTopLevel lists the "/" entries the proxy's own minimal
// sandbox needs writable; everything else is bound read-only.
var writableTopLevel = map[string]bool{"tmp": true, "var": true, "run": true}

// WrapperFS abstracts the host reads BuildWrapperArgs needs.
type WrapperFS interface {
	ReadDir(path string) ([]os.DirEntry, error)
	Lstat(path string) (os.FileInfo, error)
	Readlink(path string) (string, error)
}

// OSWrapperFS implements WrapperFS against the real operating system.
type OSWrapperFS struct{}

func (OSWrapperFS) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }
func (OSWrapperFS) Lstat(path string) (os.FileInfo, error)     { return os.Lstat(path) }
func (OSWrapperFS) Readlink(path string) (string, error)       { return os.Readlink(path) }

// BuildWrapperArgs composes the arg stream for the proxy's own minimal
// sandbox: every top-level host entry becomes a bind or symlink, the
// proxy socket directory is bound writable, and appInfoFD, when
// non-negative, is injected as a "--file" at /.flatpak-info so the
// proxy sees the same app identity as the real sandbox. A negative
// appInfoFD omits that bind entirely.
//
// appInfoFD must be the number the proxy process will see the fd at,
// not this process's own number: the spawner remaps inherited fds to a
// fixed layout, and the number is baked into the sealed args here. The
// fd itself is therefore not owned by the returned stream.
func BuildWrapperArgs(fs WrapperFS, proxySocketDir string, appInfoFD int) (*argstream.ArgStream, error) {
	stream := argstream.New()

	entries, err := fs.ReadDir("/")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		path := "/" + name
		fi, err := fs.Lstat(path)
		if err != nil {
			continue
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := fs.Readlink(path)
			if err != nil {
				continue
			}
			stream.Add("--symlink", target, path)
			continue
		}
		if writableTopLevel[name] {
			stream.Add("--bind", path, path)
		} else {
			stream.Add("--ro-bind", path, path)
		}
	}

	stream.Add("--bind", proxySocketDir, proxySocketDir)
	if appInfoFD >= 0 {
		stream.Add("--file", strconv.Itoa(appInfoFD), "/.flatpak-info")
	}

	return stream, nil
}
