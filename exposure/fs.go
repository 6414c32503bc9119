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
	"os"
)

// HostFS abstracts the host filesystem operations the planner needs,
// so tests can exercise symlink-crossing and enumeration logic without
// touching the real "/". Production code uses OSFS.
type HostFS interface {
	Lstat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.DirEntry, error)
	Readlink(path string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
}

// OSFS implements HostFS against the real operating system.
type OSFS struct{}

func (OSFS) Lstat(path string) (os.FileInfo, error)       { return os.Lstat(path) }
func (OSFS) ReadDir(path string) ([]os.DirEntry, error)   { return os.ReadDir(path) }
func (OSFS) Readlink(path string) (string, error)         { return os.Readlink(path) }
func (OSFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
