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
	"strings"

	"github.com/moby/sys/mountinfo"
)

// MountPoints abstracts querying the kernel's mount table so the
// planner can emit separate Bind entries for filesystems mounted
// inside an exposed directory tree: binding a directory does not
// recurse into other filesystems mounted beneath it.
type MountPoints interface {
	// Under returns the mountpoints nested strictly under root,
	// excluding root itself.
	Under(root string) ([]string, error)
}

// ProcMountPoints implements MountPoints against /proc/self/mountinfo.
type ProcMountPoints struct{}

func (ProcMountPoints) Under(root string) ([]string, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.PrefixFilter(root))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(mounts))
	for _, m := range mounts {
		if m.Mountpoint != root {
			out = append(out, m.Mountpoint)
		}
	}
	return out, nil
}

// firstSegment returns the first path component of an absolute path,
// used to test a nested mountpoint against hostRootBlacklist.
func firstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.Index(trimmed, "/"); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}
