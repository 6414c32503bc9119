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
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// LockHold is a host-side flock(2) shared lock on a deploy ref marker,
// backing the "--lock-file" argument emitted for runtime/app and
// extension .ref files. The executor takes its own lock inside the
// sandbox namespace on the path this reserves; the host-side hold here keeps the deploy
// store from garbage-collecting the commit out from under a launch
// still in flight before the executor ever starts.
type LockHold struct {
	f *os.File
}

// Hold opens path and takes a shared flock, returning a handle whose
// Release drops it. Fails silently-compatible with a missing marker:
// callers should only call Hold when the marker is known to exist.
func Hold(path string) (*LockHold, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &LockHold{f: f}, nil
}

// Release drops the lock and closes the underlying file.
func (h *LockHold) Release() error {
	if h == nil || h.f == nil {
		return nil
	}
	err := unix.Flock(int(h.f.Fd()), unix.LOCK_UN)
	closeErr := h.f.Close()
	h.f = nil
	if err != nil {
		return err
	}
	return closeErr
}
