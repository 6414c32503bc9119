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

package argstream

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// sealedMemfd writes data into a new memfd, applies shrink+grow+write+
// seal so the child cannot mutate the blob, and returns the fd rewound
// to its start.
func sealedMemfd(name string, data []byte) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	if err := writeAll(fd, data); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := SealFd(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// NewUnsealedMemfd creates a memfd with sealing allowed but not yet
// applied, for callers (the seccomp BPF exporter) that must write
// through a third-party API rather than supplying bytes up front. The
// caller must call SealFd once writing is complete.
func NewUnsealedMemfd(name string) (int, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	return fd, nil
}

// SealFd rewinds fd to its start and applies the shrink+grow+write+
// seal set used throughout the tree so a sandboxed child can read but
// never mutate a generated blob.
func SealFd(fd int) error {
	if _, err := unix.Seek(fd, 0, io.SeekStart); err != nil {
		return fmt.Errorf("seek memfd: %w", err)
	}
	const seals = unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, seals); err != nil {
		return fmt.Errorf("seal memfd: %w", err)
	}
	return nil
}

func writeAll(fd int, data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil {
			return fmt.Errorf("write memfd: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// unlinkedTempFile is the fallback for kernels or filesystems where
// memfd sealing is unavailable: an ordinary temp file, written, then
// unlinked while still open so no path survives to race against.
func unlinkedTempFile(name string, data []byte) (int, error) {
	f, err := os.CreateTemp("", "sandboxrun-"+name+"-*")
	if err != nil {
		return -1, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return -1, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return -1, fmt.Errorf("seek temp file: %w", err)
	}
	fd, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		return -1, fmt.Errorf("dup temp file: %w", err)
	}
	return fd, nil
}
