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

// Package argstream builds the append-only argument vector and owned
// file descriptor list handed to the sandbox executor. Every piece of
// content destined for the sandbox -- generated config files, the
// seccomp filter, the instance info blob -- flows through a kernel
// anonymous fd rather than a host-visible path, so there is nothing on
// disk for a concurrent process to race against.
package argstream

import (
	"bytes"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// ArgStream accumulates executor arguments and the fds those arguments
// reference. It is write-only from the caller's perspective: nothing
// removes an argument or fd once added.
type ArgStream struct {
	args []string
	fds  []int
}

// New returns an empty ArgStream.
func New() *ArgStream {
	return &ArgStream{}
}

// Add appends op followed by args, none of which reference fds.
func (s *ArgStream) Add(op string, args ...string) {
	s.args = append(s.args, op)
	s.args = append(s.args, args...)
}

// AddFD consumes fd, appending op, fd's decimal string, then afterArg.
// Ownership of fd transfers to the ArgStream: the caller must not
// close it, and must not use it after this call except via Fds.
func (s *ArgStream) AddFD(op string, fd int, afterArg string) {
	s.args = append(s.args, op, strconv.Itoa(fd), afterArg)
	s.fds = append(s.fds, fd)
}

// AddFDOnly consumes fd, appending op followed by its decimal string
// with nothing after it (e.g. "--seccomp <fd>" or "--sync-fd <fd>"),
// unlike AddFD's three-token form used for path-bearing ops such as
// "--file"/"--bind-data".
func (s *ArgStream) AddFDOnly(op string, fd int) {
	s.args = append(s.args, op, strconv.Itoa(fd))
	s.fds = append(s.fds, fd)
}

// AddData materializes data into a sealed anonymous memfd (preferred)
// or an unlinked temp file (fallback when memfd sealing is
// unavailable), then emits a "--bind-data <fd> <sandboxPath>" triple.
func (s *ArgStream) AddData(name string, data []byte, sandboxPath string) error {
	fd, err := sealedMemfd(name, data)
	if err != nil {
		fd, err = unlinkedTempFile(name, data)
		if err != nil {
			return &launcherrors.IoError{Op: "add_data", Path: sandboxPath, Err: err}
		}
	}
	s.AddFD("--bind-data", fd, sandboxPath)
	return nil
}

// Args returns the accumulated argument vector.
func (s *ArgStream) Args() []string {
	return s.args
}

// Fds returns the fds owned by the stream, in the order they were added.
func (s *ArgStream) Fds() []int {
	return s.fds
}

// Serialize renders the accumulated arguments as NUL-terminated
// strings, the wire format the executor reads its "--args <fd>"
// argument stream in.
func (s *ArgStream) Serialize() []byte {
	var buf bytes.Buffer
	for _, a := range s.args {
		buf.WriteString(a)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// SealedFD serializes the stream and materializes it into a sealed
// anonymous fd, the form both the final invocation and the bus
// proxy's wrapper sandbox are handed to the executor in.
func (s *ArgStream) SealedFD(name string) (int, error) {
	fd, err := sealedMemfd(name, s.Serialize())
	if err != nil {
		return -1, &launcherrors.IoError{Op: "seal_args", Path: name, Err: err}
	}
	return fd, nil
}

// Close closes every owned fd. Used on the cancellation path: once
// the executor is not going to be exec'd, nothing else will ever
// clear close-on-exec for these fds, so they must be released
// explicitly.
func (s *ArgStream) Close() error {
	var first error
	for _, fd := range s.fds {
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	s.fds = nil
	return first
}
