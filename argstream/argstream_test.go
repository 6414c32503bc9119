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
	"io"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAddAppendsOpAndArgs(t *testing.T) {
	s := New()
	s.Add("--ro-bind", "/usr", "/usr")
	s.Add("--dev", "/dev")
	require.Equal(t, []string{"--ro-bind", "/usr", "/usr", "--dev", "/dev"}, s.Args())
	require.Empty(t, s.Fds())
}

func TestAddFDOwnershipAndOrdering(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	fd := int(w.Fd())
	s := New()
	s.AddFD("--file", fd, "/run/flatpak-info")
	require.Equal(t, []string{"--file", strconv.Itoa(fd), "/run/flatpak-info"}, s.Args())
	require.Equal(t, []int{fd}, s.Fds())

	require.NoError(t, s.Close())
}

func TestAddDataSealedMemfd(t *testing.T) {
	s := New()
	payload := []byte("hello sandbox\n")
	require.NoError(t, s.AddData("test-blob", payload, "/run/test-blob"))

	args := s.Args()
	require.Len(t, args, 3)
	require.Equal(t, "--bind-data", args[0])
	require.Equal(t, "/run/test-blob", args[2])
	require.Len(t, s.Fds(), 1)

	fd := s.Fds()[0]
	got := readAll(t, fd)
	require.Equal(t, payload, got)

	// A sealed memfd refuses further writes.
	_, err := unix.Write(fd, []byte("x"))
	require.Error(t, err)

	require.NoError(t, s.Close())
}

func TestAddDataFallbackTempFile(t *testing.T) {
	payload := []byte("fallback content")
	fd, err := unlinkedTempFile("fallback", payload)
	require.NoError(t, err)
	defer unix.Close(fd)

	got := readAll(t, fd)
	require.Equal(t, payload, got)
}

func readAll(t *testing.T, fd int) []byte {
	t.Helper()
	_, err := unix.Seek(fd, 0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 4096)
	n, err := unix.Read(fd, buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestCloseClearsFds(t *testing.T) {
	s := New()
	require.NoError(t, s.AddData("a", []byte("x"), "/run/a"))
	require.NoError(t, s.AddData("b", []byte("y"), "/run/b"))
	require.Len(t, s.Fds(), 2)

	require.NoError(t, s.Close())
	require.Empty(t, s.Fds())
}
