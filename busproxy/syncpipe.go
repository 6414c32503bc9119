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
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// DefaultReadyTimeout bounds the sync-pipe rendezvous. flatpak's own
// wait is unbounded; bounding it turns a wedged proxy into a reported
// launch failure instead of a hang.
const DefaultReadyTimeout = 10 * time.Second

// SyncPipe is the one-byte rendezvous pipe between the launcher and
// the filtering proxy: the proxy writes a byte to the write end once every socket it owns
// is listening; the parent blocks reading the read end until that
// happens, then hands the read end to the sandboxed application so the
// proxy can detect (via poll-time hangup on its own end) when the
// application's namespace tears down.
type SyncPipe struct {
	readFD, writeFD int
}

// New creates a close-on-exec pipe.
func New() (*SyncPipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, &launcherrors.IoError{Op: "pipe2", Path: "sync-pipe", Err: err}
	}
	return &SyncPipe{readFD: fds[0], writeFD: fds[1]}, nil
}

// WriteFD returns the fd to hand to the proxy process.
func (p *SyncPipe) WriteFD() int { return p.writeFD }

// TakeReadFD returns the read-end fd for transfer into an ArgStream
// slot (e.g. AddFDOnly("--sync-fd", fd)) and marks it as no longer
// owned by the SyncPipe, so Close does not double-close it.
func (p *SyncPipe) TakeReadFD() int {
	fd := p.readFD
	p.readFD = -1
	return fd
}

// CloseWriteEnd closes the parent's own copy of the write end once the
// proxy process has inherited its own, so EOF on the read end tracks
// the proxy alone.
func (p *SyncPipe) CloseWriteEnd() error {
	if p.writeFD < 0 {
		return nil
	}
	err := unix.Close(p.writeFD)
	p.writeFD = -1
	return err
}

// AwaitReady blocks (bounded by timeout) reading one byte from the
// read end. Returns launcherrors.ErrProxyTimeout if the proxy has not
// signaled readiness by the deadline, or a ProxyError if the read
// fails or returns 0 bytes.
func (p *SyncPipe) AwaitReady(timeout time.Duration) error {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 1)
		n, err := unix.Read(p.readFD, buf)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			return &launcherrors.ProxyError{Err: fmt.Errorf("read sync pipe: %w", res.err)}
		}
		if res.n == 0 {
			return &launcherrors.ProxyError{Err: fmt.Errorf("proxy closed sync pipe before signaling readiness")}
		}
		return nil
	case <-time.After(timeout):
		return launcherrors.ErrProxyTimeout
	}
}
