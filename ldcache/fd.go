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

package ldcache

import (
	"os"

	"golang.org/x/sys/unix"
)

// dupFd returns a dup of f's fd that outlives f: f itself still closes
// (and, via its finalizer, closes its own fd) once it goes out of
// scope, but the dup is independent and safe to hand into an
// argstream.ArgStream.
func dupFd(f *os.File) (int, error) {
	return unix.Dup(int(f.Fd()))
}
