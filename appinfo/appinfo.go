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

// Package appinfo builds the immutable per-instance info file mounted
// unfakeably at /.flatpak-info inside the sandbox.
package appinfo

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/basuotian/sandboxrun/argstream"
	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// Info is the immutable per-instance record written to
// /.flatpak-info.
type Info struct {
	AppID           string
	AppPath         string // outside-sandbox view, may be empty for a runtime-only launch
	AppCommit       string
	RuntimeRef      string
	RuntimePath     string
	RuntimeCommit   string
	Extensions      string // ";"-joined summary from extensions.Mounter.Apply
	Branch          string
	LauncherVersion string
	SessionBusProxy bool
	SystemBusProxy  bool
	// FlattenedContext is the already-rendered [Context] INI section
	// body (permctx.Serialize with flatten=true), copied in verbatim.
	FlattenedContext string
}

// Render produces the INI-format blob. Kept separate from the mount
// logic so it can be tested without touching the filesystem.
func (i Info) Render() []byte {
	var b strings.Builder
	runtimeRef := strings.TrimPrefix(i.RuntimeRef, "runtime/")
	group, name := "Application", i.AppID
	if i.AppID == "" {
		group, name = "Runtime", runtimeRef
	}
	fmt.Fprintf(&b, "[%s]\n", group)
	fmt.Fprintf(&b, "name=%s\n", name)
	fmt.Fprintf(&b, "runtime=%s\n", runtimeRef)

	b.WriteString("\n[Instance]\n")
	if i.AppPath != "" {
		fmt.Fprintf(&b, "app-path=%s\n", i.AppPath)
	}
	if i.AppCommit != "" {
		fmt.Fprintf(&b, "app-commit=%s\n", i.AppCommit)
	}
	if i.Branch != "" {
		fmt.Fprintf(&b, "branch=%s\n", i.Branch)
	}
	fmt.Fprintf(&b, "runtime-path=%s\n", i.RuntimePath)
	fmt.Fprintf(&b, "runtime-commit=%s\n", i.RuntimeCommit)
	if i.Extensions != "" {
		fmt.Fprintf(&b, "extensions=%s\n", i.Extensions)
	}
	fmt.Fprintf(&b, "session-bus-proxy=%t\n", i.SessionBusProxy)
	fmt.Fprintf(&b, "system-bus-proxy=%t\n", i.SystemBusProxy)
	if i.LauncherVersion != "" {
		fmt.Fprintf(&b, "launcher=%s\n", i.LauncherVersion)
	}

	if i.FlattenedContext != "" {
		b.WriteString("\n")
		b.WriteString(i.FlattenedContext)
		if !strings.HasSuffix(i.FlattenedContext, "\n") {
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}

// Mount writes the rendered info to an unlinked temp file, opens two
// independent read-only descriptors to it, and appends the
// "--file"/"--ro-bind-data" double-mount plus the
// /run/user/<uid>/flatpak-info compatibility symlink to stream. The
// doubled write+bind pattern keeps
// openat(/proc/<pid>/root, ".flatpak-info") working even after
// namespace teardown.
func (i Info) Mount(stream *argstream.ArgStream, uid int) error {
	content := i.Render()

	f, err := os.CreateTemp("", "flatpak-info-")
	if err != nil {
		return &launcherrors.IoError{Op: "create-temp", Path: "/.flatpak-info", Err: err}
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(content); err != nil {
		f.Close()
		return &launcherrors.IoError{Op: "write", Path: path, Err: err}
	}
	f.Close()

	fd1, err := openReadOnly(path)
	if err != nil {
		return &launcherrors.IoError{Op: "open", Path: path, Err: err}
	}
	fd2, err := openReadOnly(path)
	if err != nil {
		return &launcherrors.IoError{Op: "open", Path: path, Err: err}
	}

	stream.AddFD("--file", fd1, "/.flatpak-info")
	stream.AddFD("--ro-bind-data", fd2, "/.flatpak-info")
	stream.Add("--symlink", "../../../.flatpak-info", "/run/user/"+strconv.Itoa(uid)+"/flatpak-info")
	return nil
}

// OpenFD renders the info and returns one more independent read-only
// descriptor to an unlinked copy of it, for callers that need to hand
// the same app identity to a second sandbox (the bus proxy's own
// wrapper sandbox) without reopening the
// already-mounted instance.
func (i Info) OpenFD() (int, error) {
	content := i.Render()

	f, err := os.CreateTemp("", "flatpak-info-")
	if err != nil {
		return -1, &launcherrors.IoError{Op: "create-temp", Path: "/.flatpak-info", Err: err}
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(content); err != nil {
		f.Close()
		return -1, &launcherrors.IoError{Op: "write", Path: path, Err: err}
	}
	f.Close()

	fd, err := openReadOnly(path)
	if err != nil {
		return -1, &launcherrors.IoError{Op: "open", Path: path, Err: err}
	}
	return fd, nil
}

func openReadOnly(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return -1, err
	}
	defer f.Close()
	return dupFd(f)
}
