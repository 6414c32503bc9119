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

package launcher

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/containerd/log"

	"github.com/basuotian/sandboxrun/argstream"
)

// usrLinkNames are the top-level directories aliased into /usr by the
// merged-usr convention; each that the runtime actually ships becomes a
// "--symlink usr/<name> /<name>".
var usrLinkNames = []string{"lib", "lib32", "lib64", "bin", "sbin"}

func applyUsrLinks(stream *argstream.ArgStream, runtimeFilesPath string) {
	for _, name := range usrLinkNames {
		if _, err := os.Stat(filepath.Join(runtimeFilesPath, name)); err != nil {
			continue
		}
		stream.Add("--symlink", "usr/"+name, "/"+name)
	}
}

// etcSkipList names the /etc entries generated or bound elsewhere in
// the composition, which the runtime copy-through must not shadow.
var etcSkipList = map[string]bool{
	"passwd": true, "group": true, "shadow": true, "gshadow": true,
	"machine-id": true, "localtime": true, "resolv.conf": true, "hosts": true,
	"ld.so.conf": true, "ld.so.cache": true,
}

// applyEtcPassthrough symlinks each entry of the runtime's etc
// directory into the sandbox's /etc, except the entries this launcher
// generates or monitors itself. The runtime's
// files root is bound at /usr, so its etc directory is visible
// in-sandbox at /usr/etc and each symlink resolves there.
func applyEtcPassthrough(stream *argstream.ArgStream, runtimeFilesPath string) {
	entries, err := os.ReadDir(filepath.Join(runtimeFilesPath, "etc"))
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if etcSkipList[name] {
			continue
		}
		stream.Add("--symlink", "/usr/etc/"+name, "/etc/"+name)
	}
}

// monitorEtcFiles are host files whose live content the sandbox must
// track. The host
// session helper that would proxy them is an external collaborator;
// without it they are bound directly.
var monitorEtcFiles = []string{"localtime", "resolv.conf", "hosts"}

func applyMonitorPaths(stream *argstream.ArgStream) {
	if _, err := os.Stat("/etc/machine-id"); err == nil {
		stream.Add("--ro-bind", "/etc/machine-id", "/etc/machine-id")
	} else if _, err := os.Stat("/var/lib/dbus/machine-id"); err == nil {
		stream.Add("--ro-bind", "/var/lib/dbus/machine-id", "/etc/machine-id")
	}
	for _, name := range monitorEtcFiles {
		host := "/etc/" + name
		if _, err := os.Lstat(host); err != nil {
			continue
		}
		stream.Add("--ro-bind", host, host)
	}
}

// applyAppVarBinds maps the per-app data tree created at step 3 onto
// the fixed /var locations the runtime expects.
func applyAppVarBinds(stream *argstream.ArgStream, dataDir string) {
	if dataDir == "" {
		return
	}
	stream.Add("--bind", filepath.Join(dataDir, "data"), "/var/data")
	stream.Add("--bind", filepath.Join(dataDir, "config"), "/var/config")
	stream.Add("--bind", filepath.Join(dataDir, "cache"), "/var/cache")
	stream.Add("--bind", filepath.Join(dataDir, "cache", "tmp"), "/var/tmp")
}

// journalSockets are bound through when the host runs systemd-journald
// so sandboxed stdout/stderr and native journal clients keep working.
var journalSockets = []string{
	"/run/systemd/journal/socket",
	"/run/systemd/journal/stdout",
}

func applyJournalSockets(stream *argstream.ArgStream) {
	for _, sock := range journalSockets {
		if _, err := os.Stat(sock); err != nil {
			continue
		}
		stream.Add("--ro-bind", sock, sock)
	}
}

// applyFontDirs exposes the host's font and icon trees under /run/host
// where fontconfig inside the runtime looks for them.
func applyFontDirs(stream *argstream.ArgStream, home string) {
	pairs := [][2]string{
		{"/usr/share/fonts", "/run/host/fonts"},
		{"/usr/local/share/fonts", "/run/host/local-fonts"},
		{"/usr/share/icons", "/run/host/icons"},
	}
	if home != "" {
		pairs = append(pairs,
			[2]string{filepath.Join(home, ".local", "share", "fonts"), "/run/host/user-fonts"},
			[2]string{filepath.Join(home, ".icons"), "/run/host/user-icons"},
		)
	}
	for _, p := range pairs {
		if _, err := os.Stat(p[0]); err != nil {
			continue
		}
		stream.Add("--ro-bind", p[0], p[1])
	}
}

// applyDocumentPortalMount binds the document portal's per-app fuse
// subtree at the fixed in-sandbox mount point. Portal
// discovery failure is the non-fatal local-recovery case from section
// 7: the launch proceeds without a doc mount.
func (l *Launcher) applyDocumentPortalMount(ctx context.Context, stream *argstream.ArgStream, appID string) {
	portal, err := NewSessionDocumentPortal(appID)
	if err != nil {
		log.G(ctx).WithError(err).Debug("document portal unreachable, skipping doc mount")
		return
	}
	defer portal.Close()

	mount, err := portal.MountPoint()
	if err != nil || mount == "" {
		log.G(ctx).WithError(err).Debug("document portal mount point unavailable, skipping doc mount")
		return
	}
	stream.Add("--bind",
		filepath.Join(mount, "by-app", appID),
		"/run/user/"+strconv.Itoa(l.identity.Uid)+"/doc")
}
