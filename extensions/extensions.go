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

// Package extensions locates and binds add-on runtime extensions in
// priority order: a sorted bind pass followed by a priority-ordered
// ld-path/merge-dir pass.
package extensions

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/basuotian/sandboxrun/argstream"
)

// Extension describes one installed runtime or application extension,
// as reported by deploy store metadata.
type Extension struct {
	InstalledID  string
	FilesPath    string
	Directory    string
	SubdirSuffix string
	AddLdPath    string
	MergeDirs    []string
	NeedsTmpfs   bool
	Commit       string
	// IsApp is true for an application extension (mounted under /app)
	// and false for a runtime extension (mounted under /usr).
	IsApp bool
}

func (e Extension) prefix() string {
	if e.IsApp {
		return "/app"
	}
	return "/usr"
}

func (e Extension) sandboxPath() string {
	p := filepath.Join(e.prefix(), e.Directory)
	if e.SubdirSuffix != "" {
		p = filepath.Join(p, e.SubdirSuffix)
	}
	return p
}

// FS abstracts the host filesystem reads the Mounter needs, mirroring
// exposure.HostFS's test-seam shape.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.DirEntry, error)
}

// OSFS implements FS against the real operating system.
type OSFS struct{}

func (OSFS) Stat(path string) (os.FileInfo, error)      { return os.Stat(path) }
func (OSFS) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }

// Mounter binds a set of extensions into an ArgStream.
type Mounter struct {
	FS FS
	// UseLdSoConf selects, for every extension's AddLdPath, whether to
	// emit a numbered ld.so.conf.d fragment instead of mutating
	// LD_LIBRARY_PATH directly. The Launcher decides this once per
	// launch and it applies uniformly.
	UseLdSoConf bool
}

// NewMounter returns a Mounter backed by the real filesystem.
func NewMounter(useLdSoConf bool) *Mounter {
	return &Mounter{FS: OSFS{}, UseLdSoConf: useLdSoConf}
}

// ldPathEdit is one accumulated LD_LIBRARY_PATH mutation, applied in
// priority order once every extension has been considered.
type ldPathEdit struct {
	path    string
	prepend bool
}

// Apply binds exts (runtime or application extensions, not mixed) into
// stream and returns the updated LD_LIBRARY_PATH value (seeded from
// ldLibraryPath) plus the priority-ordered "id=commit[;id=commit...]"
// summary.
func (m *Mounter) Apply(stream *argstream.ArgStream, exts []Extension, ldLibraryPath string, ldConfCounter *int) (string, string, error) {
	sorted := append([]Extension{}, exts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Directory < sorted[j].Directory })

	seenTmpfs := map[string]bool{}
	for _, e := range sorted {
		if e.NeedsTmpfs {
			parent := filepath.Dir(filepath.Join(e.prefix(), e.Directory))
			if !seenTmpfs[parent] {
				stream.Add("--tmpfs", parent)
				seenTmpfs[parent] = true
			}
		}
		target := e.sandboxPath()
		stream.Add("--ro-bind", e.FilesPath, target)
		if hasRefMarker(m.FS, e.FilesPath) {
			stream.Add("--lock-file", filepath.Join(target, ".ref"))
		}
	}

	var edits []ldPathEdit
	mergeSeen := map[string]map[string]bool{} // merge dir -> basenames already symlinked
	for _, e := range exts {
		if e.AddLdPath != "" {
			ldDir := filepath.Join(e.sandboxPath(), e.AddLdPath)
			if m.UseLdSoConf {
				prefixLabel := "runtime"
				if e.IsApp {
					prefixLabel = "app"
				}
				*ldConfCounter++
				name := fmt.Sprintf("/run/flatpak/ld.so.conf.d/%s-%03d-%s.conf", prefixLabel, *ldConfCounter, e.InstalledID)
				if err := stream.AddData("ld-conf-"+e.InstalledID, []byte(ldDir+"\n"), name); err != nil {
					return "", "", err
				}
			} else {
				edits = append(edits, ldPathEdit{path: ldDir, prepend: !e.IsApp})
			}
		}
		for _, mergeDir := range e.MergeDirs {
			if err := m.mergeDir(stream, e, mergeDir, mergeSeen); err != nil {
				return "", "", err
			}
		}
	}

	ldLibraryPath = applyLdPathEdits(ldLibraryPath, edits)
	return ldLibraryPath, summary(exts), nil
}

// applyLdPathEdits folds accumulated edits onto base in priority
// order: runtime extensions prepend (searched first within the
// runtime), app extensions append (so app extensions still lose to an
// app's own /app/lib, but win over the runtime's own paths).
func applyLdPathEdits(base string, edits []ldPathEdit) string {
	for _, e := range edits {
		if base == "" {
			base = e.path
			continue
		}
		if e.prepend {
			base = e.path + ":" + base
		} else {
			base = base + ":" + e.path
		}
	}
	return base
}

// mergeDir symlinks every file in the extension's mergeDir subdirectory
// into the shared parent merge directory that has not already been
// claimed by a higher-priority extension.
func (m *Mounter) mergeDir(stream *argstream.ArgStream, e Extension, mergeDir string, seen map[string]map[string]bool) error {
	srcDir := filepath.Join(e.FilesPath, mergeDir)
	entries, err := m.FS.ReadDir(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	dstDir := filepath.Join(e.prefix(), mergeDir)
	if seen[dstDir] == nil {
		seen[dstDir] = map[string]bool{}
	}
	for _, entry := range entries {
		name := entry.Name()
		if seen[dstDir][name] {
			continue
		}
		seen[dstDir][name] = true
		stream.Add("--symlink", filepath.Join(e.sandboxPath(), mergeDir, name), filepath.Join(dstDir, name))
	}
	return nil
}

func hasRefMarker(fs FS, filesPath string) bool {
	_, err := fs.Stat(filepath.Join(filesPath, ".ref"))
	return err == nil
}

// summary renders the ";"-joined "id=commit[;id=commit...]" string in
// priority order, substituting "local" for an absent commit.
func summary(exts []Extension) string {
	parts := make([]string, 0, len(exts))
	for _, e := range exts {
		commit := e.Commit
		if commit == "" {
			commit = "local"
		}
		parts = append(parts, e.InstalledID+"="+commit)
	}
	return strings.Join(parts, ";")
}
