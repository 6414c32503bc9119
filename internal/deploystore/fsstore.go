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

package deploystore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/basuotian/sandboxrun/extensions"
)

// FsStore is a minimal, directory-layout-only Store: every ref lives
// at <baseDir>/<kind>/<id>/<arch>/<branch>, with an "active" symlink
// pointing at the currently deployed commit directory, mirroring the
// atomic active-symlink switch ldcache.Regenerate already uses for its
// own cache generations. It exists so cmd/sandboxrun has something
// concrete to run against; the real deploy store (repository
// management, pulls, GC) is out of scope, so this
// does no more than the Store interface itself asks for.
type FsStore struct {
	BaseDir string
	DataDir string
}

// commitDeploy is the on-disk shape of <commit>/deploy.json, listing
// the extensions installed alongside this commit. No pack dependency
// models this flatpak-specific on-disk record, so it is read with
// encoding/json rather than a third-party library.
type commitDeploy struct {
	Extensions []extensionRecord `json:"extensions,omitempty"`
}

type extensionRecord struct {
	InstalledID  string   `json:"installed_id"`
	Directory    string   `json:"directory"`
	SubdirSuffix string   `json:"subdir_suffix,omitempty"`
	AddLdPath    string   `json:"add_ld_path,omitempty"`
	MergeDirs    []string `json:"merge_dirs,omitempty"`
	NeedsTmpfs   bool     `json:"needs_tmpfs,omitempty"`
	Commit       string   `json:"commit"`
	FilesPath    string   `json:"files_path"`
	IsApp        bool     `json:"is_app,omitempty"`
}

// Resolve implements Store.
func (s *FsStore) Resolve(ref Ref) (*Deploy, error) {
	refDir := filepath.Join(s.BaseDir, ref.Kind, ref.ID, ref.Arch, ref.Branch)
	commit, err := os.Readlink(filepath.Join(refDir, "active"))
	if err != nil {
		return nil, err
	}

	commitDir := filepath.Join(refDir, commit)
	metadata, err := os.ReadFile(filepath.Join(commitDir, "metadata"))
	if err != nil {
		return nil, err
	}

	exts, err := readExtensions(commitDir)
	if err != nil {
		return nil, err
	}

	return &Deploy{
		Ref:        ref,
		Commit:     commit,
		FilesPath:  filepath.Join(commitDir, "files"),
		Metadata:   metadata,
		Extensions: exts,
	}, nil
}

// readExtensions loads <commitDir>/deploy.json when present; a deploy
// with no extensions simply has no such file.
func readExtensions(commitDir string) ([]extensions.Extension, error) {
	raw, err := os.ReadFile(filepath.Join(commitDir, "deploy.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec commitDeploy
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}

	out := make([]extensions.Extension, 0, len(rec.Extensions))
	for _, e := range rec.Extensions {
		out = append(out, extensions.Extension{
			InstalledID:  e.InstalledID,
			FilesPath:    e.FilesPath,
			Directory:    e.Directory,
			SubdirSuffix: e.SubdirSuffix,
			AddLdPath:    e.AddLdPath,
			MergeDirs:    e.MergeDirs,
			NeedsTmpfs:   e.NeedsTmpfs,
			Commit:       e.Commit,
			IsApp:        e.IsApp,
		})
	}
	return out, nil
}

// LoadOverrides implements Store: <baseDir>/overrides/<appID>, absent
// when the app has never had an override saved.
func (s *FsStore) LoadOverrides(appID string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(s.BaseDir, "overrides", appID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return raw, err
}

// PerAppDataDir implements Store: <dataDir>/<appID>, the flatpak
// "~/.var/app/<id>" convention.
func (s *FsStore) PerAppDataDir(appID string) string {
	return filepath.Join(s.DataDir, appID)
}
