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

// Package deploystore declares the Go-facing boundary of the deploy
// store: an external system
// that yields, for a ref, the commit id, file root, and metadata for
// an already-installed app or runtime. The store itself -- repository
// management, pulling, GC -- is out of scope; only this interface is
// in scope, so the Launcher has something concrete to depend on.
package deploystore

import (
	"github.com/basuotian/sandboxrun/extensions"
)

// Ref is a fully qualified identifier {app|runtime}/<id>/<arch>/<branch>.
type Ref struct {
	Kind   string // "app" or "runtime"
	ID     string
	Arch   string
	Branch string
}

// Deploy is everything the Launcher needs about one resolved ref: its
// commit, the absolute path to its deployed file tree, its raw
// metadata file content (parsed separately via permctx.Parse), and its
// installed extensions.
type Deploy struct {
	Ref        Ref
	Commit     string
	FilesPath  string // <deploy-root>/files
	Metadata   []byte
	Extensions []extensions.Extension
}

// Store resolves refs to deploys and loads the caller-scoped override
// data layered on top of a deploy's own metadata.
type Store interface {
	// Resolve loads the Deploy for ref. A runtime ref is usually
	// derived from the app's own metadata rather than supplied by the
	// caller directly.
	Resolve(ref Ref) (*Deploy, error)

	// LoadOverrides returns the stored per-app override metadata bytes
	// for appID, or nil if none exist.
	LoadOverrides(appID string) ([]byte, error)

	// PerAppDataDir returns the per-app data directory
	// (e.g. ~/.var/app/<id>) for appID.
	PerAppDataDir(appID string) string
}
