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

// Package exposure derives a minimal, consistent set of bind/tmpfs/
// symlink operations ("the ExposurePlan") from a permission Context,
// reconciling overlapping and symlink-crossing host paths into a
// minimal, consistent mount sequence.
package exposure

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/basuotian/sandboxrun/permctx"
)

// Kind identifies the decision made for one host path: a bind (ro/rw),
// a directory placeholder, a tmpfs, or a symlink.
type Kind int

const (
	KindBind Kind = iota
	KindDir
	KindTmpfs
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindBind:
		return "bind"
	case KindDir:
		return "dir"
	case KindTmpfs:
		return "tmpfs"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Exposure is the decision recorded for one sandbox path.
type Exposure struct {
	Kind Kind
	// Mode is meaningful for KindBind only.
	Mode permctx.FsMode
	// Target is meaningful for KindSymlink only: the relative path from
	// the symlink's parent directory to its resolved target, so the
	// link resolves correctly inside the sandbox.
	Target string
}

func (e Exposure) strongerThan(other Exposure) bool {
	if e.Kind == KindBind && other.Kind == KindBind {
		return e.Mode.Stronger(other.Mode)
	}
	// A concrete decision always wins over nothing; ties keep the
	// existing entry (first-wins) unless it is a strictly weaker bind.
	return false
}

// Plan is the immutable set of decisions built once from a final
// Context. Entries are canonically keyed by absolute sandbox path.
type Plan struct {
	entries map[string]Exposure
	// xdgDirs maps each xdg-user-dir name the planner exposed to the
	// absolute directory it resolved to, feeding the generated
	// user-dirs.dirs file.
	xdgDirs map[string]string
}

// NewPlan returns an empty Plan.
func NewPlan() *Plan {
	return &Plan{entries: map[string]Exposure{}, xdgDirs: map[string]string{}}
}

// XdgUserDirs returns the xdg-user-dir exposures accumulated while
// building the plan, keyed by user-dir name.
func (p *Plan) XdgUserDirs() map[string]string {
	return p.xdgDirs
}

// Get returns the exposure recorded for path, if any.
func (p *Plan) Get(path string) (Exposure, bool) {
	e, ok := p.entries[path]
	return e, ok
}

// set records (or upgrades) the exposure for path; when two rules
// target the same path the stronger of the pair wins.
func (p *Plan) set(path string, e Exposure) {
	path = filepath.Clean(path)
	if existing, ok := p.entries[path]; ok {
		if e.strongerThan(existing) {
			p.entries[path] = e
		}
		return
	}
	p.entries[path] = e
}

// Paths returns every path mapped by the plan, sorted shortest-path-
// first so that parent mounts precede children.
func (p *Plan) Paths() []string {
	paths := make([]string, 0, len(p.entries))
	for path := range p.entries {
		paths = append(paths, path)
	}
	sortShortestFirst(paths)
	return paths
}

func sortShortestFirst(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		di := strings.Count(paths[i], "/")
		dj := strings.Count(paths[j], "/")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
}

// Render collapses Tmpfs entries that are parents of other mapped
// entries into Dir entries -- a tmpfs is implicit once a parent is
// already isolated by a more specific child mount -- and returns the
// final ordered (path, Exposure) sequence.
func (p *Plan) Render() []Entry {
	paths := p.Paths()
	out := make([]Entry, 0, len(paths))
	for _, path := range paths {
		e := p.entries[path]
		if e.Kind == KindTmpfs && hasMappedDescendant(p.entries, path) {
			e.Kind = KindDir
		}
		out = append(out, Entry{Path: path, Exposure: e})
	}
	return out
}

// Entry pairs a sandbox path with its decision, in render order.
type Entry struct {
	Path     string
	Exposure Exposure
}

func hasMappedDescendant(entries map[string]Exposure, parent string) bool {
	prefix := parent
	if prefix != "/" {
		prefix += "/"
	}
	for path := range entries {
		if path != parent && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
