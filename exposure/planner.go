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

package exposure

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mobysymlink "github.com/moby/sys/symlink"

	"github.com/basuotian/sandboxrun/permctx"
)

// maxSymlinkDepth caps symlink-crossing recursion to match the kernel's
// ELOOP behavior.
const maxSymlinkDepth = 40

// hostRootBlacklist lists the top-level "/" entries never exposed by a
// bare "host" filesystem request: they are either provided by the
// runtime/app mounts already, or are namespace-local and meaningless to
// bind from the host.
var hostRootBlacklist = map[string]bool{
	".": true, "..": true,
	"lib": true, "lib32": true, "lib64": true,
	"bin": true, "sbin": true, "usr": true,
	"boot": true, "root": true, "tmp": true,
	"etc": true, "app": true, "run": true,
	"proc": true, "sys": true, "dev": true, "var": true,
}

// exposeRejectPrefixes are paths expose() refuses to touch regardless
// of what requested it: they belong to the runtime/app or kernel
// namespaces, never the host.
var exposeRejectPrefixes = []string{
	"/lib", "/lib32", "/lib64", "/bin", "/sbin", "/usr", "/etc", "/app", "/dev",
}

// ErrSymlinkLoop is returned when expose() recursion exceeds
// maxSymlinkDepth, matching the kernel's ELOOP.
var ErrSymlinkLoop = fmt.Errorf("exposure: symlink recursion exceeded depth %d", maxSymlinkDepth)

// Planner derives an ExposurePlan from a permission Context.
type Planner struct {
	FS   HostFS
	Home string

	// AppDataDir is the per-app data directory (e.g.
	// ~/.var/app/<id>) that is always hidden-then-re-exposed
	// read-write. May be empty.
	AppDataDir string

	// UserInstallRoot is an install-root directory hidden with a tmpfs
	// regardless of other requests. May be
	// empty.
	UserInstallRoot string

	// Mounts supplies the kernel mount table so a "host" exposure also
	// reaches filesystems mounted inside the host tree (extra drives
	// under /run/media, bind-mounted network shares). Nil disables this
	// step, which test Planners rely on to stay filesystem-table free.
	Mounts MountPoints
}

// NewPlanner returns a Planner rooted at home, using the real
// operating system filesystem and mount table.
func NewPlanner(home string) *Planner {
	return &Planner{FS: OSFS{}, Home: home, Mounts: ProcMountPoints{}}
}

// Build derives the ExposurePlan for ctx.
func (pl *Planner) Build(ctx *permctx.Context) (*Plan, error) {
	plan := NewPlan()

	hostMode, hostRequested := pl.hostMode(ctx)
	if hostRequested {
		if err := pl.exposeHost(plan, hostMode); err != nil {
			return nil, err
		}
	}

	if homeMode, ok := pl.homeMode(ctx); ok {
		mode := homeMode
		if hostRequested && hostMode.Stronger(mode) {
			mode = hostMode
		}
		if err := pl.expose(plan, mode, pl.Home, 0); err != nil {
			return nil, err
		}
	}

	specs := make([]string, 0, len(ctx.Filesystems))
	for spec := range ctx.Filesystems {
		if spec == "host" || spec == "home" {
			continue
		}
		specs = append(specs, spec)
	}
	sort.Strings(specs)
	for _, spec := range specs {
		mode := ctx.Filesystems[spec]
		if mode == permctx.Negated {
			continue
		}
		path, ok := pl.resolveSpec(spec)
		if !ok {
			continue
		}
		if mode == permctx.Create {
			// Resolve through any existing symlink components first, so a
			// hostile or stale link under the target can't redirect the
			// created directory outside the intended host location.
			if _, ok := pl.FS.(OSFS); ok {
				if safe, err := mobysymlink.FollowSymlinkInScope(path, "/"); err == nil {
					path = safe
				}
			}
			if err := pl.FS.MkdirAll(path, 0o755); err != nil {
				return nil, err
			}
		}
		if _, err := pl.FS.Lstat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if err := pl.expose(plan, mode, path, 0); err != nil {
			return nil, err
		}
		if name, sub := splitXdgSpec(spec); strings.HasPrefix(spec, "xdg-") && sub == "" {
			plan.xdgDirs[name] = path
		}
	}

	if pl.AppDataDir != "" {
		plan.set(filepath.Dir(pl.AppDataDir), Exposure{Kind: KindTmpfs})
		if err := pl.expose(plan, permctx.ReadWrite, pl.AppDataDir, 0); err != nil {
			return nil, err
		}
	}
	if pl.UserInstallRoot != "" {
		plan.set(pl.UserInstallRoot, Exposure{Kind: KindTmpfs})
	}

	// Ensure a concrete Dir exists at $HOME regardless of what is
	// exposed under it.
	if pl.Home != "" {
		if _, ok := plan.Get(pl.Home); !ok {
			plan.set(pl.Home, Exposure{Kind: KindDir})
		}
	}

	return plan, nil
}

func (pl *Planner) hostMode(ctx *permctx.Context) (permctx.FsMode, bool) {
	mode, ok := ctx.Filesystems["host"]
	if !ok || mode == permctx.Negated {
		return permctx.ReadOnly, false
	}
	return mode, true
}

func (pl *Planner) homeMode(ctx *permctx.Context) (permctx.FsMode, bool) {
	mode, ok := ctx.Filesystems["home"]
	if !ok || mode == permctx.Negated {
		return permctx.ReadOnly, false
	}
	return mode, true
}

// exposeHost enumerates the host root and binds each top-level entry
// except the blacklist, plus /run/media, at mode.
func (pl *Planner) exposeHost(plan *Plan, mode permctx.FsMode) error {
	entries, err := pl.FS.ReadDir("/")
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if hostRootBlacklist[name] {
			continue
		}
		if err := pl.expose(plan, mode, "/"+name, 0); err != nil {
			return err
		}
	}
	if _, err := pl.FS.Lstat("/run/media"); err == nil {
		if err := pl.expose(plan, mode, "/run/media", 0); err != nil {
			return err
		}
	}
	return pl.exposeNestedMounts(plan, mode)
}

// exposeNestedMounts binds filesystems mounted inside "/" that a plain
// top-level ReadDir would already have caught as a directory entry but
// whose contents belong to a different filesystem than their parent
// (e.g. a second drive mounted under /media/<label>). Mounts below a
// blacklisted top-level directory, /run included, are skipped. Skipped
// entirely when the Planner has no MountPoints source.
func (pl *Planner) exposeNestedMounts(plan *Plan, mode permctx.FsMode) error {
	if pl.Mounts == nil {
		return nil
	}
	mounts, err := pl.Mounts.Under("/")
	if err != nil {
		return err
	}
	for _, m := range mounts {
		if hostRootBlacklist[firstSegment(m)] {
			continue
		}
		if _, ok := plan.Get(m); ok {
			continue
		}
		if _, err := pl.FS.Lstat(m); err != nil {
			continue
		}
		if err := pl.expose(plan, mode, m, 0); err != nil {
			return err
		}
	}
	return nil
}

// resolveSpec resolves a non-host/home path-spec to an absolute host
// path: via xdg-user-dir, via "~/" expansion, or verbatim if absolute.
func (pl *Planner) resolveSpec(spec string) (string, bool) {
	switch {
	case strings.HasPrefix(spec, "xdg-"):
		name, sub := splitXdgSpec(spec)
		base, ok := ResolveXdgUserDir(name, pl.Home)
		if !ok {
			return "", false
		}
		if sub != "" {
			return filepath.Join(base, sub), true
		}
		return base, true
	case strings.HasPrefix(spec, "~/"):
		return filepath.Join(pl.Home, strings.TrimPrefix(spec, "~/")), true
	case spec == "~":
		return pl.Home, true
	case strings.HasPrefix(spec, "/"):
		return spec, true
	default:
		return "", false
	}
}

// expose canonicalizes path, rejects disallowed locations/types,
// walks its prefixes for symlinks (recursing through them), and
// otherwise records a Bind.
func (pl *Planner) expose(plan *Plan, mode permctx.FsMode, path string, depth int) error {
	if depth > maxSymlinkDepth {
		return ErrSymlinkLoop
	}
	canon := filepath.Clean(path)
	if !filepath.IsAbs(canon) {
		return fmt.Errorf("exposure: path %q is not absolute", path)
	}
	for _, bad := range exposeRejectPrefixes {
		if canon == bad || strings.HasPrefix(canon, bad+"/") {
			return fmt.Errorf("exposure: refusing to expose %q (under %q)", canon, bad)
		}
	}
	fi, err := pl.FS.Lstat(canon)
	if err != nil {
		return err
	}
	if !isAllowedType(fi) {
		return fmt.Errorf("exposure: %q is not a regular file, directory, symlink, or socket", canon)
	}

	for _, prefix := range prefixSequence(canon) {
		if prefix == "/tmp" {
			// /tmp must always be a concrete directory in the sandbox.
			continue
		}
		pfi, err := pl.FS.Lstat(prefix)
		if err != nil {
			continue
		}
		if pfi.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := pl.FS.Readlink(prefix)
		if err != nil {
			return err
		}
		resolved := target
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Clean(filepath.Join(filepath.Dir(prefix), target))
		}
		suffix := strings.TrimPrefix(canon, prefix)
		recursePath := filepath.Clean(filepath.Join(resolved, suffix))
		if err := pl.expose(plan, mode, recursePath, depth+1); err != nil {
			return err
		}
		rel, err := filepath.Rel(filepath.Dir(prefix), resolved)
		if err != nil {
			rel = resolved
		}
		plan.set(prefix, Exposure{Kind: KindSymlink, Target: rel})
		return nil
	}

	plan.set(canon, Exposure{Kind: KindBind, Mode: mode})
	return nil
}

func isAllowedType(fi os.FileInfo) bool {
	m := fi.Mode()
	switch {
	case m.IsRegular(), m.IsDir():
		return true
	case m&os.ModeSymlink != 0, m&os.ModeSocket != 0:
		return true
	default:
		return false
	}
}

func prefixSequence(path string) []string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, "/")
	out := make([]string, 0, len(parts))
	cur := ""
	for _, part := range parts {
		cur += "/" + part
		out = append(out, cur)
	}
	return out
}
