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
	"net/url"
	"path/filepath"
	"strings"

	"github.com/containerd/log"

	"github.com/basuotian/sandboxrun/exposure"
	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// DocumentPortal is the minimal interface the document portal
// collaborator is driven through:
// given a host path, return the document id the portal registered for
// it, mounted under docMountRoot/<id>/<basename>.
type DocumentPortal interface {
	Export(hostPath string) (docID string, err error)
	MountRoot() string
}

// ForwardArgs rewrites args per the file-forwarding convention.
// Between "@@"/"@@u" toggles, any argument that resolves to a local
// path or "file:" URI not visible in
// plan is handed to portal; "@@u" toggles rewrite the result back to a
// file: URI instead of a bare path. A repeated toggle switches
// forwarding back off, so "@@ a b @@ c" forwards a and b but passes c
// through unchanged.
func ForwardArgs(args []string, plan *exposure.Plan, portal DocumentPortal) []string {
	out := make([]string, 0, len(args))
	mode := passthrough
	for _, a := range args {
		switch a {
		case "@@":
			if mode == forwardPlain {
				mode = passthrough
			} else {
				mode = forwardPlain
			}
			continue
		case "@@u":
			if mode == forwardURI {
				mode = passthrough
			} else {
				mode = forwardURI
			}
			continue
		}
		if mode == passthrough {
			out = append(out, a)
			continue
		}
		out = append(out, forwardOne(a, mode, plan, portal))
	}
	return out
}

// hasForwardToggles reports whether args contains a file-forwarding
// toggle at all, so Run can skip dialing the portal for the common
// toggle-free launch.
func hasForwardToggles(args []string) bool {
	for _, a := range args {
		if a == "@@" || a == "@@u" {
			return true
		}
	}
	return false
}

type forwardMode int

const (
	passthrough forwardMode = iota
	forwardPlain
	forwardURI
)

func forwardOne(arg string, mode forwardMode, plan *exposure.Plan, portal DocumentPortal) string {
	path, isPath := resolveCandidatePath(arg)
	if !isPath {
		return arg
	}

	// Visibility is the only check performed here. An argument whose
	// path IS visible but reaches its target through a symlink chain
	// crossing a boundary the plan does not itself map is not
	// re-checked past this single Visible() call, even though that
	// chain could still escape the sandboxed view the plan intends.
	// Kept for compatibility with what callers have come to rely on.
	if plan.Visible(path) {
		return arg
	}

	if portal == nil {
		return arg
	}
	docID, err := portal.Export(path)
	if err != nil {
		log.L.WithError(err).WithField("path", path).Warn("document portal export failed, passing argument through")
		return arg
	}
	rewritten := filepath.Join(portal.MountRoot(), docID, filepath.Base(path))
	if mode == forwardURI {
		return "file://" + rewritten
	}
	return rewritten
}

// resolveCandidatePath extracts a local filesystem path from arg if it
// looks like an absolute path or a file: URI; otherwise reports false
// so the argument passes through untouched.
func resolveCandidatePath(arg string) (string, bool) {
	if strings.HasPrefix(arg, "file://") {
		u, err := url.Parse(arg)
		if err != nil {
			return "", false
		}
		return u.Path, true
	}
	if filepath.IsAbs(arg) {
		return arg, true
	}
	return "", false
}

// portalUnavailableError builds the non-fatal PortalUnavailable error
// used when the portal's GetMountPoint call itself fails: forwarding
// is disabled for the rest of the launch and the remaining arguments
// pass through.
func portalUnavailableError(err error) error {
	return &launcherrors.PortalUnavailable{Err: err}
}
