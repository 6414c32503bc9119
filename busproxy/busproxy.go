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

// Package busproxy composes and launches the filtering D-Bus proxy
// that must be up and listening before the sandboxed process starts:
// session, system, and accessibility buses each
// get either a direct bind (when unrestricted) or a per-launch proxy
// socket with an assembled filter argument list.
package busproxy

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/basuotian/sandboxrun/permctx"
)

// Bus identifies which of the three filtered buses a Request concerns.
type Bus int

const (
	Session Bus = iota
	System
	A11y
)

func (b Bus) String() string {
	switch b {
	case Session:
		return "session"
	case System:
		return "system"
	case A11y:
		return "a11y"
	default:
		return "unknown"
	}
}

// Request describes one bus's exposure decision.
type Request struct {
	Bus Bus
	// Unrestricted is true when the matching socket capability is
	// granted and no policy entries narrow it: the host socket is
	// bound directly rather than proxied.
	Unrestricted bool
	// Policy is empty for A11y, which always uses its fixed filter set.
	Policy map[string]permctx.Policy
	// UpstreamAddress is the real bus address to connect the proxy to.
	UpstreamAddress string
	AppID           string
	// SyncFD is the fd number, as seen by the proxy process itself,
	// that it writes its one readiness byte to.
	SyncFD int

	socketPath string
}

// ProxySocketPath returns a unique proxy socket path under
// <userRuntimeDir>/.dbus-proxy/, named with a fresh UUID so concurrent
// launches never collide.
func ProxySocketPath(userRuntimeDir string, bus Bus) string {
	return filepath.Join(userRuntimeDir, ".dbus-proxy", fmt.Sprintf("%s-%s", bus, uuid.NewString()))
}

// ProxyArgs assembles the flatpak-dbus-proxy-style argv for req:
// upstream address, proxy socket path, "--filter", then bus-specific
// own/see/talk entries.
func ProxyArgs(req Request) []string {
	args := []string{req.UpstreamAddress, req.proxySocketArgPath(), "--filter", fmt.Sprintf("--fd=%d", req.SyncFD)}
	switch req.Bus {
	case Session:
		args = append(args, "--own="+req.AppID, "--own="+req.AppID+".*")
		args = append(args, policyArgs(req.Policy)...)
	case System:
		args = append(args, policyArgs(req.Policy)...)
	case A11y:
		args = append(args, a11yFilterArgs()...)
	}
	return args
}

// proxySocketArgPath lets tests stub Request without wiring a real
// path through ProxyArgs's caller; production callers set it via
// WithSocketPath.
func (r Request) proxySocketArgPath() string {
	return r.socketPath
}

// WithSocketPath returns a copy of r carrying the proxy socket path the
// Launcher allocated via ProxySocketPath.
func (r Request) WithSocketPath(path string) Request {
	r.socketPath = path
	return r
}

// policyArgs renders req.Policy as sorted "--see|--talk|--own=<name>"
// flags. Filtered collapses to --talk: the proxy binary's wire-level
// method filtering for "Filtered" entries is out of scope here;
// Filtered only changes what this core records, not what the spawned
// proxy process does.
func policyArgs(policy map[string]permctx.Policy) []string {
	names := make([]string, 0, len(policy))
	for n := range policy {
		names = append(names, n)
	}
	sort.Strings(names)
	var out []string
	for _, n := range names {
		switch policy[n] {
		case permctx.PolicySee:
			out = append(out, "--see="+n)
		case permctx.PolicyFiltered, permctx.PolicyTalk:
			out = append(out, "--talk="+n)
		case permctx.PolicyOwn:
			out = append(out, "--own="+n)
		}
	}
	return out
}

// a11yFilterArgs is the fixed filter set allowing only the atspi
// registration/deregistration calls.
func a11yFilterArgs() []string {
	return []string{
		"--talk=org.a11y.atspi.Registry",
		"--call=org.a11y.Bus=org.a11y.Bus.GetAddress@/org/a11y/bus",
	}
}
