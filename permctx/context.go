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

// Package permctx implements the sandbox launcher's permission context:
// an additive/subtractive three-valued capability set with merge
// semantics, built up from default permissions, runtime/app metadata,
// stored per-app overrides, and extra CLI-supplied context before being
// consumed exactly once by the launcher.
package permctx

import (
	"fmt"
	"sort"
	"strings"
)

// Mask is a three-valued bitmask pair: a bit is granted iff set in both
// Enabled and Valid, denied iff set in Valid but clear in Enabled, and
// unspecified iff clear in Valid. This is required so a later merge can
// override either direction independently.
type Mask struct {
	Enabled uint32
	Valid   uint32
}

// Grant marks bit as granted.
func (m *Mask) Grant(bit uint32) { m.Enabled |= bit; m.Valid |= bit }

// Deny marks bit as explicitly denied.
func (m *Mask) Deny(bit uint32) { m.Enabled &^= bit; m.Valid |= bit }

// IsGranted reports whether bit is granted.
func (m Mask) IsGranted(bit uint32) bool { return m.Enabled&bit != 0 && m.Valid&bit != 0 }

// IsDenied reports whether bit is explicitly denied.
func (m Mask) IsDenied(bit uint32) bool { return m.Valid&bit != 0 && m.Enabled&bit == 0 }

// IsUnspecified reports whether bit was never set by any layer.
func (m Mask) IsUnspecified(bit uint32) bool { return m.Valid&bit == 0 }

// normalize clears stray Enabled bits not present in Valid, the
// invariant required before serialization.
func (m Mask) normalize() Mask {
	return Mask{Enabled: m.Enabled & m.Valid, Valid: m.Valid}
}

// merge combines two three-valued masks for a single capability
// group: a.enabled = (a.enabled & ~b.valid) | b.enabled; a.valid |= b.valid.
func (m Mask) merge(other Mask) Mask {
	return Mask{
		Enabled: (m.Enabled &^ other.Valid) | other.Enabled,
		Valid:   m.Valid | other.Valid,
	}
}

// Capability bits, grouped by mask.
const (
	ShareNetwork uint32 = 1 << iota
	ShareIPC
)

const (
	SocketX11 uint32 = 1 << iota
	SocketWayland
	SocketPulseaudio
	SocketSessionBus
	SocketSystemBus
)

const (
	DeviceDRI uint32 = 1 << iota
	DeviceAll
	DeviceKVM
)

const (
	FeatureDevel uint32 = 1 << iota
	FeatureMultiarch
)

var sharesNames = map[string]uint32{"network": ShareNetwork, "ipc": ShareIPC}
var socketsNames = map[string]uint32{
	"x11": SocketX11, "wayland": SocketWayland, "pulseaudio": SocketPulseaudio,
	"session-bus": SocketSessionBus, "system-bus": SocketSystemBus,
}
var devicesNames = map[string]uint32{"dri": DeviceDRI, "all": DeviceAll, "kvm": DeviceKVM}
var featuresNames = map[string]uint32{"devel": FeatureDevel, "multiarch": FeatureMultiarch}

func namesOf(m map[string]uint32) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FsMode is the exposure mode requested for a filesystem path-spec.
type FsMode int

const (
	// ReadOnly exposes the path read-only.
	ReadOnly FsMode = iota
	// ReadWrite exposes the path read-write.
	ReadWrite
	// Create creates the path (0755) before exposing it read-write.
	Create
	// Negated explicitly denies the path even if a broader rule granted it.
	Negated
)

func (m FsMode) String() string {
	switch m {
	case ReadOnly:
		return "ro"
	case ReadWrite:
		return "rw"
	case Create:
		return "create"
	case Negated:
		return "negated"
	default:
		return fmt.Sprintf("FsMode(%d)", int(m))
	}
}

// Stronger reports whether m grants more access than other: ReadWrite >
// ReadOnly; Create upgrades allocation but not access, so it ranks
// alongside ReadWrite when the stronger of two overlapping exposure
// rules wins.
func (m FsMode) Stronger(other FsMode) bool {
	return fsRank(m) > fsRank(other)
}

func fsRank(m FsMode) int {
	switch m {
	case Negated:
		return -1
	case ReadOnly:
		return 0
	case Create, ReadWrite:
		return 1
	default:
		return 0
	}
}

// Policy is a D-Bus name policy, ordinal so that higher values are more
// privileged and merges can take the max when needed.
type Policy int

const (
	PolicyNone Policy = iota
	PolicySee
	PolicyFiltered
	PolicyTalk
	PolicyOwn
)

func (p Policy) String() string {
	switch p {
	case PolicyNone:
		return "none"
	case PolicySee:
		return "see"
	case PolicyFiltered:
		return "filtered"
	case PolicyTalk:
		return "talk"
	case PolicyOwn:
		return "own"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

func parsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(s) {
	case "none":
		return PolicyNone, true
	case "see":
		return PolicySee, true
	case "filtered":
		return PolicyFiltered, true
	case "talk":
		return PolicyTalk, true
	case "own":
		return PolicyOwn, true
	default:
		return PolicyNone, false
	}
}

// Context is the additive/subtractive permission set threaded through
// parse/merge/serialize. It is grown by one or more load/merge
// operations and then consumed exactly once by the launcher; nothing
// mutates it afterward.
type Context struct {
	Shares   Mask
	Sockets  Mask
	Devices  Mask
	Features Mask

	EnvVars    map[string]string
	Persistent map[string]bool
	// Filesystems maps a path-spec (see section 3 Invariants) to its mode.
	Filesystems map[string]FsMode

	SessionBusPolicy map[string]Policy
	SystemBusPolicy  map[string]Policy

	// GenericPolicy maps "subsystem.key" to an ordered list of raw
	// values, where a value prefixed with "!" denotes a removal that
	// survives subsequent merges.
	GenericPolicy map[string][]string
}

// New returns an empty Context with all maps initialized.
func New() *Context {
	return &Context{
		EnvVars:          map[string]string{},
		Persistent:       map[string]bool{},
		Filesystems:      map[string]FsMode{},
		SessionBusPolicy: map[string]Policy{},
		SystemBusPolicy:  map[string]Policy{},
		GenericPolicy:    map[string][]string{},
	}
}

// Default returns the context applied before any metadata is loaded:
// talk rights on the session bus to org.freedesktop.portal.* names.
func Default() *Context {
	c := New()
	c.SessionBusPolicy["org.freedesktop.portal.*"] = PolicyTalk
	return c
}

// Clone returns a deep copy of c.
func (c *Context) Clone() *Context {
	out := New()
	out.Shares, out.Sockets, out.Devices, out.Features = c.Shares, c.Sockets, c.Devices, c.Features
	for k, v := range c.EnvVars {
		out.EnvVars[k] = v
	}
	for k, v := range c.Persistent {
		out.Persistent[k] = v
	}
	for k, v := range c.Filesystems {
		out.Filesystems[k] = v
	}
	for k, v := range c.SessionBusPolicy {
		out.SessionBusPolicy[k] = v
	}
	for k, v := range c.SystemBusPolicy {
		out.SystemBusPolicy[k] = v
	}
	for k, v := range c.GenericPolicy {
		cp := make([]string, len(v))
		copy(cp, v)
		out.GenericPolicy[k] = cp
	}
	return out
}
