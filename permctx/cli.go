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

package permctx

import (
	"sort"
	"strings"

	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// ParseCliArgs builds a Context from the permission-related CLI
// surface (--share/--socket/--filesystem/...). Each argument is
// additive/absolute; unknown flags are ignored so that callers may run
// this over an argv that also contains unrelated flags.
func ParseCliArgs(args []string) (*Context, error) {
	c := New()
	for _, a := range args {
		if err := ApplyCliArg(c, a); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ApplyCliArg applies a single CLI flag (in "--flag=value" form) to c.
// Flags not recognized as part of the Context surface are ignored.
func ApplyCliArg(c *Context, arg string) error {
	flag, value, ok := splitFlag(arg)
	if !ok {
		return nil
	}
	switch flag {
	case "--share":
		return applyEnumFlag(&c.Shares, sharesNames, "shared", value, true)
	case "--unshare":
		return applyEnumFlag(&c.Shares, sharesNames, "shared", value, false)
	case "--socket":
		return applyEnumFlag(&c.Sockets, socketsNames, "sockets", value, true)
	case "--nosocket":
		return applyEnumFlag(&c.Sockets, socketsNames, "sockets", value, false)
	case "--device":
		return applyEnumFlag(&c.Devices, devicesNames, "devices", value, true)
	case "--nodevice":
		return applyEnumFlag(&c.Devices, devicesNames, "devices", value, false)
	case "--allow":
		return applyEnumFlag(&c.Features, featuresNames, "features", value, true)
	case "--disallow":
		return applyEnumFlag(&c.Features, featuresNames, "features", value, false)
	case "--filesystem":
		return applyFilesystemList(c, value)
	case "--nofilesystem":
		spec := value
		if idx := strings.LastIndex(spec, ":"); idx >= 0 {
			spec = spec[:idx]
		}
		if err := ValidatePathSpec(spec); err != nil {
			return err
		}
		c.Filesystems[spec] = Negated
		return nil
	case "--env":
		name, val, ok := strings.Cut(value, "=")
		if !ok {
			return launcherrors.NewConfigError("env", value)
		}
		c.EnvVars[name] = val
		return nil
	case "--own-name":
		return setBusPolicy(c.SessionBusPolicy, value, PolicyOwn)
	case "--talk-name":
		return setBusPolicy(c.SessionBusPolicy, value, PolicyTalk)
	case "--system-own-name":
		return setBusPolicy(c.SystemBusPolicy, value, PolicyOwn)
	case "--system-talk-name":
		return setBusPolicy(c.SystemBusPolicy, value, PolicyTalk)
	case "--add-policy":
		return applyCliPolicy(c, value, false)
	case "--remove-policy":
		return applyCliPolicy(c, value, true)
	case "--persist":
		c.Persistent[value] = true
		return nil
	}
	return nil
}

func splitFlag(arg string) (flag, value string, ok bool) {
	if !strings.HasPrefix(arg, "--") {
		return "", "", false
	}
	flag, value, ok = strings.Cut(arg, "=")
	return flag, value, ok
}

func applyEnumFlag(mask *Mask, names map[string]uint32, kind, value string, grant bool) error {
	bit, ok := names[value]
	if !ok {
		return launcherrors.NewConfigError(kind, value, namesOf(names)...)
	}
	if grant {
		mask.Grant(bit)
	} else {
		mask.Deny(bit)
	}
	return nil
}

func setBusPolicy(dst map[string]Policy, name string, p Policy) error {
	if err := ValidateBusNamePattern(name); err != nil {
		return err
	}
	dst[name] = p
	return nil
}

func applyCliPolicy(c *Context, value string, remove bool) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return launcherrors.NewConfigError("policy", value)
	}
	if err := ValidateGenericPolicyKey(key); err != nil {
		return err
	}
	if strings.HasPrefix(val, "!") {
		// "policy values starting with '!' from the CLI surface are rejected"
		return launcherrors.NewConfigError("policy", val)
	}
	if remove {
		val = "!" + val
	}
	c.applyPolicyValue(key, val)
	return nil
}

// ToCliArgs emits the CLI argument list equivalent to c, so that any
// context can round-trip through the CLI surface. Capability groups
// emit their granted and denied bits; See/Filtered bus policies have
// no CLI spelling and are omitted.
func (c *Context) ToCliArgs() []string {
	var args []string

	appendEnum := func(mask Mask, names map[string]uint32, shareFlag, unshareFlag string) {
		for _, name := range namesOf(names) {
			bit := names[name]
			switch {
			case mask.IsGranted(bit):
				args = append(args, shareFlag+"="+name)
			case mask.IsDenied(bit):
				args = append(args, unshareFlag+"="+name)
			}
		}
	}
	appendEnum(c.Shares, sharesNames, "--share", "--unshare")
	appendEnum(c.Sockets, socketsNames, "--socket", "--nosocket")
	appendEnum(c.Devices, devicesNames, "--device", "--nodevice")
	appendEnum(c.Features, featuresNames, "--allow", "--disallow")

	specs := make([]string, 0, len(c.Filesystems))
	for s := range c.Filesystems {
		specs = append(specs, s)
	}
	sort.Strings(specs)
	for _, spec := range specs {
		mode := c.Filesystems[spec]
		if mode == Negated {
			args = append(args, "--nofilesystem="+spec)
			continue
		}
		suffix := ""
		switch mode {
		case ReadWrite:
			suffix = ":rw"
		case Create:
			suffix = ":create"
		}
		args = append(args, "--filesystem="+spec+suffix)
	}

	for _, name := range sortedKeys(c.EnvVars) {
		args = append(args, "--env="+name+"="+c.EnvVars[name])
	}

	appendBusPolicy := func(policies map[string]Policy, ownFlag, talkFlag string) {
		names := make([]string, 0, len(policies))
		for n := range policies {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			switch policies[n] {
			case PolicyOwn:
				args = append(args, ownFlag+"="+n)
			case PolicyTalk:
				args = append(args, talkFlag+"="+n)
			}
		}
	}
	appendBusPolicy(c.SessionBusPolicy, "--own-name", "--talk-name")
	appendBusPolicy(c.SystemBusPolicy, "--system-own-name", "--system-talk-name")

	keys := make([]string, 0, len(c.GenericPolicy))
	for k := range c.GenericPolicy {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range c.GenericPolicy[k] {
			if strings.HasPrefix(v, "!") {
				args = append(args, "--remove-policy="+k+"="+strings.TrimPrefix(v, "!"))
			} else {
				args = append(args, "--add-policy="+k+"="+v)
			}
		}
	}

	paths := make([]string, 0, len(c.Persistent))
	for p := range c.Persistent {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		args = append(args, "--persist="+p)
	}

	return args
}
