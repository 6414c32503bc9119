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
	"strings"

	"github.com/mvo5/goconfigparser"

	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// newParser wraps goconfigparser so the rest of the package only deals
// with []byte/string, matching how snapd feeds metadata snippets to it.
func newParser(data []byte) (*goconfigparser.ConfigParser, error) {
	cfg := goconfigparser.New()
	if err := cfg.Read(strings.NewReader(string(data))); err != nil {
		return nil, err
	}
	return cfg, nil
}

// listSeparator matches the GLib key-file convention flatpak-style
// metadata is written in: list values are ";"-separated.
const listSeparator = ";"

// Parse reads a Context out of INI-style metadata. It understands the
// groups *Context*, *Session Bus Policy*, *System Bus Policy*,
// *Environment*, and any group whose name begins with the prefix
// "Policy".
func Parse(data []byte) (*Context, error) {
	cfg, err := newParser(data)
	if err != nil {
		return nil, &launcherrors.ConfigError{Kind: "metadata", Value: err.Error()}
	}
	return parseConfig(cfg)
}

func parseConfig(cfg *goconfigparser.ConfigParser) (*Context, error) {
	c := New()
	for _, section := range cfg.Sections() {
		switch {
		case section == "Context":
			if err := parseContextGroup(cfg, section, c); err != nil {
				return nil, err
			}
		case section == "Session Bus Policy":
			if err := parseBusPolicyGroup(cfg, section, c.SessionBusPolicy); err != nil {
				return nil, err
			}
		case section == "System Bus Policy":
			if err := parseBusPolicyGroup(cfg, section, c.SystemBusPolicy); err != nil {
				return nil, err
			}
		case section == "Environment":
			if err := parseEnvironmentGroup(cfg, section, c); err != nil {
				return nil, err
			}
		case strings.HasPrefix(section, "Policy"):
			subsystem := strings.TrimSpace(strings.TrimPrefix(section, "Policy"))
			if err := parsePolicyGroup(cfg, section, subsystem, c); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, listSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseContextGroup(cfg *goconfigparser.ConfigParser, section string, c *Context) error {
	options, _ := cfg.Options(section)
	for _, opt := range options {
		value, err := cfg.Get(section, opt)
		if err != nil {
			continue
		}
		switch opt {
		case "shared":
			if err := applyEnumList(&c.Shares, sharesNames, "shared", value); err != nil {
				return err
			}
		case "sockets":
			if err := applyEnumList(&c.Sockets, socketsNames, "sockets", value); err != nil {
				return err
			}
		case "devices":
			if err := applyEnumList(&c.Devices, devicesNames, "devices", value); err != nil {
				return err
			}
		case "features":
			if err := applyEnumList(&c.Features, featuresNames, "features", value); err != nil {
				return err
			}
		case "filesystems":
			if err := applyFilesystemList(c, value); err != nil {
				return err
			}
		case "persistent":
			// persistent is additive only: no "!" negation admitted.
			for _, p := range splitList(value) {
				if strings.HasPrefix(p, "!") {
					return launcherrors.NewConfigError("persistent", p)
				}
				c.Persistent[p] = true
			}
		}
	}
	return nil
}

func applyEnumList(mask *Mask, names map[string]uint32, kind, value string) error {
	for _, item := range splitList(value) {
		negate := strings.HasPrefix(item, "!")
		name := strings.TrimPrefix(item, "!")
		bit, ok := names[name]
		if !ok {
			return launcherrors.NewConfigError(kind, name, namesOf(names)...)
		}
		if negate {
			mask.Deny(bit)
		} else {
			mask.Grant(bit)
		}
	}
	return nil
}

func applyFilesystemList(c *Context, value string) error {
	for _, item := range splitList(value) {
		negate := strings.HasPrefix(item, "!")
		spec := strings.TrimPrefix(item, "!")
		mode := ReadOnly
		if idx := strings.LastIndex(spec, ":"); idx >= 0 {
			switch spec[idx+1:] {
			case "ro":
				mode, spec = ReadOnly, spec[:idx]
			case "rw":
				mode, spec = ReadWrite, spec[:idx]
			case "create":
				mode, spec = Create, spec[:idx]
			}
		}
		if err := ValidatePathSpec(spec); err != nil {
			return err
		}
		if negate {
			c.Filesystems[spec] = Negated
		} else {
			c.Filesystems[spec] = mode
		}
	}
	return nil
}

func parseBusPolicyGroup(cfg *goconfigparser.ConfigParser, section string, dst map[string]Policy) error {
	options, _ := cfg.Options(section)
	for _, opt := range options {
		value, err := cfg.Get(section, opt)
		if err != nil {
			continue
		}
		if err := ValidateBusNamePattern(opt); err != nil {
			return err
		}
		p, ok := parsePolicy(value)
		if !ok {
			return launcherrors.NewConfigError("policy", value, "none", "see", "filtered", "talk", "own")
		}
		dst[opt] = p
	}
	return nil
}

func parseEnvironmentGroup(cfg *goconfigparser.ConfigParser, section string, c *Context) error {
	options, _ := cfg.Options(section)
	for _, opt := range options {
		value, _ := cfg.Get(section, opt)
		c.EnvVars[opt] = value
	}
	return nil
}

func parsePolicyGroup(cfg *goconfigparser.ConfigParser, section, subsystem string, c *Context) error {
	if subsystem == "" {
		return nil
	}
	options, _ := cfg.Options(section)
	for _, opt := range options {
		value, _ := cfg.Get(section, opt)
		key := subsystem + "." + opt
		if err := ValidateGenericPolicyKey(key); err != nil {
			return err
		}
		c.GenericPolicy[key] = append(c.GenericPolicy[key], splitList(value)...)
	}
	return nil
}

// LoadOverrides parses bytes using the same grammar as Parse. It is
// intended to be merged on top of previously parsed metadata.
func LoadOverrides(data []byte) (*Context, error) {
	return Parse(data)
}
