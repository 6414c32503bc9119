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
	"fmt"
	"sort"
	"strings"
)

// maskToList renders a mask's granted bits (and, if !flatten, its
// denied bits prefixed with "!") using the name table, in stable
// (sorted) order.
func maskToList(m Mask, names map[string]uint32, flatten bool) []string {
	var out []string
	for _, name := range namesOf(names) {
		bit := names[name]
		switch {
		case m.IsGranted(bit):
			out = append(out, name)
		case m.IsDenied(bit) && !flatten:
			out = append(out, "!"+name)
		}
	}
	return out
}

func fsSpecToString(spec string, mode FsMode, flatten bool) (string, bool) {
	if mode == Negated {
		if flatten {
			return "", false
		}
		return "!" + spec, true
	}
	suffix := ""
	switch mode {
	case ReadWrite:
		suffix = ":rw"
	case Create:
		suffix = ":create"
	}
	return spec + suffix, true
}

// Serialize renders c back into the INI metadata grammar Parse
// understands. When flatten is true the three-valued representation is
// dropped (denied bits and "!"-prefixed generic-policy entries are
// omitted) because the result is self-contained and will never be
// merged on top of anything else.
func (c *Context) Serialize(flatten bool) []byte {
	var b strings.Builder

	var contextLines []string
	if l := maskToList(c.Shares, sharesNames, flatten); len(l) > 0 {
		contextLines = append(contextLines, "shared="+strings.Join(l, listSeparator))
	}
	if l := maskToList(c.Sockets, socketsNames, flatten); len(l) > 0 {
		contextLines = append(contextLines, "sockets="+strings.Join(l, listSeparator))
	}
	if l := maskToList(c.Devices, devicesNames, flatten); len(l) > 0 {
		contextLines = append(contextLines, "devices="+strings.Join(l, listSeparator))
	}
	if l := maskToList(c.Features, featuresNames, flatten); len(l) > 0 {
		contextLines = append(contextLines, "features="+strings.Join(l, listSeparator))
	}
	if len(c.Filesystems) > 0 {
		specs := make([]string, 0, len(c.Filesystems))
		for spec := range c.Filesystems {
			specs = append(specs, spec)
		}
		sort.Strings(specs)
		var items []string
		for _, spec := range specs {
			if s, ok := fsSpecToString(spec, c.Filesystems[spec], flatten); ok {
				items = append(items, s)
			}
		}
		if len(items) > 0 {
			contextLines = append(contextLines, "filesystems="+strings.Join(items, listSeparator))
		}
	}
	if len(c.Persistent) > 0 {
		paths := make([]string, 0, len(c.Persistent))
		for p := range c.Persistent {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		contextLines = append(contextLines, "persistent="+strings.Join(paths, listSeparator))
	}
	if len(contextLines) > 0 {
		fmt.Fprintln(&b, "[Context]")
		for _, l := range contextLines {
			fmt.Fprintln(&b, l)
		}
		fmt.Fprintln(&b)
	}

	writePolicyGroup(&b, "Session Bus Policy", c.SessionBusPolicy)
	writePolicyGroup(&b, "System Bus Policy", c.SystemBusPolicy)

	if len(c.EnvVars) > 0 {
		fmt.Fprintln(&b, "[Environment]")
		keys := sortedKeys(c.EnvVars)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%s\n", k, c.EnvVars[k])
		}
		fmt.Fprintln(&b)
	}

	writeGenericPolicy(&b, c.GenericPolicy, flatten)

	return []byte(b.String())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writePolicyGroup(b *strings.Builder, group string, policies map[string]Policy) {
	if len(policies) == 0 {
		return
	}
	names := make([]string, 0, len(policies))
	for n := range policies {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintf(b, "[%s]\n", group)
	for _, n := range names {
		fmt.Fprintf(b, "%s=%s\n", n, policies[n])
	}
	fmt.Fprintln(b)
}

// writeGenericPolicy groups "subsystem.key" entries back into
// "[Policy subsystem]" sections with list-valued keys.
func writeGenericPolicy(b *strings.Builder, gp map[string][]string, flatten bool) {
	if len(gp) == 0 {
		return
	}
	bySubsystem := map[string]map[string][]string{}
	for fullKey, values := range gp {
		parts := strings.SplitN(fullKey, ".", 2)
		if len(parts) != 2 {
			continue
		}
		sub, key := parts[0], parts[1]
		filtered := values
		if flatten {
			filtered = nil
			for _, v := range values {
				if !strings.HasPrefix(v, "!") {
					filtered = append(filtered, v)
				}
			}
			if len(filtered) == 0 {
				continue
			}
		}
		if bySubsystem[sub] == nil {
			bySubsystem[sub] = map[string][]string{}
		}
		bySubsystem[sub][key] = filtered
	}
	subsystems := make([]string, 0, len(bySubsystem))
	for s := range bySubsystem {
		subsystems = append(subsystems, s)
	}
	sort.Strings(subsystems)
	for _, sub := range subsystems {
		fmt.Fprintf(b, "[Policy %s]\n", sub)
		keys := make([]string, 0, len(bySubsystem[sub]))
		for k := range bySubsystem[sub] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "%s=%s\n", k, strings.Join(bySubsystem[sub][k], listSeparator))
		}
		fmt.Fprintln(b)
	}
}
