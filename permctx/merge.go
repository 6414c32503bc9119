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

import "strings"

// Merge folds other on top of c in place: capability masks combine
// via the three-valued merge formula; env vars, persistent paths,
// filesystems, and bus policies are last-writer-wins per key; generic
// policy values are applied one at a time via applyPolicyValue so a
// later "!X" shadows an earlier X and vice versa.
func (c *Context) Merge(other *Context) {
	c.Shares = c.Shares.merge(other.Shares)
	c.Sockets = c.Sockets.merge(other.Sockets)
	c.Devices = c.Devices.merge(other.Devices)
	c.Features = c.Features.merge(other.Features)

	for k, v := range other.EnvVars {
		c.EnvVars[k] = v
	}
	for k := range other.Persistent {
		c.Persistent[k] = true
	}
	for k, v := range other.Filesystems {
		c.Filesystems[k] = v
	}
	for k, v := range other.SessionBusPolicy {
		c.SessionBusPolicy[k] = v
	}
	for k, v := range other.SystemBusPolicy {
		c.SystemBusPolicy[k] = v
	}
	for key, values := range other.GenericPolicy {
		for _, v := range values {
			c.applyPolicyValue(key, v)
		}
	}
}

// applyPolicyValue removes any existing entry under key whose raw text
// (after stripping a leading "!") equals value's raw text, then appends
// value verbatim. This makes merges order-independent in their
// last-writer semantics and preserves user intent across flatten.
func (c *Context) applyPolicyValue(key, value string) {
	raw := strings.TrimPrefix(value, "!")
	existing := c.GenericPolicy[key]
	filtered := existing[:0:0]
	for _, v := range existing {
		if strings.TrimPrefix(v, "!") == raw {
			continue
		}
		filtered = append(filtered, v)
	}
	c.GenericPolicy[key] = append(filtered, value)
}

// Merged returns a new Context equal to c with other merged on top,
// leaving both inputs untouched.
func Merged(c, other *Context) *Context {
	out := c.Clone()
	out.Merge(other)
	return out
}
