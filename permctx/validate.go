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

	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// ValidatePathSpec enforces the path-spec grammar: literal "host",
// literal "home", "xdg-<name>[/sub]", "~/sub", or an absolute "/sub".
// Anything else is a parse error.
func ValidatePathSpec(spec string) error {
	if spec == "" {
		return launcherrors.NewConfigError("filesystem", spec)
	}
	switch {
	case spec == "host", spec == "home":
		return nil
	case strings.HasPrefix(spec, "xdg-"):
		return nil
	case strings.HasPrefix(spec, "~/"), spec == "~":
		return nil
	case strings.HasPrefix(spec, "/"):
		return nil
	default:
		return launcherrors.NewConfigError("filesystem", spec)
	}
}

// isValidBusNameToken reports whether s is a syntactically valid
// well-known D-Bus bus name (dot-separated, 2+ elements, each element
// [A-Za-z_-][A-Za-z0-9_-]*, not starting with a digit).
func isValidBusNameToken(s string) bool {
	if s == "" || strings.HasPrefix(s, ":") {
		return false
	}
	elems := strings.Split(s, ".")
	if len(elems) < 2 {
		return false
	}
	for _, e := range elems {
		if !isValidBusNameElement(e) {
			return false
		}
	}
	return true
}

func isValidBusNameElement(e string) bool {
	if e == "" {
		return false
	}
	for i, r := range e {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '_', r == '-':
			// ok anywhere
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ValidateBusNamePattern checks that a bus-name
// pattern is either a valid well-known D-Bus name, or ends in ".*"
// where the prefix is a valid well-known D-Bus name. Unique connection
// names (leading ':') are rejected.
func ValidateBusNamePattern(pattern string) error {
	if strings.HasPrefix(pattern, ":") {
		return launcherrors.NewConfigError("bus-name", pattern)
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		if !isValidBusNameToken(prefix) {
			return launcherrors.NewConfigError("bus-name", pattern)
		}
		return nil
	}
	if !isValidBusNameToken(pattern) {
		return launcherrors.NewConfigError("bus-name", pattern)
	}
	return nil
}

// ValidateGenericPolicyKey checks that a key contains
// exactly one "." separating a non-empty subsystem and non-empty key.
func ValidateGenericPolicyKey(key string) error {
	parts := strings.Split(key, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return launcherrors.NewConfigError("generic-policy-key", key)
	}
	return nil
}
