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
	"strings"

	"github.com/mvo5/goconfigparser"

	"github.com/basuotian/sandboxrun/internal/deploystore"
	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// runtimeRefFromMetadata reads the bare "runtime=" key an app's
// [Application] metadata group carries, letting the runtime's own ref
// be derived from the app's metadata rather than asked for separately.
// Uses the same INI parser permctx.Parse is built on.
func runtimeRefFromMetadata(metadata []byte) (deploystore.Ref, error) {
	cfg := goconfigparser.New()
	if err := cfg.Read(strings.NewReader(string(metadata))); err != nil {
		return deploystore.Ref{}, &launcherrors.ConfigError{Kind: "metadata", Value: err.Error()}
	}
	raw, err := cfg.Get("Application", "runtime")
	if err != nil {
		return deploystore.Ref{}, &launcherrors.ConfigError{Kind: "metadata", Value: "missing [Application] runtime="}
	}
	return parseRuntimeRef(raw)
}

// parseRuntimeRef parses a bare "<id>/<arch>/<branch>" runtime
// reference, the form app metadata's "runtime=" key carries (no
// leading "runtime/" kind prefix, unlike a fully qualified Ref).
func parseRuntimeRef(raw string) (deploystore.Ref, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return deploystore.Ref{}, &launcherrors.ConfigError{Kind: "runtime-ref", Value: raw}
	}
	return deploystore.Ref{Kind: "runtime", ID: parts[0], Arch: parts[1], Branch: parts[2]}, nil
}
