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

// Package launcherrors defines the error taxonomy used across the
// sandbox launcher core. Each error kind wraps one of containerd's
// errdefs sentinels so callers can still use errdefs.Is* predicates,
// while retaining enough context (path, name, underlying cause) to
// build a useful message at the top of the Launcher.
package launcherrors

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// ConfigError reports malformed metadata: unknown capability names,
// malformed bus name patterns, malformed filesystem specs.
type ConfigError struct {
	Kind  string // e.g. "shared", "socket", "filesystem", "bus-name"
	Value string
	Valid []string
}

func (e *ConfigError) Error() string {
	if len(e.Valid) == 0 {
		return fmt.Sprintf("invalid %s %q", e.Kind, e.Value)
	}
	return fmt.Sprintf("invalid %s %q: valid values are %v", e.Kind, e.Value, e.Valid)
}

func (e *ConfigError) Unwrap() error { return errdefs.ErrInvalidArgument }

// NewConfigError builds a ConfigError referencing the offending kind/value.
func NewConfigError(kind, value string, valid ...string) error {
	return &ConfigError{Kind: kind, Value: value, Valid: valid}
}

// DeployError reports a missing or unreadable deploy: ref decomposition
// failure, missing runtime, unreadable metadata file.
type DeployError struct {
	Ref string
	Op  string
	Err error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy %s: %s: %v", e.Ref, e.Op, e.Err)
}

func (e *DeployError) Unwrap() error { return errdefs.ErrNotFound }

// IoError wraps a filesystem, pipe, or fd operation failure.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// ProxyError reports that the D-Bus filtering proxy failed to start or
// to signal readiness over the sync pipe.
type ProxyError struct {
	Bus string // "session", "system", "a11y"
	Err error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("bus proxy (%s): %v", e.Bus, e.Err)
}

func (e *ProxyError) Unwrap() error { return errdefs.ErrUnavailable }

// ErrProxyTimeout is returned when the sync pipe rendezvous with the
// proxy does not complete within the bounded wait.
var ErrProxyTimeout = &ProxyError{Bus: "", Err: fmt.Errorf("timed out waiting for proxy readiness: %w", errdefs.ErrUnavailable)}

// LdCacheError reports a non-zero ldconfig exit or a missing output file.
type LdCacheError struct {
	Key string
	Err error
}

func (e *LdCacheError) Error() string {
	return fmt.Sprintf("ld.so.cache regeneration (key %s): %v", e.Key, e.Err)
}

func (e *LdCacheError) Unwrap() error { return errdefs.ErrUnknown }

// SeccompError reports filter compilation or BPF export failure.
type SeccompError struct {
	Op  string
	Err error
}

func (e *SeccompError) Error() string {
	return fmt.Sprintf("seccomp %s: %v", e.Op, e.Err)
}

func (e *SeccompError) Unwrap() error { return errdefs.ErrFailedPrecondition }

// PortalUnavailable is non-fatal: file forwarding is disabled
// gracefully and remaining arguments pass through unchanged.
type PortalUnavailable struct {
	Err error
}

func (e *PortalUnavailable) Error() string {
	return fmt.Sprintf("document portal unavailable: %v", e.Err)
}

func (e *PortalUnavailable) Unwrap() error { return errdefs.ErrUnavailable }

// TransientUnitUnavailable is a non-fatal warning: the launched
// process will not be placed in a systemd scope.
type TransientUnitUnavailable struct {
	Err error
}

func (e *TransientUnitUnavailable) Error() string {
	return fmt.Sprintf("transient unit unavailable: %v", e.Err)
}

func (e *TransientUnitUnavailable) Unwrap() error { return errdefs.ErrUnavailable }

// FatalSandbox wraps any failure surfaced by the executor stage.
type FatalSandbox struct {
	ExitCode int
	Err      error
}

func (e *FatalSandbox) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sandbox executor failed: %v", e.Err)
	}
	return fmt.Sprintf("sandbox executor exited with code %d", e.ExitCode)
}

func (e *FatalSandbox) Unwrap() error { return errdefs.ErrUnknown }
