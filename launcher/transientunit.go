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
	"fmt"
	"time"

	systemdDbus "github.com/coreos/go-systemd/v22/dbus"

	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// transientUnitWaitTimeout bounds the JobRemoved signal wait so a
// stalled systemd cannot hang a launch.
const transientUnitWaitTimeout = 10 * time.Second

// runInTransientUnit places pid in a systemd user-session scope named
// after appID via StartTransientUnit over the user's session bus.
// Failure is non-fatal: the app still launches, just outside its own
// cgroup scope.
func runInTransientUnit(appID string, pid int) error {
	ctx, cancel := timeoutCtx()
	defer cancel()
	conn, err := systemdDbus.NewUserConnectionContext(ctx)
	if err != nil {
		return &launcherrors.TransientUnitUnavailable{Err: err}
	}
	defer conn.Close()

	unitName := fmt.Sprintf("app-flatpak-%s-%d.scope", sanitizeUnitNameComponent(appID), pid)
	properties := []systemdDbus.Property{
		systemdDbus.PropPids(uint32(pid)),
		systemdDbus.PropDescription("sandboxed application " + appID),
	}

	ch := make(chan string, 1)
	if _, err := conn.StartTransientUnitContext(ctx, unitName, "fail", properties, ch); err != nil {
		return &launcherrors.TransientUnitUnavailable{Err: err}
	}

	select {
	case <-ch:
		return nil
	case <-time.After(transientUnitWaitTimeout):
		return &launcherrors.TransientUnitUnavailable{Err: fmt.Errorf("timed out waiting for JobRemoved on unit %s", unitName)}
	}
}

// sanitizeUnitNameComponent replaces characters systemd unit names
// reject with "_", the escaping convention systemd itself documents
// for machine names.
func sanitizeUnitNameComponent(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
