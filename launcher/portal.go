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
	"os"
	"time"

	"github.com/godbus/dbus/v5"
)

// portalCallTimeout bounds every D-Bus call this package makes to the
// document portal, the accessibility bus, and systemd's transient-unit
// API.
const portalCallTimeout = 30 * time.Second

const documentPortalBusName = "org.freedesktop.portal.Documents"
const documentPortalObjectPath = "/org/freedesktop/portal/documents"
const documentPortalIface = documentPortalBusName

// sessionDocumentPortal drives the real document portal over the
// session bus: GetMountPoint for the doc mount, Add for file
// forwarding.
type sessionDocumentPortal struct {
	conn  *dbus.Conn
	appID string
}

// NewSessionDocumentPortal connects to the session bus and returns a
// DocumentPortal, or a non-fatal PortalUnavailable wrapping the
// connection failure.
func NewSessionDocumentPortal(appID string) (*sessionDocumentPortal, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, portalUnavailableError(err)
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, portalUnavailableError(err)
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, portalUnavailableError(err)
	}
	return &sessionDocumentPortal{conn: conn, appID: appID}, nil
}

// MountPoint calls the portal's GetMountPoint method, returning the
// absolute host path the portal's fuse mount lives at (e.g.
// /run/user/<uid>/doc), used to bind <mountpoint>/by-app/<id> into the
// sandbox.
func (p *sessionDocumentPortal) MountPoint() (string, error) {
	ctx, cancel := timeoutCtx()
	defer cancel()
	obj := p.conn.Object(documentPortalBusName, dbus.ObjectPath(documentPortalObjectPath))
	var raw []byte
	call := obj.CallWithContext(ctx, documentPortalIface+".GetMountPoint", 0)
	if call.Err != nil {
		return "", portalUnavailableError(call.Err)
	}
	if err := call.Store(&raw); err != nil {
		return "", portalUnavailableError(err)
	}
	return string(trimNUL(raw)), nil
}

// Export registers hostPath with the portal's Add method, returning
// the document id the caller mounts under MountRoot()/<id>/<basename>.
func (p *sessionDocumentPortal) Export(hostPath string) (string, error) {
	f, err := os.Open(hostPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ctx, cancel := timeoutCtx()
	defer cancel()
	obj := p.conn.Object(documentPortalBusName, dbus.ObjectPath(documentPortalObjectPath))
	var docID string
	call := obj.CallWithContext(ctx, documentPortalIface+".Add", 0, dbus.UnixFD(f.Fd()), false, false)
	if call.Err != nil {
		return "", call.Err
	}
	if err := call.Store(&docID); err != nil {
		return "", err
	}
	return docID, nil
}

// MountRoot returns the fuse mount root document ids are rooted under,
// queried through MountPoint on every call; empty when that call fails.
func (p *sessionDocumentPortal) MountRoot() string {
	root, err := p.MountPoint()
	if err != nil {
		return ""
	}
	return root
}

func (p *sessionDocumentPortal) Close() error {
	return p.conn.Close()
}

const a11yBusName = "org.a11y.Bus"
const a11yBusObjectPath = "/org/a11y/bus"

// resolveA11yBusAddress discovers the accessibility bus address via a
// short-lived session-bus call to org.a11y.Bus.GetAddress.
// AT_SPI_BUS_ADDRESS, when already set in this process's environment, is
// used instead of dialing out again. Any failure to reach the session
// bus or the call itself is treated as "a11y not reachable" rather than
// fatal.
func (l *Launcher) resolveA11yBusAddress() string {
	if addr := os.Getenv("AT_SPI_BUS_ADDRESS"); addr != "" {
		return addr
	}

	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return ""
	}
	defer conn.Close()
	if err := conn.Auth(nil); err != nil {
		return ""
	}
	if err := conn.Hello(); err != nil {
		return ""
	}

	ctx, cancel := timeoutCtx()
	defer cancel()
	obj := conn.Object(a11yBusName, dbus.ObjectPath(a11yBusObjectPath))
	var addr string
	call := obj.CallWithContext(ctx, a11yBusName+".GetAddress", 0)
	if call.Err != nil {
		return ""
	}
	if err := call.Store(&addr); err != nil {
		return ""
	}
	return addr
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
