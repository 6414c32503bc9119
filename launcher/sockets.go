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
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/basuotian/sandboxrun/argstream"
	"github.com/basuotian/sandboxrun/busproxy"
	"github.com/basuotian/sandboxrun/configblobs"
	"github.com/basuotian/sandboxrun/internal/launcherrors"
	"github.com/basuotian/sandboxrun/permctx"
)

// activeProxy tracks one launched filtering proxy until its sync-pipe
// rendezvous completes and its read end is handed to the main sandbox.
type activeProxy struct {
	bus   busproxy.Bus
	sync  *busproxy.SyncPipe
	proc  *os.Process
	label string
}

// awaitReadyAndAttach blocks (bounded by busproxy.DefaultReadyTimeout)
// for the proxy's readiness byte, then transfers the sync pipe's read
// end into stream as "--sync-fd" so the sandboxed application inherits
// it.
func (p *activeProxy) awaitReadyAndAttach(stream *argstream.ArgStream) error {
	if err := p.sync.AwaitReady(busproxy.DefaultReadyTimeout); err != nil {
		return err
	}
	if err := p.sync.CloseWriteEnd(); err != nil {
		return err
	}
	stream.AddFDOnly("--sync-fd", p.sync.TakeReadFD())
	return nil
}

// applySockets wires the X11, Wayland, PulseAudio, session-bus,
// system-bus, and accessibility-bus
// sockets: direct binds for unrestricted caps, proxied sockets
// otherwise, returning the proxies still awaiting their sync-pipe
// rendezvous.
func (l *Launcher) applySockets(ctx context.Context, stream *argstream.ArgStream, pctx *permctx.Context, env map[string]string, appID string, appInfoFD int) ([]*activeProxy, error) {
	var proxies []*activeProxy

	if pctx.Sockets.IsGranted(permctx.SocketX11) {
		if err := l.applyX11(stream, env); err != nil {
			return nil, err
		}
	}

	if pctx.Sockets.IsGranted(permctx.SocketWayland) {
		if sock := os.Getenv("WAYLAND_DISPLAY"); sock != "" {
			host := filepath.Join(l.userRuntimeDir, sock)
			if _, err := os.Stat(host); err == nil {
				target := filepath.Join("/run/user", strconv.Itoa(l.identity.Uid), sock)
				stream.Add("--ro-bind", host, target)
				env["WAYLAND_DISPLAY"] = sock
			}
		}
	}

	if pctx.Sockets.IsGranted(permctx.SocketPulseaudio) {
		if err := stream.AddData("pulse-client.conf", configblobs.PulseClientConf(), "/run/user/"+strconv.Itoa(l.identity.Uid)+"/pulse/config"); err != nil {
			return nil, err
		}
		env["PULSE_SERVER"] = "unix:/run/user/" + strconv.Itoa(l.identity.Uid) + "/pulse/native"
	}

	for _, bus := range []busproxy.Bus{busproxy.Session, busproxy.System, busproxy.A11y} {
		p, err := l.applyOneBus(ctx, stream, pctx, env, bus, appID, appInfoFD)
		if err != nil {
			return nil, err
		}
		if p != nil {
			proxies = append(proxies, p)
		}
	}

	return proxies, nil
}

func (l *Launcher) applyOneBus(ctx context.Context, stream *argstream.ArgStream, pctx *permctx.Context, env map[string]string, bus busproxy.Bus, appID string, appInfoFD int) (*activeProxy, error) {
	policy, granted, sandboxPath, envVar, upstream := l.busParams(pctx, bus)
	// The accessibility bus always goes through the proxy when
	// reachable, regardless of a socket capability; every
	// other bus requires either an unrestricted grant or a non-empty
	// policy to be touched at all.
	if bus != busproxy.A11y && !granted && len(policy) == 0 {
		return nil, nil
	}
	if upstream == "" {
		return nil, nil
	}

	unrestricted := granted && len(policy) == 0 && bus != busproxy.A11y
	if unrestricted {
		stream.Add("--ro-bind", upstream, sandboxPath)
		env[envVar] = "unix:path=" + sandboxPath
		return nil, nil
	}

	socketPath := busproxy.ProxySocketPath(l.userRuntimeDir, bus)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return nil, err
	}

	req := busproxy.Request{Bus: bus, Policy: policy, UpstreamAddress: upstream, AppID: appID, SyncFD: proxySyncChildFD}.WithSocketPath(socketPath)
	proxyArgs := busproxy.ProxyArgs(req)

	sp, err := busproxy.New()
	if err != nil {
		return nil, err
	}

	proc, err := l.spawnProxy(ctx, proxyArgs, socketPath, sp, appInfoFD)
	if err != nil {
		return nil, err
	}

	stream.Add("--ro-bind", socketPath, sandboxPath)
	env[envVar] = "unix:path=" + sandboxPath

	return &activeProxy{bus: bus, sync: sp, proc: proc, label: bus.String()}, nil
}

// busParams resolves, per bus, the policy map, whether the matching
// socket capability is granted, the in-sandbox socket path, the
// environment variable that names it, and the upstream bus address.
func (l *Launcher) busParams(pctx *permctx.Context, bus busproxy.Bus) (policy map[string]permctx.Policy, granted bool, sandboxPath, envVar, upstream string) {
	uid := strconv.Itoa(l.identity.Uid)
	switch bus {
	case busproxy.Session:
		return pctx.SessionBusPolicy, pctx.Sockets.IsGranted(permctx.SocketSessionBus),
			"/run/user/" + uid + "/bus", "DBUS_SESSION_BUS_ADDRESS",
			"unix:path=" + l.userRuntimeDir + "/bus"
	case busproxy.System:
		return pctx.SystemBusPolicy, pctx.Sockets.IsGranted(permctx.SocketSystemBus),
			"/run/dbus/system_bus_socket", "DBUS_SYSTEM_BUS_ADDRESS",
			"unix:path=/run/dbus/system_bus_socket"
	case busproxy.A11y:
		// The real org.a11y.Bus.GetAddress call needs
		// a live session-bus connection; AT_SPI_BUS_ADDRESS is accepted
		// as the already-discovered address so a11y proxying still works
		// when this process has no session bus of its own to call out on.
		return nil, false, "/run/user/" + uid + "/at-spi-bus", "AT_SPI_BUS_ADDRESS", l.resolveA11yBusAddress()
	default:
		return nil, false, "", "", ""
	}
}

// proxyWrapperArgsChildFD, proxySyncChildFD, and proxyAppInfoChildFD
// are the fd numbers the spawned proxy process sees its sealed arg
// stream, sync-pipe write end, and app-info file at: exec.Cmd remaps
// every ExtraFiles entry to 3, 4, ... in order, so these must match
// that layout rather than whatever fd numbers this process happened to
// allocate them at.
const (
	proxyWrapperArgsChildFD = 3
	proxySyncChildFD        = 4
	proxyAppInfoChildFD     = 5
)

// spawnProxy runs the configured executor's wrapper sandbox around the
// proxy binary: the wrapper args (built from the host "/") plus the
// proxy's own argv, with the sync pipe's write end and the app-info fd
// passed as extra fds. Each inherited fd is dup'd into an os.File the child setup
// consumes, so the parent's own sync-pipe and app-info descriptors
// survive Start untouched.
func (l *Launcher) spawnProxy(ctx context.Context, proxyArgs []string, socketPath string, sp *busproxy.SyncPipe, appInfoFD int) (*os.Process, error) {
	appInfoChildFD := -1
	if appInfoFD >= 0 {
		appInfoChildFD = proxyAppInfoChildFD
	}
	wrapperStream, err := busproxy.BuildWrapperArgs(busproxy.OSWrapperFS{}, filepath.Dir(socketPath), appInfoChildFD)
	if err != nil {
		return nil, err
	}
	wrapperStream.Add("--")
	wrapperStream.Add("dbus-proxy")
	for _, a := range proxyArgs {
		wrapperStream.Add(a)
	}

	fd, err := wrapperStream.SealedFD("dbus-proxy-wrapper-args")
	if err != nil {
		return nil, err
	}
	extra := []*os.File{os.NewFile(uintptr(fd), "dbus-proxy-wrapper-args")}

	closeExtra := func() {
		for _, f := range extra {
			f.Close()
		}
	}

	syncDup, err := unix.Dup(sp.WriteFD())
	if err != nil {
		closeExtra()
		return nil, &launcherrors.IoError{Op: "dup", Path: "sync-pipe", Err: err}
	}
	extra = append(extra, os.NewFile(uintptr(syncDup), "sync-pipe-write"))

	if appInfoFD >= 0 {
		infoDup, err := unix.Dup(appInfoFD)
		if err != nil {
			closeExtra()
			return nil, &launcherrors.IoError{Op: "dup", Path: "/.flatpak-info", Err: err}
		}
		extra = append(extra, os.NewFile(uintptr(infoDup), "flatpak-info"))
	}

	cmd := exec.Command(l.executorPath, "--args", strconv.Itoa(proxyWrapperArgsChildFD))
	cmd.ExtraFiles = extra
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	err = cmd.Start()
	closeExtra()
	if err != nil {
		return nil, err
	}

	log.G(ctx).WithField("pid", cmd.Process.Pid).Info("bus proxy started")
	return cmd.Process, nil
}
