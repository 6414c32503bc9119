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

// Package launcher assembles the final sandbox
// invocation: it resolves deploy data,
// builds the permission Context, derives the filesystem exposure plan,
// composes the argument stream, launches the bus proxy, regenerates
// the linker cache, mounts the instance info file, and finally execs
// the unprivileged container executor.
package launcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"github.com/containerd/log"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"github.com/basuotian/sandboxrun/appinfo"
	"github.com/basuotian/sandboxrun/argstream"
	"github.com/basuotian/sandboxrun/configblobs"
	"github.com/basuotian/sandboxrun/exposure"
	"github.com/basuotian/sandboxrun/extensions"
	"github.com/basuotian/sandboxrun/internal/deploystore"
	"github.com/basuotian/sandboxrun/internal/launcherrors"
	"github.com/basuotian/sandboxrun/ldcache"
	"github.com/basuotian/sandboxrun/permctx"
)

// Launcher holds everything a Run call needs that does not vary
// per-ref: the deploy store, invoking-user identity, host/executor
// paths. Built with New and a set of Option funcs.
type Launcher struct {
	store           deploystore.Store
	identity        configblobs.Identity
	executorPath    string
	launcherVersion string
	userRuntimeDir  string
	userCacheDir    string
	userInstallRoot string
	hostArch        specs.Arch
	background      bool
	extraCliArgs    []string
}

// Option configures a Launcher at construction time.
type Option func(*Launcher) error

// WithExecutorPath sets the path to the unprivileged container
// executor binary.
func WithExecutorPath(path string) Option {
	return func(l *Launcher) error { l.executorPath = path; return nil }
}

// WithLauncherVersion records the version string written into the
// instance info file's "launcher=" key.
func WithLauncherVersion(v string) Option {
	return func(l *Launcher) error { l.launcherVersion = v; return nil }
}

// WithUserRuntimeDir overrides XDG_RUNTIME_DIR detection.
func WithUserRuntimeDir(dir string) Option {
	return func(l *Launcher) error { l.userRuntimeDir = dir; return nil }
}

// WithUserCacheDir overrides the user cache directory used for the
// ld.so cache fallback location.
func WithUserCacheDir(dir string) Option {
	return func(l *Launcher) error { l.userCacheDir = dir; return nil }
}

// WithUserInstallRoot names the per-user install root the
// ExposurePlanner hides with a tmpfs.
func WithUserInstallRoot(dir string) Option {
	return func(l *Launcher) error { l.userInstallRoot = dir; return nil }
}

// WithBackground selects fork+background over foreground execve for
// the final invocation.
func WithBackground(bg bool) Option {
	return func(l *Launcher) error { l.background = bg; return nil }
}

// WithExtraCliArgs supplies the extra CLI-sourced permission context
// merged last, ahead of Context construction.
func WithExtraCliArgs(args []string) Option {
	return func(l *Launcher) error { l.extraCliArgs = args; return nil }
}

// New builds a Launcher from store and opts, filling identity and
// runtime-dir fields from the current process when not overridden.
func New(store deploystore.Store, opts ...Option) (*Launcher, error) {
	l := &Launcher{
		store:          store,
		hostArch:       hostSeccompArch(),
		userRuntimeDir: os.Getenv("XDG_RUNTIME_DIR"),
		userCacheDir:   filepath.Join(os.Getenv("HOME"), ".cache"),
	}
	if id, err := currentIdentity(); err == nil {
		l.identity = id
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	if l.executorPath == "" {
		l.executorPath = "bwrap"
	}
	return l, nil
}

// Result is the composed launch that Plan returns without execing
// (e.g. the "info" diagnostic path in cmd/sandboxrun); Run returns only
// an error, and a real foreground Run normally never returns.
type Result struct {
	Context    *permctx.Context
	Plan       *exposure.Plan
	ArgStream  *argstream.ArgStream
	ExecutorFd int
	// AllowedPersonality is the personality(2) argument the Launcher
	// must apply to itself before exec so the executor inherits it.
	AllowedPersonality uint

	// holds keeps the host-side flocks on the runtime/app .ref markers
	// referenced (and therefore held) until exec releases them.
	holds []*extensions.LockHold
}

// Run composes and launches the sandbox for appRef,
// forwarding positionalArgs (after file-forwarding rewriting) to the
// sandboxed command. It execs the configured executor in place of this
// process when l.background is false; callers that want the composed
// arguments without execing (diagnostics, tests) should call Plan
// instead.
func (l *Launcher) Run(ctx context.Context, appRef deploystore.Ref, positionalArgs []string) error {
	result, err := l.compose(ctx, appRef)
	if err != nil {
		return err
	}

	// The file-forwarding rewrite: only dial the portal when the arg
	// list actually carries a toggle, and degrade to passthrough when
	// it cannot be reached.
	if hasForwardToggles(positionalArgs) {
		var portal DocumentPortal
		if p, err := NewSessionDocumentPortal(appRef.ID); err == nil {
			portal = p
			defer p.Close()
		} else {
			log.G(ctx).WithError(err).Warn("document portal unavailable, file forwarding disabled")
		}
		positionalArgs = ForwardArgs(positionalArgs, result.Plan, portal)
	}

	fd, err := result.ArgStream.SealedFD("sandboxrun-args")
	if err != nil {
		return err
	}

	log.G(ctx).WithField("argv0", l.executorPath).Info("invoking sandbox executor")

	// Placement in a systemd user-session scope is best-effort.
	if err := runInTransientUnit(appRef.ID, os.Getpid()); err != nil {
		log.G(ctx).WithError(err).Warn("transient unit placement failed")
	}

	if result.AllowedPersonality != 0 {
		if err := setPersonality(result.AllowedPersonality); err != nil {
			log.G(ctx).WithError(err).Warn("personality(2) failed, continuing with current personality")
		}
	}

	if l.background {
		// os.StartProcess forks rather than replacing this process's
		// image, so fd's number is not preserved across exec the way
		// syscall.Exec below preserves it: the sealed fd is placed at a
		// fixed slot (3) in the child's file table instead, and argv
		// references that fixed slot rather than fd's value here.
		argsFile := os.NewFile(uintptr(fd), "sandboxrun-args")
		argv := append([]string{l.executorPath, "--args", "3"}, positionalArgs...)
		proc, err := os.StartProcess(l.executorPath, argv, &os.ProcAttr{
			Files: []*os.File{os.Stdin, os.Stdout, os.Stderr, argsFile},
		})
		if err != nil {
			return &launcherrors.FatalSandbox{Err: err}
		}
		_ = proc.Release()
		return nil
	}

	argv := append([]string{l.executorPath, "--args", strconv.Itoa(fd)}, positionalArgs...)
	if err := syscall.Exec(l.executorPath, argv, os.Environ()); err != nil {
		return &launcherrors.FatalSandbox{Err: err}
	}
	return nil
}

// Plan runs every composition step (Context through ArgStream) without
// execing, returning the intermediate Result -- the path the
// "sandboxrun info" diagnostic subcommand uses.
func (l *Launcher) Plan(ctx context.Context, appRef deploystore.Ref) (*Result, error) {
	return l.compose(ctx, appRef)
}

// compose runs every composition stage up to (but not including)
// serializing/execing the final invocation.
func (l *Launcher) compose(ctx context.Context, appRef deploystore.Ref) (*Result, error) {
	log := log.G(ctx).WithField("ref", fmt.Sprintf("%s/%s/%s/%s", appRef.Kind, appRef.ID, appRef.Arch, appRef.Branch))

	// Step 1: resolve app + runtime deploys.
	app, err := l.store.Resolve(appRef)
	if err != nil {
		return nil, &launcherrors.DeployError{Ref: appRef.ID, Op: "resolve-app", Err: err}
	}
	runtimeRef, err := runtimeRefFromMetadata(app.Metadata)
	if err != nil {
		return nil, err
	}
	runtime, err := l.store.Resolve(runtimeRef)
	if err != nil {
		return nil, &launcherrors.DeployError{Ref: runtimeRef.ID, Op: "resolve-runtime", Err: err}
	}

	// Step 2: build Context by merging defaults, runtime metadata, app
	// metadata, stored overrides, then extra CLI context.
	pctx, err := l.buildContext(app, runtime)
	if err != nil {
		return nil, err
	}

	// Step 3: resolve and create the per-app data directory tree.
	dataDir := l.store.PerAppDataDir(appRef.ID)
	if err := ensureAppDataDirs(dataDir); err != nil {
		return nil, err
	}

	stream := argstream.New()

	// Step 4: seed runtime/app mounts and run the extension mounter for
	// both. The host-side holds keep the deploy store from collecting a
	// commit out from under a launch before the executor takes its own
	// in-sandbox locks; they ride in the Result so they stay open until
	// exec, where close-on-exec releases them.
	var holds []*extensions.LockHold
	stream.Add("--ro-bind", runtime.FilesPath, "/usr")
	stream.Add("--lock-file", "/usr/.ref")
	if h, err := extensions.Hold(filepath.Join(runtime.FilesPath, ".ref")); err == nil {
		holds = append(holds, h)
	}
	if app.FilesPath != "" {
		stream.Add("--ro-bind", app.FilesPath, "/app")
		stream.Add("--lock-file", "/app/.ref")
		if h, err := extensions.Hold(filepath.Join(app.FilesPath, ".ref")); err == nil {
			holds = append(holds, h)
		}
	} else {
		stream.Add("--dir", "/app")
	}

	useLdSoConf := runtimeLdSoConfIsEmpty(runtime.FilesPath)
	ldConfCounter := 0
	runtimeMounter := extensions.NewMounter(useLdSoConf)
	appMounter := extensions.NewMounter(useLdSoConf)
	ldLibraryPath, runtimeExtSummary, err := runtimeMounter.Apply(stream, runtime.Extensions, "", &ldConfCounter)
	if err != nil {
		return nil, err
	}
	ldLibraryPath, appExtSummary, err := appMounter.Apply(stream, app.Extensions, ldLibraryPath, &ldConfCounter)
	if err != nil {
		return nil, err
	}

	// Steps 5-6: ld cache lookup/regeneration.
	cacheDir := ldcache.Dir(dataDir, l.userCacheDir)
	key := ldcache.Key(app.Commit, runtime.Commit, appExtSummary, runtimeExtSummary)
	ldCacheFd, ok := ldcache.Lookup(cacheDir, key)
	if !ok {
		regen := &ldcache.Regenerator{ExecutorPath: l.executorPath, BaseArgs: append([]string{}, stream.Args()...)}
		ldCacheFd, err = regen.Regenerate(cacheDir, key, dataDir != "")
		if err != nil {
			return nil, err
		}
	}
	stream.AddFD("--ro-bind-data", ldCacheFd, "/etc/ld.so.cache")

	// Step 7: base sandbox args.
	l.applyBaseArgs(stream, pctx)
	applyUsrLinks(stream, runtime.FilesPath)
	applyEtcPassthrough(stream, runtime.FilesPath)
	applyMonitorPaths(stream)
	applyAppVarBinds(stream, dataDir)
	if err := l.applyIdentityBlobs(stream); err != nil {
		return nil, err
	}

	rules := buildSeccompRules(pctx, l.hostArch, archFromRefComponent(appRef.Arch))
	seccompFd, err := configblobs.CompileSeccomp(rules)
	if err != nil {
		return nil, err
	}
	stream.AddFDOnly("--seccomp", seccompFd)

	// Step 8: ld cache + app-info fds, exposure plan, fonts/icons.
	plan, err := l.buildExposurePlan(pctx, dataDir)
	if err != nil {
		return nil, err
	}
	renderPlan(stream, plan)

	if dataDir != "" && len(plan.XdgUserDirs()) > 0 {
		blob := configblobs.UserDirsDirs(plan.XdgUserDirs())
		if err := stream.AddData("user-dirs.dirs", blob, "/var/config/user-dirs.dirs"); err != nil {
			return nil, err
		}
	}

	l.applyDocumentPortalMount(ctx, stream, appRef.ID)
	applyJournalSockets(stream)
	applyFontDirs(stream, l.identity.Home)

	info := appinfo.Info{
		AppID:            appRef.ID,
		AppPath:          app.FilesPath,
		AppCommit:        app.Commit,
		RuntimeRef:       fmt.Sprintf("runtime/%s/%s/%s", runtimeRef.ID, runtimeRef.Arch, runtimeRef.Branch),
		RuntimePath:      runtime.FilesPath,
		RuntimeCommit:    runtime.Commit,
		Extensions:       joinSummaries(appExtSummary, runtimeExtSummary),
		Branch:           appRef.Branch,
		LauncherVersion:  l.launcherVersion,
		SessionBusProxy:  !pctx.Sockets.IsGranted(permctx.SocketSessionBus),
		SystemBusProxy:   !pctx.Sockets.IsGranted(permctx.SocketSystemBus),
		FlattenedContext: string(pctx.Serialize(true)),
	}
	if err := info.Mount(stream, l.identity.Uid); err != nil {
		return nil, err
	}

	// Step 9: sockets (X11/Wayland/Pulse/buses) and Step 10: bus proxy.
	env := buildEnv(dataDir, pctx.EnvVars)
	appInfoFD, err := info.OpenFD()
	if err != nil {
		return nil, err
	}
	proxies, err := l.applySockets(ctx, stream, pctx, env, appRef.ID, appInfoFD)
	// Every spawned proxy holds its own dup; the original is done either way.
	unix.Close(appInfoFD)
	if err != nil {
		return nil, err
	}

	// Step 11: re-inject LD_LIBRARY_PATH (the executor strips it otherwise).
	if ldLibraryPath != "" {
		env["LD_LIBRARY_PATH"] = ldLibraryPath
	}
	applyEnv(stream, env)

	for _, p := range proxies {
		if err := p.awaitReadyAndAttach(stream); err != nil {
			return nil, err
		}
	}

	log.Debug("sandbox composition complete")
	return &Result{Context: pctx, Plan: plan, ArgStream: stream, AllowedPersonality: uint(rules.AllowedPersonality), holds: holds}, nil
}

// joinSummaries combines the app and runtime extension summaries with
// the same ";" convention extensions.Mounter.Apply uses internally.
func joinSummaries(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + ";" + b
	}
}

// ensureAppDataDirs creates the per-app data tree eagerly with 0700.
func ensureAppDataDirs(dataDir string) error {
	if dataDir == "" {
		return nil
	}
	for _, sub := range []string{"data", "cache", "cache/fontconfig", "cache/tmp", "config"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o700); err != nil {
			return &launcherrors.IoError{Op: "mkdir", Path: filepath.Join(dataDir, sub), Err: err}
		}
	}
	return nil
}

// buildContext merges defaults, runtime metadata, app metadata, stored
// overrides, then extra CLI context, in that order.
func (l *Launcher) buildContext(app, runtime *deploystore.Deploy) (*permctx.Context, error) {
	pctx := permctx.Default()

	runtimeCtx, err := permctx.Parse(runtime.Metadata)
	if err != nil {
		return nil, err
	}
	pctx.Merge(runtimeCtx)

	appCtx, err := permctx.Parse(app.Metadata)
	if err != nil {
		return nil, err
	}
	pctx.Merge(appCtx)

	if overrides, err := l.store.LoadOverrides(app.Ref.ID); err == nil && len(overrides) > 0 {
		overrideCtx, err := permctx.LoadOverrides(overrides)
		if err != nil {
			return nil, err
		}
		pctx.Merge(overrideCtx)
	}

	if len(l.extraCliArgs) > 0 {
		cliCtx, err := permctx.ParseCliArgs(l.extraCliArgs)
		if err != nil {
			return nil, err
		}
		pctx.Merge(cliCtx)
	}

	return pctx, nil
}

// runtimeLdSoConfIsEmpty decides whether the ld.so.conf overlay path
// is needed: true iff the runtime's etc/ld.so.conf is a regular empty
// file.
func runtimeLdSoConfIsEmpty(runtimeFilesPath string) bool {
	fi, err := os.Stat(filepath.Join(runtimeFilesPath, "etc", "ld.so.conf"))
	return err == nil && fi.Mode().IsRegular() && fi.Size() == 0
}

// applyBaseArgs emits the fixed sandbox scaffolding: pid namespace,
// /proc and /dev, tmp/var-tmp/run-host dirs, the xdg runtime dir, and
// the /sys sub-bindings.
func (l *Launcher) applyBaseArgs(stream *argstream.ArgStream, pctx *permctx.Context) {
	stream.Add("--unshare-pid")
	if !pctx.Shares.IsGranted(permctx.ShareIPC) {
		stream.Add("--unshare-ipc")
	}
	if !pctx.Shares.IsGranted(permctx.ShareNetwork) {
		stream.Add("--unshare-net")
	}
	stream.Add("--proc", "/proc")
	stream.Add("--dev", "/dev")
	stream.Add("--tmpfs", "/tmp")
	stream.Add("--tmpfs", "/tmp/.X11-unix")
	stream.Add("--dir", "/var/tmp")
	stream.Add("--dir", "/run/host")
	if l.userRuntimeDir != "" {
		stream.Add("--bind", l.userRuntimeDir, "/run/user/"+strconv.Itoa(l.identity.Uid))
	}
	for _, sub := range []string{"block", "bus", "class", "dev"} {
		path := "/sys/" + sub
		if _, err := os.Stat(path); err == nil {
			stream.Add("--ro-bind", path, path)
		}
	}
}

// applyIdentityBlobs generates and attaches passwd/group/ld.so.conf
// overlay content.
func (l *Launcher) applyIdentityBlobs(stream *argstream.ArgStream) error {
	if err := stream.AddData("passwd", configblobs.Passwd(l.identity), "/etc/passwd"); err != nil {
		return err
	}
	if err := stream.AddData("group", configblobs.Group(l.identity), "/etc/group"); err != nil {
		return err
	}
	return stream.AddData("ld.so.conf", configblobs.LdSoConf(), "/etc/ld.so.conf")
}

// buildExposurePlan derives the ExposurePlan for pctx, rooted at the
// invoking user's home and per-app data dir.
func (l *Launcher) buildExposurePlan(pctx *permctx.Context, dataDir string) (*exposure.Plan, error) {
	planner := exposure.NewPlanner(l.identity.Home)
	planner.AppDataDir = dataDir
	planner.UserInstallRoot = l.userInstallRoot
	return planner.Build(pctx)
}

// renderPlan emits the ExposurePlan's entries to stream in
// shortest-path-first order.
func renderPlan(stream *argstream.ArgStream, plan *exposure.Plan) {
	for _, e := range plan.Render() {
		switch e.Exposure.Kind {
		case exposure.KindBind:
			op := "--ro-bind"
			if e.Exposure.Mode == permctx.ReadWrite || e.Exposure.Mode == permctx.Create {
				op = "--bind"
			}
			stream.Add(op, e.Path, e.Path)
		case exposure.KindDir:
			stream.Add("--dir", e.Path)
		case exposure.KindTmpfs:
			stream.Add("--tmpfs", e.Path)
		case exposure.KindSymlink:
			stream.Add("--symlink", e.Exposure.Target, e.Path)
		}
	}
}

// hostSeccompArch maps runtime.GOARCH to the OCI arch identifier used
// across configblobs/seccomp.go and this package's arch-pair tables.
func hostSeccompArch() specs.Arch {
	switch runtime.GOARCH {
	case "amd64":
		return specs.ArchX86_64
	case "arm64":
		return specs.ArchAARCH64
	case "386":
		return specs.ArchX86
	case "arm":
		return specs.ArchARM
	default:
		return specs.ArchX86_64
	}
}

func currentIdentity() (configblobs.Identity, error) {
	uid := os.Getuid()
	gid := os.Getgid()
	home := os.Getenv("HOME")
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	username := os.Getenv("USER")
	return configblobs.Identity{
		Uid: uid, Gid: gid, Username: username, RealName: username, Home: home, Shell: shell,
	}, nil
}

// setPersonality applies personality(2) before exec, the one piece of
// global process state this package deliberately mutates in the parent
// itself so the executor inherits it. x/sys/unix carries no wrapper
// for the syscall, so it is issued raw the way runc's libcontainer
// does.
func setPersonality(persona uint) error {
	if _, _, errno := unix.Syscall(unix.SYS_PERSONALITY, uintptr(persona), 0, 0); errno != 0 {
		return errno
	}
	return nil
}
