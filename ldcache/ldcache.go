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

// Package ldcache regenerates and content-addresses the sandbox's
// dynamic-linker cache, keyed by (app commit, runtime commit, enabled
// extensions) so two launches of the same app+runtime+extension
// combination never re-run ldconfig.
package ldcache

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// Key computes the content-address for a launch's ld.so.cache: the
// digest of the concatenation, in order, of app commit (if any),
// runtime commit, app extensions summary, runtime extensions summary.
// Only the encoded hex portion is used, since the key doubles as a
// cache filename.
func Key(appCommit, runtimeCommit, appExtSummary, runtimeExtSummary string) string {
	return digest.FromBytes([]byte(appCommit + runtimeCommit + appExtSummary + runtimeExtSummary)).Encoded()
}

// Dir resolves the cache directory for a launch: the per-app data
// directory's .ld.so subdirectory when one exists, else the user cache
// directory's flatpak/ld.so.
func Dir(perAppDataDir, userCacheDir string) string {
	if perAppDataDir != "" {
		return filepath.Join(perAppDataDir, ".ld.so")
	}
	return filepath.Join(userCacheDir, "flatpak", "ld.so")
}

// Lookup opens the cache file for key read-only, returning its fd if
// present.
func Lookup(cacheDir, key string) (int, bool) {
	f, err := os.Open(filepath.Join(cacheDir, key))
	if err != nil {
		return -1, false
	}
	defer f.Close()
	fd, err := dupFd(f)
	if err != nil {
		return -1, false
	}
	return fd, true
}

// Regenerator builds the minimal sandbox used to run ldconfig inside.
// BaseArgs supplies the partial arg stream already built for the real
// launch (usr/app binds, extension mounts) so the regeneration
// environment matches what the app will actually see.
type Regenerator struct {
	ExecutorPath string
	BaseArgs     []string
}

// Regenerate runs `ldconfig -X -C /run/ld-so-cache-dir/<key>` inside a
// minimal sandbox built from BaseArgs plus network/pid/ipc isolation, a
// bind of cacheDir at /run/ld-so-cache-dir, /proc and /dev.
// On success it opens the new file read-only, and — when
// tied to an app (perAppDataDir != "") — atomically switches cacheDir's
// "active" symlink to key and garbage-collects the prior target; when
// untied it unlinks the cache file after opening so the fd is the only
// reference.
func (r *Regenerator) Regenerate(cacheDir, key string, tiedToApp bool) (int, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return -1, &launcherrors.IoError{Op: "mkdir", Path: cacheDir, Err: err}
	}
	outPath := filepath.Join(cacheDir, key)

	args := append([]string{}, r.BaseArgs...)
	args = append(args,
		"--unshare-pid", "--unshare-ipc", "--unshare-net",
		"--proc", "/proc",
		"--dev", "/dev",
		"--bind", cacheDir, "/run/ld-so-cache-dir",
		"--",
		"ldconfig", "-X", "-C", "/run/ld-so-cache-dir/"+key,
	)

	cmd := exec.Command(r.ExecutorPath, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return -1, &launcherrors.LdCacheError{Key: key, Err: fmt.Errorf("ldconfig: %w", err)}
	}

	f, err := os.Open(outPath)
	if err != nil {
		return -1, &launcherrors.LdCacheError{Key: key, Err: fmt.Errorf("open generated cache: %w", err)}
	}
	defer f.Close()
	fd, err := dupFd(f)
	if err != nil {
		return -1, &launcherrors.LdCacheError{Key: key, Err: err}
	}

	if tiedToApp {
		if err := switchActive(cacheDir, key); err != nil {
			return fd, err
		}
	} else {
		os.Remove(outPath)
	}
	return fd, nil
}

// switchActive atomically repoints cacheDir/active at key and removes
// the file the previous "active" symlink pointed to, if different.
func switchActive(cacheDir, key string) error {
	activePath := filepath.Join(cacheDir, "active")
	prevTarget, _ := os.Readlink(activePath)

	tmp := filepath.Join(cacheDir, ".active-"+key)
	os.Remove(tmp)
	if err := os.Symlink(key, tmp); err != nil {
		return &launcherrors.LdCacheError{Key: key, Err: fmt.Errorf("symlink active: %w", err)}
	}
	if err := os.Rename(tmp, activePath); err != nil {
		return &launcherrors.LdCacheError{Key: key, Err: fmt.Errorf("rename active: %w", err)}
	}
	if prevTarget != "" && prevTarget != key {
		os.Remove(filepath.Join(cacheDir, prevTarget))
	}
	return nil
}
