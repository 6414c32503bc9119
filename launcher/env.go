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
	"sort"

	"github.com/basuotian/sandboxrun/argstream"
)

// baseEnv is the fixed environment the child always gets.
var baseEnv = map[string]string{
	"PATH":            "/app/bin:/usr/bin",
	"XDG_CONFIG_DIRS": "/app/etc/xdg:/etc/xdg",
	"XDG_DATA_DIRS":   "/app/share:/usr/share",
	"SHELL":           "/bin/sh",
}

// unsetByDefault is cleared unless the Context's env_vars explicitly
// sets one of these keys.
var unsetByDefault = []string{
	"LD_LIBRARY_PATH", "PYTHONPATH", "PERLLIB", "PERL5LIB", "XCURSOR_PATH", "TMPDIR",
}

// preservedFromHost is forwarded verbatim from the launching process's
// own environment when present.
var preservedFromHost = []string{
	"PWD", "HOME", "USER", "USERNAME", "LOGNAME", "TERM",
	"LANG", "LC_ALL", "LC_CTYPE", "LC_NUMERIC", "LC_TIME",
	"LC_COLLATE", "LC_MONETARY", "LC_MESSAGES", "LC_PAPER",
	"LC_NAME", "LC_ADDRESS", "LC_TELEPHONE", "LC_MEASUREMENT", "LC_IDENTIFICATION",
}

// buildEnv composes the full --setenv/--unsetenv set for one launch:
// the fixed base, the per-app XDG_*_HOME triad, the preserved host
// copy-list, then the Context's own env_vars layered last so explicit
// user overrides win.
func buildEnv(perAppDataDir string, extra map[string]string) map[string]string {
	env := map[string]string{}
	for k, v := range baseEnv {
		env[k] = v
	}
	if perAppDataDir != "" {
		env["XDG_DATA_HOME"] = perAppDataDir + "/data"
		env["XDG_CONFIG_HOME"] = perAppDataDir + "/config"
		env["XDG_CACHE_HOME"] = perAppDataDir + "/cache"
	}
	for _, name := range preservedFromHost {
		if v, ok := os.LookupEnv(name); ok {
			env[name] = v
		}
	}
	for _, name := range unsetByDefault {
		delete(env, name)
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

// applyEnv emits a "--setenv NAME VALUE" for every entry in env, and an explicit
// "--unsetenv NAME" for every key in unsetByDefault not present in env
// (the executor itself is set-uid and strips inherited environment, so
// these must be pushed explicitly).
func applyEnv(stream *argstream.ArgStream, env map[string]string) {
	for _, name := range unsetByDefault {
		if _, ok := env[name]; !ok {
			stream.Add("--unsetenv", name)
		}
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stream.Add("--setenv", name, env[name])
	}
}
