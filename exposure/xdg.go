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

package exposure

import (
	"os"
	"path/filepath"
	"strings"
)

// xdgUserDirDefaults maps the xdg-user-dir name (as used in a
// "xdg-<name>[/sub]" filesystem path-spec) to its conventional
// fallback directory name under $HOME, used when the corresponding
// XDG_*_DIR environment variable (as set by xdg-user-dirs) is absent.
var xdgUserDirDefaults = map[string]string{
	"desktop":   "Desktop",
	"documents": "Documents",
	"download":  "Downloads",
	"music":     "Music",
	"pictures":  "Pictures",
	"public":    "Public",
	"templates": "Templates",
	"videos":    "Videos",
}

var xdgUserDirEnv = map[string]string{
	"desktop":   "XDG_DESKTOP_DIR",
	"documents": "XDG_DOCUMENTS_DIR",
	"download":  "XDG_DOWNLOAD_DIR",
	"music":     "XDG_MUSIC_DIR",
	"pictures":  "XDG_PICTURES_DIR",
	"public":    "XDG_PUBLIC_SHARE_DIR",
	"templates": "XDG_TEMPLATES_DIR",
	"videos":    "XDG_VIDEOS_DIR",
}

// ResolveXdgUserDir resolves the xdg-user-dir name used inside a
// "xdg-<name>" path-spec to an absolute host directory, the way
// xdg-user-dir(1) would: honor the matching XDG_*_DIR override, else
// fall back to $HOME/<ConventionalName>.
func ResolveXdgUserDir(name, home string) (string, bool) {
	if env, ok := xdgUserDirEnv[name]; ok {
		if v := os.Getenv(env); v != "" {
			return v, true
		}
	}
	if def, ok := xdgUserDirDefaults[name]; ok {
		return filepath.Join(home, def), true
	}
	return "", false
}

// splitXdgSpec splits a "xdg-<name>[/sub]" spec into its user-dir name
// and optional sub-path suffix.
func splitXdgSpec(spec string) (name, sub string) {
	rest := strings.TrimPrefix(spec, "xdg-")
	name, sub, _ = strings.Cut(rest, "/")
	return name, sub
}
