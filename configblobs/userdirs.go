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

package configblobs

import (
	"fmt"
	"sort"
	"strings"
)

// xdgUserDirKeys maps the xdg-user-dir name to the XDG_*_DIR key
// user-dirs.dirs conventionally carries, matching xdg-user-dirs(1).
var xdgUserDirKeys = map[string]string{
	"desktop":   "XDG_DESKTOP_DIR",
	"documents": "XDG_DOCUMENTS_DIR",
	"download":  "XDG_DOWNLOAD_DIR",
	"music":     "XDG_MUSIC_DIR",
	"pictures":  "XDG_PICTURES_DIR",
	"public":    "XDG_PUBLIC_SHARE_DIR",
	"templates": "XDG_TEMPLATES_DIR",
	"videos":    "XDG_VIDEOS_DIR",
}

// UserDirsDirs renders the per-app config/user-dirs.dirs file,
// accumulated from the xdg-user-dir exposures the ExposurePlanner
// resolved, each written verbatim as the path the caller supplies.
func UserDirsDirs(exposed map[string]string) []byte {
	names := make([]string, 0, len(exposed))
	for name := range exposed {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintln(&b, "# This file is written by sandboxrun, do not edit manually.")
	for _, name := range names {
		key, ok := xdgUserDirKeys[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s=\"%s\"\n", key, exposed[name])
	}
	return []byte(b.String())
}
