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

// Package configblobs generates, on demand, the small configuration
// files the sandbox needs at start-up -- passwd/group, ld.so.conf,
// Xauthority, the PulseAudio client config, user-dirs.dirs, and the
// compiled seccomp BPF program -- so the Launcher can hand each to
// ArgStream as a sealed fd rather than a host path.
package configblobs

import (
	"fmt"

	"github.com/moby/sys/user"
)

// Identity is the invoking user's identity, gathered once by the
// Launcher and threaded into every generator that needs it.
type Identity struct {
	Uid      int
	Gid      int
	Username string
	RealName string
	Home     string
	Shell    string
}

// nobodyUid and nobodyGid identify the fixed second entry every generated passwd/group
// pair carries, mirroring the sandbox's single-user-plus-nobody model.
const (
	nobodyUid = 65534
	nobodyGid = 65534
)

// Passwd renders /etc/passwd: the invoking user's record, built from
// id, followed by a fixed nobody entry.
func Passwd(id Identity) []byte {
	u := user.User{
		Name:  id.Username,
		Pass:  "x",
		Uid:   id.Uid,
		Gid:   id.Gid,
		Gecos: id.RealName,
		Home:  id.Home,
		Shell: id.Shell,
	}
	nobody := user.User{Name: "nobody", Pass: "x", Uid: nobodyUid, Gid: nobodyGid, Gecos: "nobody", Home: "/", Shell: "/sbin/nologin"}
	return []byte(passwdLine(u) + passwdLine(nobody))
}

func passwdLine(u user.User) string {
	return fmt.Sprintf("%s:%s:%d:%d:%s:%s:%s\n", u.Name, u.Pass, u.Uid, u.Gid, u.Gecos, u.Home, u.Shell)
}

// Group renders /etc/group: the invoking user's primary group,
// followed by a fixed nobody group.
func Group(id Identity) []byte {
	g := user.Group{Name: id.Username, Pass: "x", Gid: id.Gid}
	nobody := user.Group{Name: "nobody", Pass: "x", Gid: nobodyGid}
	return []byte(groupLine(g) + groupLine(nobody))
}

func groupLine(g user.Group) string {
	return fmt.Sprintf("%s:%s:%d:\n", g.Name, g.Pass, g.Gid)
}
