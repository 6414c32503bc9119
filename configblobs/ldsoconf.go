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

// LdSoConf renders the fixed /etc/ld.so.conf content for the sandbox:
// runtime extension fragments last so runtime
// libraries win over app libraries unless an app .conf overrides them.
func LdSoConf() []byte {
	return []byte(
		"/run/flatpak/ld.so.conf.d/app-*.conf\n" +
			"/app/etc/ld.so.conf\n" +
			"/app/lib\n" +
			"/run/flatpak/ld.so.conf.d/runtime-*.conf\n",
	)
}
