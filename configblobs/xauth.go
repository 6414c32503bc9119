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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Xauth families relevant to filtering a host Xauthority file down to
// the entries this sandbox instance needs. Values match Xlib's
// <X11/Xauth.h> FamilyLocal/FamilyWild.
const (
	xauthFamilyLocal = 256
	xauthFamilyWild  = 65535
)

// xauthEntry is one record of the binary Xauthority format: a 16-bit
// family, then four length-prefixed byte strings (address, display
// number, name, cookie data).
type xauthEntry struct {
	family          uint16
	address, number []byte
	name, data      []byte
}

func readXauthEntries(r io.Reader) ([]xauthEntry, error) {
	var entries []xauthEntry
	for {
		var family uint16
		if err := binary.Read(r, binary.BigEndian, &family); err != nil {
			if err == io.EOF {
				return entries, nil
			}
			return nil, err
		}
		address, err := readXauthField(r)
		if err != nil {
			return nil, err
		}
		number, err := readXauthField(r)
		if err != nil {
			return nil, err
		}
		name, err := readXauthField(r)
		if err != nil {
			return nil, err
		}
		data, err := readXauthField(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, xauthEntry{family: family, address: address, number: number, name: name, data: data})
	}
}

func readXauthField(r io.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeXauthEntry(w io.Writer, e xauthEntry) error {
	if err := binary.Write(w, binary.BigEndian, e.family); err != nil {
		return err
	}
	for _, field := range [][]byte{e.address, e.number, e.name, e.data} {
		if err := binary.Write(w, binary.BigEndian, uint16(len(field))); err != nil {
			return err
		}
		if _, err := w.Write(field); err != nil {
			return err
		}
	}
	return nil
}

// FilterXauth reads a host Xauthority file and keeps only local/wild
// family entries matching hostname and display, rewriting each kept
// entry's display number to 99 so it matches the sandbox's rewritten
// X11 socket.
func FilterXauth(hostXauth []byte, hostname string, display int) ([]byte, error) {
	entries, err := readXauthEntries(bytes.NewReader(hostXauth))
	if err != nil {
		return nil, fmt.Errorf("parse xauth: %w", err)
	}
	wantNumber := []byte(fmt.Sprintf("%d", display))
	var out bytes.Buffer
	for _, e := range entries {
		if e.family != xauthFamilyLocal && e.family != xauthFamilyWild {
			continue
		}
		if !bytes.Equal(e.number, wantNumber) {
			continue
		}
		if e.family == xauthFamilyLocal && string(e.address) != hostname {
			continue
		}
		e.number = []byte("99")
		if err := writeXauthEntry(&out, e); err != nil {
			return nil, fmt.Errorf("write xauth: %w", err)
		}
	}
	return out.Bytes(), nil
}
