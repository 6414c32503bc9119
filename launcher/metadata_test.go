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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/basuotian/sandboxrun/internal/deploystore"
)

func TestRuntimeRefFromMetadata(t *testing.T) {
	metadata := []byte("[Application]\nname=org.example.App\nruntime=org.example.Runtime/x86_64/stable\n")
	ref, err := runtimeRefFromMetadata(metadata)
	require.NoError(t, err)
	require.Equal(t, deploystore.Ref{Kind: "runtime", ID: "org.example.Runtime", Arch: "x86_64", Branch: "stable"}, ref)
}

func TestRuntimeRefFromMetadataMissingKey(t *testing.T) {
	_, err := runtimeRefFromMetadata([]byte("[Application]\nname=org.example.App\n"))
	require.Error(t, err)
}

func TestParseRuntimeRefMalformed(t *testing.T) {
	_, err := parseRuntimeRef("org.example.Runtime/x86_64")
	require.Error(t, err)
}
