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

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/basuotian/sandboxrun/permctx"
)

func TestBuildSeccompRulesSameArchNoExtra(t *testing.T) {
	ctx := permctx.Default()
	rules := buildSeccompRules(ctx, specs.ArchX86_64, specs.ArchX86_64)
	require.Empty(t, rules.ExtraArches)
	require.True(t, rules.BlockDevelCalls)
}

func TestBuildSeccompRulesDifferentTargetArch(t *testing.T) {
	ctx := permctx.Default()
	rules := buildSeccompRules(ctx, specs.ArchX86_64, specs.ArchAARCH64)
	require.Contains(t, rules.ExtraArches, specs.ArchAARCH64)
}

func TestBuildSeccompRulesMultiarchAddsCompanion(t *testing.T) {
	ctx := permctx.Default()
	ctx.Features.Grant(permctx.FeatureMultiarch)
	rules := buildSeccompRules(ctx, specs.ArchX86_64, specs.ArchX86_64)
	require.Contains(t, rules.ExtraArches, specs.ArchX86)
}

func TestBuildSeccompRulesPersonalityForCompanionTarget(t *testing.T) {
	ctx := permctx.Default()
	ctx.Features.Grant(permctx.FeatureMultiarch)
	rules := buildSeccompRules(ctx, specs.ArchX86_64, specs.ArchX86)
	require.Equal(t, uint64(perLinux32), rules.AllowedPersonality)
}

func TestBuildSeccompRulesDevelAllowed(t *testing.T) {
	ctx := permctx.Default()
	ctx.Features.Grant(permctx.FeatureDevel)
	rules := buildSeccompRules(ctx, specs.ArchX86_64, specs.ArchX86_64)
	require.False(t, rules.BlockDevelCalls)
}

func TestArchFromRefComponent(t *testing.T) {
	require.Equal(t, specs.ArchX86_64, archFromRefComponent("x86_64"))
	require.Equal(t, specs.ArchAARCH64, archFromRefComponent("aarch64"))
	require.Equal(t, specs.ArchX86, archFromRefComponent("i386"))
	require.Equal(t, specs.ArchARM, archFromRefComponent("arm"))
}
