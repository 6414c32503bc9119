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
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/basuotian/sandboxrun/configblobs"
	"github.com/basuotian/sandboxrun/permctx"
)

// perLinux32 is PER_LINUX32 from <sys/personality.h>; the kernel
// encodes PER_LINUX as 0, so it needs no named constant here.
const perLinux32 = 0x0008

// multiarchCompanions maps a host arch to the 32-bit seccomp architecture that must be
// registered alongside ArchX86_64 when multiarch is granted; likewise
// for aarch64/arm.
var multiarchCompanions = map[specs.Arch]specs.Arch{
	specs.ArchX86_64:  specs.ArchX86,
	specs.ArchAARCH64: specs.ArchARM,
}

// buildSeccompRules derives configblobs.SeccompRules from ctx and the
// host/target architecture pair: a target
// architecture differing from the host always gets its own seccomp
// arch registered; its 32-bit companion is added too when multiarch is
// granted and the pair is one of the known 64/32 families.
func buildSeccompRules(ctx *permctx.Context, hostArch, targetArch specs.Arch) configblobs.SeccompRules {
	rules := configblobs.SeccompRules{
		AllowedPersonality: 0, // PER_LINUX
		BlockDevelCalls:    !ctx.Features.IsGranted(permctx.FeatureDevel),
	}

	if targetArch != hostArch && targetArch != "" {
		rules.ExtraArches = append(rules.ExtraArches, targetArch)
	}
	if ctx.Features.IsGranted(permctx.FeatureMultiarch) {
		if companion, ok := multiarchCompanions[hostArch]; ok {
			rules.ExtraArches = append(rules.ExtraArches, companion)
		}
		if is32BitCompanionOf(targetArch, hostArch) {
			rules.AllowedPersonality = perLinux32
		}
	}

	return rules
}

// is32BitCompanionOf reports whether target is the 32-bit companion
// arch of a 64-bit host, the case that switches the allowed
// personality(2) argument to PER_LINUX32.
func is32BitCompanionOf(target, host specs.Arch) bool {
	companion, ok := multiarchCompanions[host]
	return ok && target == companion
}

// archFromRefComponent maps a ref's "<arch>" component (as flatpak
// refs spell it, e.g. "x86_64", "aarch64", "i386", "arm") to the OCI
// arch identifier the seccomp compiler and arch-pair tables use.
func archFromRefComponent(s string) specs.Arch {
	switch s {
	case "x86_64":
		return specs.ArchX86_64
	case "aarch64":
		return specs.ArchAARCH64
	case "i386":
		return specs.ArchX86
	case "arm":
		return specs.ArchARM
	default:
		return specs.Arch(s)
	}
}
