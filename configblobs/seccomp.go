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
	"errors"
	"fmt"
	"os"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	libseccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"

	"github.com/basuotian/sandboxrun/argstream"
	"github.com/basuotian/sandboxrun/internal/launcherrors"
)

// unconditionalDeny is the fixed list of syscalls refused outright
// regardless of Context: kernel keyrings, NUMA policy, mount and
// namespace manipulation are never available to sandboxed code.
var unconditionalDeny = []string{
	"syslog", "uselib", "acct", "modify_ldt", "quotactl",
	"add_key", "keyctl", "request_key",
	"move_pages", "mbind", "get_mempolicy", "set_mempolicy", "migrate_pages",
	"unshare", "mount", "pivot_root",
}

// develOnlyDeny is added only when the *devel* feature is not granted.
var develOnlyDeny = []string{"perf_event_open", "ptrace"}

// socketFamilyBlacklist is refused outright; anything numerically past
// NETLINK is refused as a range.
var socketFamilyBlacklist = []string{
	"AF_AX25", "AF_IPX", "AF_APPLETALK", "AF_NETROM", "AF_BRIDGE",
	"AF_ATMPVC", "AF_X25", "AF_ROSE", "AF_DECnet", "AF_NETBEUI",
	"AF_SECURITY", "AF_KEY",
}

// SeccompRules parameterizes the filter the launcher composes from a
// Context; the rule shapes themselves live here, in the generator.
type SeccompRules struct {
	// ExtraArches are additional seccomp architectures to register
	// beyond the native one.
	ExtraArches []specs.Arch
	// AllowedPersonality is the only personality(2) argument not
	// refused; PER_LINUX (0) unless 32-bit multiarch is in play.
	AllowedPersonality uint64
	// BlockDevelCalls adds perf_event_open/ptrace to the deny set when
	// the devel feature is not granted.
	BlockDevelCalls bool
}

// specArchToLibseccomp maps an OCI arch identifier to the libseccomp
// arch token.
func specArchToLibseccomp(arch specs.Arch) (libseccomp.ScmpArch, error) {
	switch arch {
	case specs.ArchX86_64:
		return libseccomp.ArchAMD64, nil
	case specs.ArchX86:
		return libseccomp.ArchX86, nil
	case specs.ArchAARCH64:
		return libseccomp.ArchARM64, nil
	case specs.ArchARM:
		return libseccomp.ArchARM, nil
	default:
		return libseccomp.ArchInvalid, fmt.Errorf("unsupported seccomp arch %q", arch)
	}
}

// CompileSeccomp builds the allow-by-default filter from rules and
// returns a sealed fd holding the exported BPF program, ready for
// ArgStream.AddFDOnly("--seccomp", fd).
func CompileSeccomp(rules SeccompRules) (int, error) {
	filter, err := libseccomp.NewFilter(libseccomp.ActAllow)
	if err != nil {
		return -1, &launcherrors.SeccompError{Op: "new-filter", Err: err}
	}
	defer filter.Release()

	for _, arch := range rules.ExtraArches {
		scmpArch, err := specArchToLibseccomp(arch)
		if err != nil {
			return -1, &launcherrors.SeccompError{Op: "add-arch", Err: err}
		}
		if err := filter.AddArch(scmpArch); err != nil {
			// "already added" is recoverable: libseccomp reports it as EEXIST.
			if errors.Is(err, unix.EEXIST) {
				continue
			}
			return -1, &launcherrors.SeccompError{Op: "add-arch", Err: err}
		}
	}

	denyErrno := libseccomp.ActErrno.SetReturnCode(int16(unix.EPERM))

	names := append([]string{}, unconditionalDeny...)
	if rules.BlockDevelCalls {
		names = append(names, develOnlyDeny...)
	}
	for _, name := range names {
		call, err := libseccomp.GetSyscallFromName(name)
		if err != nil {
			// Unknown to this kernel's syscall table: skip, not fatal.
			continue
		}
		if err := filter.AddRule(call, denyErrno); err != nil {
			return -1, &launcherrors.SeccompError{Op: "add-rule:" + name, Err: err}
		}
	}

	if err := addPersonalityRule(filter, rules.AllowedPersonality, denyErrno); err != nil {
		return -1, err
	}
	if err := addCloneNewuserRule(filter, denyErrno); err != nil {
		return -1, err
	}
	if err := addTiocstiRule(filter, denyErrno); err != nil {
		return -1, err
	}
	if err := addSocketFamilyRules(filter); err != nil {
		return -1, err
	}

	return exportSealed(filter)
}

func addPersonalityRule(filter *libseccomp.ScmpFilter, allowed uint64, denyErrno libseccomp.ScmpAction) error {
	call, err := libseccomp.GetSyscallFromName("personality")
	if err != nil {
		return nil
	}
	cond, err := libseccomp.MakeCondition(0, libseccomp.CompareNotEqual, allowed)
	if err != nil {
		return &launcherrors.SeccompError{Op: "personality-condition", Err: err}
	}
	if err := filter.AddRuleConditional(call, denyErrno, []libseccomp.ScmpCondition{cond}); err != nil {
		return &launcherrors.SeccompError{Op: "add-rule:personality", Err: err}
	}
	return nil
}

func addCloneNewuserRule(filter *libseccomp.ScmpFilter, denyErrno libseccomp.ScmpAction) error {
	call, err := libseccomp.GetSyscallFromName("clone")
	if err != nil {
		return nil
	}
	cond, err := libseccomp.MakeCondition(0, libseccomp.CompareMaskedEqual, unix.CLONE_NEWUSER, unix.CLONE_NEWUSER)
	if err != nil {
		return &launcherrors.SeccompError{Op: "clone-condition", Err: err}
	}
	if err := filter.AddRuleConditional(call, denyErrno, []libseccomp.ScmpCondition{cond}); err != nil {
		return &launcherrors.SeccompError{Op: "add-rule:clone", Err: err}
	}
	return nil
}

func addTiocstiRule(filter *libseccomp.ScmpFilter, denyErrno libseccomp.ScmpAction) error {
	call, err := libseccomp.GetSyscallFromName("ioctl")
	if err != nil {
		return nil
	}
	cond, err := libseccomp.MakeCondition(1, libseccomp.CompareEqual, unix.TIOCSTI)
	if err != nil {
		return &launcherrors.SeccompError{Op: "ioctl-condition", Err: err}
	}
	if err := filter.AddRuleConditional(call, denyErrno, []libseccomp.ScmpCondition{cond}); err != nil {
		return &launcherrors.SeccompError{Op: "add-rule:ioctl", Err: err}
	}
	return nil
}

// addSocketFamilyRules denies the blacklisted families outright and
// refuses, as a range, everything numerically past AF_NETLINK.
// socket(2)'s family check returns EAFNOSUPPORT rather than EPERM.
func addSocketFamilyRules(filter *libseccomp.ScmpFilter) error {
	call, err := libseccomp.GetSyscallFromName("socket")
	if err != nil {
		return nil
	}
	denyAfnosupport := libseccomp.ActErrno.SetReturnCode(int16(unix.EAFNOSUPPORT))

	for _, name := range socketFamilyBlacklist {
		family, ok := addressFamilies[name]
		if !ok {
			continue
		}
		cond, err := libseccomp.MakeCondition(0, libseccomp.CompareEqual, uint64(family))
		if err != nil {
			return &launcherrors.SeccompError{Op: "socket-family-condition", Err: err}
		}
		if err := filter.AddRuleConditional(call, denyAfnosupport, []libseccomp.ScmpCondition{cond}); err != nil {
			return &launcherrors.SeccompError{Op: "add-rule:socket:" + name, Err: err}
		}
	}
	cond, err := libseccomp.MakeCondition(0, libseccomp.CompareGreaterEqual, uint64(addressFamilies["AF_NETLINK"]+1))
	if err != nil {
		return &launcherrors.SeccompError{Op: "socket-range-condition", Err: err}
	}
	if err := filter.AddRuleConditional(call, denyAfnosupport, []libseccomp.ScmpCondition{cond}); err != nil {
		return &launcherrors.SeccompError{Op: "add-rule:socket-range", Err: err}
	}
	return nil
}

// addressFamilies holds just the AF_* values this filter conditions
// on, avoiding a dependency on a full syscall/socket constant table.
var addressFamilies = map[string]int{
	"AF_UNIX": unix.AF_UNIX, "AF_LOCAL": unix.AF_UNIX,
	"AF_INET": unix.AF_INET, "AF_AX25": unix.AF_AX25,
	"AF_IPX": unix.AF_IPX, "AF_APPLETALK": unix.AF_APPLETALK,
	"AF_NETROM": unix.AF_NETROM, "AF_BRIDGE": unix.AF_BRIDGE,
	"AF_ATMPVC": unix.AF_ATMPVC, "AF_X25": unix.AF_X25,
	"AF_INET6": unix.AF_INET6, "AF_ROSE": unix.AF_ROSE,
	"AF_DECnet": unix.AF_DECnet, "AF_NETBEUI": unix.AF_NETBEUI,
	"AF_SECURITY": unix.AF_SECURITY, "AF_KEY": unix.AF_KEY,
	"AF_NETLINK": unix.AF_NETLINK,
}

// exportSealed writes filter's compiled BPF program into a sealed
// memfd. ExportBPF wants an *os.File, so a dup is wrapped for the
// write and closed afterward; the original fd (returned to the
// caller) is left untouched by that close.
func exportSealed(filter *libseccomp.ScmpFilter) (int, error) {
	fd, err := argstream.NewUnsealedMemfd("seccomp")
	if err != nil {
		return -1, &launcherrors.SeccompError{Op: "memfd", Err: err}
	}
	dup, err := unix.Dup(fd)
	if err != nil {
		unix.Close(fd)
		return -1, &launcherrors.SeccompError{Op: "dup", Err: err}
	}
	writer := os.NewFile(uintptr(dup), "seccomp-bpf")
	exportErr := filter.ExportBPF(writer)
	writer.Close()
	if exportErr != nil {
		unix.Close(fd)
		return -1, &launcherrors.SeccompError{Op: "export-bpf", Err: exportErr}
	}
	if err := argstream.SealFd(fd); err != nil {
		unix.Close(fd)
		return -1, &launcherrors.SeccompError{Op: "seal", Err: err}
	}
	return fd, nil
}
