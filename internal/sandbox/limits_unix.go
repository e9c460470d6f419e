//go:build linux || darwin

package sandbox

import (
	"fmt"
	"os/exec"
	"syscall"
)

// setupProcessGroup puts cmd in its own process group so killGroup can
// terminate the whole build/test tree, not just the direct child --
// grounded on pkg/osutil's setPdeathsig/killPgroup pair.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

func killGroupHard(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// wrapWithMemoryLimit rewrites argv so the eventual process runs under a
// shell-imposed RLIMIT_AS, the address-space cap from spec.md §4.4. `ulimit
// -v` takes kibibytes; Go's os/exec has no direct pre-exec rlimit hook, so
// the limit is applied by a POSIX shell before it execs the real command.
func wrapWithMemoryLimit(argv []string, limitBytes int64) []string {
	kib := limitBytes / 1024
	return append([]string{"/bin/sh", "-c", fmt.Sprintf("ulimit -v %d && exec \"$@\"", kib), "--"}, argv...)
}
