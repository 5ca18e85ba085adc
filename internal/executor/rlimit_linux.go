//go:build linux

package executor

import (
	"os/exec"
	"syscall"
	"unsafe"

	"github.com/heig-tin-info/baygon2/internal/schema"
)

// applyLimits installs the configured rlimits on the freshly started
// child. Prlimit acts on another pid, so the limits land before any
// meaningful work: the child is still in the runtime's exec preamble
// when Start returns. A child that outruns its CPU limit dies on
// SIGXCPU, which surfaces through the normal exit-status path.
func applyLimits(cmd *exec.Cmd, limits *schema.Limits) {
	if limits == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	set := func(resource int, value int64) {
		if value <= 0 {
			return
		}
		rlim := syscall.Rlimit{Cur: uint64(value), Max: uint64(value)}
		_ = prlimit(pid, resource, &rlim)
	}
	set(syscall.RLIMIT_CPU, limits.CPU)
	set(syscall.RLIMIT_AS, limits.Memory)
	set(syscall.RLIMIT_NOFILE, limits.NoFile)
}

func prlimit(pid, resource int, rlim *syscall.Rlimit) error {
	_, _, errno := syscall.RawSyscall6(syscall.SYS_PRLIMIT64,
		uintptr(pid), uintptr(resource),
		uintptr(unsafe.Pointer(rlim)), 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
