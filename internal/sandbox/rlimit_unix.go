//go:build linux || darwin

package sandbox

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// wrapWithResourceLimits rewrites a command into a shell invocation that
// applies ulimit caps to the job process before exec'ing it — the same
// "set OS-level resource constraints, then run the real command" idiom the
// sandbox's container mode expresses via cgroup flags, applied here via the
// shell since Go's exec.Cmd has no pre-exec hook for rlimits.
func wrapWithResourceLimits(name string, args []string, memoryLimitMB, cpuTimeSeconds int) (string, []string) {
	memKB := memoryLimitMB * 1024

	limits := fmt.Sprintf("ulimit -v %d; ulimit -u 64;", memKB)
	if cpuTimeSeconds > 0 {
		limits += fmt.Sprintf(" ulimit -t %d;", cpuTimeSeconds)
	}

	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, shellQuote(name))
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}

	return "sh", []string{"-c", limits + " exec " + strings.Join(quoted, " ")}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// setPGID isolates the job process into its own process group so the
// sandbox can kill the whole tree on timeout rather than just the shell.
func setPGID(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup signals the negative pid, i.e. the whole group setPGID
// placed the job in, so a deadline-exceeded kill takes the job's own child
// processes with it rather than just the "sh -c" wrapper exec.CommandContext
// would otherwise signal alone.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
