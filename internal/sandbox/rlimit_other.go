//go:build !linux && !darwin

package sandbox

import "os/exec"

// wrapWithResourceLimits is a no-op on platforms without ulimit/setpgid
// support; resource limiting in restricted mode is best-effort there and
// relies solely on the context timeout.
func wrapWithResourceLimits(name string, args []string, memoryLimitMB, cpuTimeSeconds int) (string, []string) {
	return name, args
}

func setPGID(cmd *exec.Cmd) {}

// killProcessGroup falls back to killing just the direct child; platforms
// without setPGID have no process group to take down with it.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
