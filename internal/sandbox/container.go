package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// runContainer materializes job.py (and requirements.txt, if present) into a
// fresh working directory, then runs it inside a container with network
// disabled and CPU/memory/process limits applied.
func (e *Executor) runContainer(ctx context.Context, runDir, code, requirements string, timeout time.Duration) (*Result, error) {
	workDir := filepath.Join(runDir, "app")
	outputDir := filepath.Join(runDir, "output")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create work dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create output dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(workDir, "job.py"), []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("sandbox: write job script: %w", err)
	}

	startCmd := "python3 /app/job.py"
	if requirements != "" {
		if err := os.WriteFile(filepath.Join(workDir, "requirements.txt"), []byte(requirements), 0o644); err != nil {
			return nil, fmt.Errorf("sandbox: write requirements: %w", err)
		}
		startCmd = "pip install --quiet -r /app/requirements.txt && " + startCmd
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	containerName := "campusgrid-" + filepath.Base(runDir)

	args := []string{
		"run", "--rm",
		"--name", containerName,
		"-v", workDir + ":/app",
		"-v", outputDir + ":/output",
		"-e", "OUTPUT_DIR=/output",
		"--memory", strconv.Itoa(e.cfg.MemoryLimitMB) + "m",
		"--cpu-period", "100000",
		"--cpu-quota", "100000",
		"--pids-limit", strconv.Itoa(e.cfg.MaxProcesses),
		"--network", "none",
		e.cfg.ContainerImage,
		"sh", "-c", startCmd,
	}

	cmd := exec.CommandContext(cctx, e.cfg.ContainerRuntime, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	// exec.CommandContext's default deadline kill only SIGKILLs the "docker
	// run" CLI process; that client is attached in the foreground and cannot
	// proxy the signal, so the container itself keeps running in the daemon.
	// killContainer tells the daemon directly to stop (and, as a backstop,
	// remove) the named container, mirroring restricted.go's killProcessGroup.
	cmd.Cancel = func() error { return killContainer(e.cfg.ContainerRuntime, containerName) }

	runErr := cmd.Run()

	result := &Result{Output: combined.String()}

	if cctx.Err() == context.DeadlineExceeded {
		result.Success = false
		result.Error = fmt.Sprintf("job timed out after %s", timeout)
		result.Files, _ = collectOutputFiles(outputDir)
		return result, nil
	}

	if runErr != nil {
		result.Success = false
		result.Error = runErr.Error()
		result.Files, _ = collectOutputFiles(outputDir)
		return result, nil
	}

	result.Success = true
	files, err := collectOutputFiles(outputDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: collect output files: %w", err)
	}
	result.Files = files
	return result, nil
}

// killContainer stops a timed-out job's container at the daemon, not just
// the local CLI. "docker kill" alone is enough given --rm, but "docker rm
// -f" runs as a backstop in case the container already stopped on its own
// between the timeout firing and the kill landing.
func killContainer(runtime, name string) error {
	killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := exec.CommandContext(killCtx, runtime, "kill", name).Run()
	exec.CommandContext(killCtx, runtime, "rm", "-f", name).Run()
	return err
}
