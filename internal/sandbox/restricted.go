package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// restrictedHeader is prepended to every job script run in restricted mode.
// It pre-defines OUTPUT_DIR plus two convenience helpers so job code written
// against the container-mode contract (an OUTPUT_DIR env var) keeps working
// when no container runtime is available.
const restrictedHeader = `import os as _os

OUTPUT_DIR = %q
_os.makedirs(OUTPUT_DIR, exist_ok=True)

def save_output(name, text):
    with open(_os.path.join(OUTPUT_DIR, name), "w") as _f:
        _f.write(text)

def save_binary(name, data):
    with open(_os.path.join(OUTPUT_DIR, name), "wb") as _f:
        _f.write(data)

`

const jobScriptName = "job.py"

// runRestricted runs job code as a host subprocess in a scratch working
// directory when no container runtime is available. Requirements are
// installed into the host Python runtime first.
func (e *Executor) runRestricted(ctx context.Context, runDir, code, requirements string, timeout time.Duration) (*Result, error) {
	workDir := filepath.Join(runDir, "work")
	outputDir := filepath.Join(runDir, "output")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create work dir: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create output dir: %w", err)
	}

	absOutputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve output dir: %w", err)
	}

	script := fmt.Sprintf(restrictedHeader, absOutputDir) + code
	scriptPath := filepath.Join(workDir, jobScriptName)
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return nil, fmt.Errorf("sandbox: write job script: %w", err)
	}

	if requirements != "" {
		if err := installRequirements(ctx, workDir, requirements); err != nil {
			result := &Result{Success: false, Error: fmt.Sprintf("installing requirements: %v", err)}
			result.Files, _ = collectOutputFiles(outputDir)
			return result, nil
		}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, cmdArgs := wrapWithResourceLimits("python3", []string{jobScriptName}, e.cfg.MemoryLimitMB, int(timeout.Seconds()))
	cmd := exec.CommandContext(cctx, name, cmdArgs...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "OUTPUT_DIR="+absOutputDir)
	setPGID(cmd)
	// exec.CommandContext's default deadline kill only signals the "sh -c"
	// wrapper, not children it forked (e.g. a runaway python3); killProcessGroup
	// takes down the whole group setPGID placed the job in.
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n[STDERR]\n" + stderr.String()
	}

	result := &Result{Output: output}

	if cctx.Err() == context.DeadlineExceeded {
		result.Success = false
		result.Error = fmt.Sprintf("job timed out after %s", timeout)
	} else if runErr != nil {
		result.Success = false
		result.Error = runErr.Error()
	} else {
		result.Success = true
	}

	files, err := collectWorkAndOutputFiles(workDir, outputDir, scriptPath)
	if err != nil {
		return nil, fmt.Errorf("sandbox: collect output files: %w", err)
	}
	result.Files = files

	return result, nil
}

// installRequirements installs a requirements.txt into the host Python
// runtime prior to execution.
func installRequirements(ctx context.Context, workDir, requirements string) error {
	reqPath := filepath.Join(workDir, "requirements.txt")
	if err := os.WriteFile(reqPath, []byte(requirements), 0o644); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(cctx, "pip3", "install", "--quiet", "-r", reqPath)
	cmd.Dir = workDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, stderr.String())
	}
	return nil
}
