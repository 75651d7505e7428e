// Package sandbox executes untrusted job code in an isolated environment:
// network disabled, CPU/memory/process-count capped, wall-clock bounded, and
// with any files the job writes collected back to the caller. Two execution
// modes are supported: a container mode (preferred) and a restricted
// subprocess mode (fallback when no container runtime is available).
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusgrid/campusgrid/internal/obslog"
	"github.com/campusgrid/campusgrid/internal/types"
)

// MaxOutputFileBytes is the per-file size cutoff; larger files are skipped
// with a warning, the rest of the result is unaffected.
const MaxOutputFileBytes = 10 * 1024 * 1024 // 10 MiB

// Config configures an Executor.
type Config struct {
	// UseContainer prefers container mode when a runtime is available.
	UseContainer bool
	// ContainerRuntime is the binary to invoke ("docker" or "podman").
	ContainerRuntime string
	// ContainerImage is the fixed language runtime image for job code.
	ContainerImage string
	// MemoryLimitMB caps container/subprocess memory (container mode only
	// enforces this at the cgroup level; restricted mode applies it via
	// rlimit as defense in depth).
	MemoryLimitMB int
	// MaxProcesses caps the number of processes a job's container may fork.
	MaxProcesses int
	// WorkDir is the parent directory under which scratch run directories
	// are created and removed.
	WorkDir string
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		UseContainer:     true,
		ContainerRuntime: "docker",
		ContainerImage:   "python:3.11-slim",
		MemoryLimitMB:    1024,
		MaxProcesses:     200,
		WorkDir:          "sandbox_runs",
	}
}

// Result is the outcome of a single job execution.
type Result struct {
	Success bool
	Output  string
	Error   string
	Files   []types.OutputFile
}

// Executor runs job code in a sandbox, selecting container or restricted
// mode based on configuration and runtime availability.
type Executor struct {
	cfg    Config
	log    zerolog.Logger
	hasRT  bool // container runtime actually usable, probed once
}

// NewExecutor creates an Executor. hasContainerRuntime should come from the
// worker's startup probe (internal/probe) so the executor never re-probes.
func NewExecutor(cfg Config, hasContainerRuntime bool) *Executor {
	return &Executor{
		cfg:   cfg,
		log:   obslog.Component("sandbox"),
		hasRT: hasContainerRuntime,
	}
}

// Execute runs code (optionally installing requirements first) with a hard
// wall-clock timeout of timeoutSeconds, and returns whatever output and
// files the run produced even on failure.
func (e *Executor) Execute(ctx context.Context, code, requirements string, timeoutSeconds int) (*Result, error) {
	runID := uuid.NewString()
	runDir := filepath.Join(e.cfg.WorkDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox: create run dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	log := e.log.With().Str("run_id", runID).Logger()

	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Second
	}

	if e.cfg.UseContainer && e.hasRT {
		log.Debug().Msg("executing job in container mode")
		return e.runContainer(ctx, runDir, code, requirements, timeout)
	}

	log.Debug().Msg("executing job in restricted subprocess mode")
	return e.runRestricted(ctx, runDir, code, requirements, timeout)
}
