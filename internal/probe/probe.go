// Package probe detects a worker's local hardware and sandbox capability
// once at startup; the resulting Specs are sent with registration and never
// re-probed for the lifetime of the process.
package probe

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/campusgrid/campusgrid/internal/types"
)

// Defaults applied whenever a probe step fails; probing degrades, it never
// errors out to the caller.
const (
	defaultCPUCores = 1
	defaultCPUModel = "Unknown"
	defaultRAMGB    = 4.0
)

// Probe gathers best-effort hardware specs for this machine.
func Probe(ctx context.Context) types.Specs {
	specs := types.Specs{
		CPUCores: defaultCPUCores,
		CPUModel: defaultCPUModel,
		RAMGB:    defaultRAMGB,
	}

	if cores, err := cpu.Counts(true); err == nil && cores > 0 {
		specs.CPUCores = cores
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		specs.CPUModel = infos[0].ModelName
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		specs.RAMGB = float64(vm.Total) / (1024 * 1024 * 1024)
	}

	if name, memGB, ok := probeGPU(ctx); ok {
		specs.GPUName = name
		specs.GPUMemoryGB = memGB
	}

	specs.HasDocker = probeContainerRuntime(ctx)

	return specs
}

// probeGPU shells out to nvidia-smi, the lowest-common-denominator way to
// discover an NVIDIA GPU without linking against CUDA.
func probeGPU(ctx context.Context) (name string, memGB float64, ok bool) {
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return "", 0, false
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, "nvidia-smi",
		"--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		return "", 0, false
	}

	line := strings.TrimSpace(strings.Split(string(out), "\n")[0])
	if line == "" {
		return "", 0, false
	}

	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	name = strings.TrimSpace(parts[0])

	memMB, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return name, 0, name != ""
	}

	return name, memMB / 1024, name != ""
}

// probeContainerRuntime checks for a usable container runtime by invoking
// `docker info`, mirroring the cheap exec.LookPath+exec.Command health check
// the pack's platform helpers use before driving docker.
func probeContainerRuntime(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return exec.CommandContext(cctx, "docker", "info").Run() == nil
}
