package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ContainerImage == "" {
		t.Error("expected a default container image")
	}
	if cfg.MemoryLimitMB <= 0 {
		t.Error("expected a positive default memory limit")
	}
	if cfg.MaxProcesses <= 0 {
		t.Error("expected a positive default process cap")
	}
}

func TestCollectOutputFilesSkipsOversize(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "small.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write small.txt: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "huge.bin"), make([]byte, MaxOutputFileBytes+1), 0o644); err != nil {
		t.Fatalf("write huge.bin: %v", err)
	}

	files, err := collectOutputFiles(dir)
	if err != nil {
		t.Fatalf("collectOutputFiles: %v", err)
	}
	if len(files) != 1 || files[0].Filename != "small.txt" {
		t.Fatalf("expected only small.txt to survive, got %+v", files)
	}
}

func TestRunRestrictedTimeout(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	cfg := DefaultConfig()
	cfg.UseContainer = false
	cfg.WorkDir = t.TempDir()
	e := NewExecutor(cfg, false)

	start := time.Now()
	result, err := e.Execute(context.Background(), "import time\ntime.sleep(5)\n", "", 1)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Error("expected a timed-out job to report failure")
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("expected a timeout error, got %q", result.Error)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("job ran for %s past its 1s timeout, process group was not killed", elapsed)
	}
}

func TestRunRestrictedCollectsOutputFiles(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}

	cfg := DefaultConfig()
	cfg.UseContainer = false
	cfg.WorkDir = t.TempDir()
	e := NewExecutor(cfg, false)

	result, err := e.Execute(context.Background(), `save_output("report.txt", "hello")`, "", 10)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, error=%q output=%q", result.Error, result.Output)
	}
	if len(result.Files) != 1 || result.Files[0].Filename != "report.txt" {
		t.Fatalf("expected report.txt among output files, got %+v", result.Files)
	}
}

// TestRunContainerTimeoutKillsContainer is the regression test for the
// container-kill fix: on timeout, runContainer must stop the container at
// the daemon (docker kill/rm), not just SIGKILL the attached "docker run"
// CLI process. It stands in a fake "docker" shell script rather than
// requiring a real container runtime: the script's "run" subcommand blocks
// until its "kill" subcommand is invoked against the same --name, mirroring
// how a real daemon detaches the attached CLI once the container stops.
func TestRunContainerTimeoutKillsContainer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake docker script requires a POSIX shell")
	}

	markerDir := t.TempDir()
	fakeDocker := filepath.Join(t.TempDir(), "docker")
	script := `#!/bin/sh
case "$1" in
run)
  name=""
  prev=""
  for arg in "$@"; do
    if [ "$prev" = "--name" ]; then name="$arg"; fi
    prev="$arg"
  done
  i=0
  while [ $i -lt 50 ]; do
    if [ -f "$FAKE_DOCKER_MARKERS/$name.killed" ]; then
      exit 137
    fi
    sleep 0.1
    i=$((i + 1))
  done
  exit 0
  ;;
kill)
  touch "$FAKE_DOCKER_MARKERS/$2.killed"
  ;;
rm)
  eval "target=\${$#}"
  touch "$FAKE_DOCKER_MARKERS/${target}.removed"
  ;;
esac
`
	if err := os.WriteFile(fakeDocker, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake docker script: %v", err)
	}
	t.Setenv("FAKE_DOCKER_MARKERS", markerDir)

	cfg := DefaultConfig()
	cfg.ContainerRuntime = fakeDocker
	cfg.WorkDir = t.TempDir()
	e := NewExecutor(cfg, true)

	start := time.Now()
	result, err := e.Execute(context.Background(), "print('hi')", "", 1)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Error("expected a timed-out job to report failure")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("job ran for %s past its 1s timeout, container was not killed", elapsed)
	}

	entries, err := os.ReadDir(markerDir)
	if err != nil {
		t.Fatalf("read marker dir: %v", err)
	}
	var killed bool
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".killed") {
			killed = true
		}
	}
	if !killed {
		t.Error("expected runContainer to invoke docker kill on timeout")
	}
}
