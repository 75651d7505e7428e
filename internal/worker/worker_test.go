package worker

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/campusgrid/campusgrid/internal/manager"
	"github.com/campusgrid/campusgrid/internal/sandbox"
	"github.com/campusgrid/campusgrid/internal/store"
	"github.com/campusgrid/campusgrid/internal/types"
	"github.com/campusgrid/campusgrid/internal/wire"
)

func startTestManager(t *testing.T) (*store.Store, net.Listener) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "worker_test.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m := manager.New(st, manager.Config{
		HeartbeatTimeout:    2 * time.Second,
		HealthCheckInterval: 50 * time.Millisecond,
		ReadTimeout:         5 * time.Second,
		StartingCredits:     100,
		MinJobCost:          1,
		OutputDir:           t.TempDir(),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Serve(ctx, ln)

	return st, ln
}

func TestRegisterHandshake(t *testing.T) {
	st, ln := startTestManager(t)
	_ = st

	executor := sandbox.NewExecutor(sandbox.DefaultConfig(), false)
	c := New(Config{
		ManagerAddr:       ln.Addr().String(),
		Name:              "test-worker",
		OwnerToken:        "dave",
		HeartbeatInterval: 50 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
		MaxJobTimeout:     time.Minute,
	}, types.Specs{CPUCores: 4, CPUModel: "Test CPU", RAMGB: 8}, executor)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	if err != nil && err != context.DeadlineExceeded {
		t.Fatalf("Run: %v", err)
	}
	if c.workerID == "" {
		t.Fatal("expected workerID to be set after registration")
	}
}

func TestMainLoopExecutesDispatchedJob(t *testing.T) {
	st, ln := startTestManager(t)

	executor := sandbox.NewExecutor(sandbox.DefaultConfig(), false)
	c := New(Config{
		ManagerAddr:       ln.Addr().String(),
		Name:              "test-worker",
		OwnerToken:        "erin",
		HeartbeatInterval: 50 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
		MaxJobTimeout:     time.Minute,
	}, types.Specs{CPUCores: 4, CPUModel: "Test CPU", RAMGB: 8}, executor)

	nc, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn := wire.NewConn(nc)
	t.Cleanup(func() { nc.Close() })

	if err := conn.WriteMessage(map[string]interface{}{
		"type": "register", "name": "probe-conn", "owner_token": "erin",
		"specs": map[string]interface{}{"cpu_cores": 1.0, "ram_gb": 1.0},
	}); err != nil {
		t.Fatalf("register write: %v", err)
	}
	if _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("register read: %v", err)
	}

	user, err := st.ResolveOrCreateUser(context.Background(), "erin", 100)
	if err != nil {
		t.Fatalf("ResolveOrCreateUser: %v", err)
	}
	_, err = st.SubmitJob(context.Background(), types.Job{
		Title: "worker-loop", SubmitterUserID: user.ID, Priority: 5,
		Code: "print('hi')", CPURequired: 1, RAMRequiredGB: 1, TimeoutSeconds: 30,
	}, 1)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil && err != context.DeadlineExceeded {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not finish within timeout")
	}

	jobs, err := st.ListJobs(context.Background(), types.JobCompleted, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 completed job, got %d", len(jobs))
	}
}
