package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/campusgrid/campusgrid/internal/types"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grid_test.db")
	s, err := Open(path, 5*time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUser(t *testing.T, s *Store, username string, credits int) *types.User {
	t.Helper()
	u, err := s.ResolveOrCreateUser(context.Background(), username, credits)
	if err != nil {
		t.Fatalf("ResolveOrCreateUser: %v", err)
	}
	return u
}

func TestOpenCreatesSchema(t *testing.T) {
	tempStore(t)
}

// TestSubmitJobScenario exercises spec scenario 1: cpu=2, ram=1, gpu=0,
// timeout=300 from a user with 100 credits -> cost 15, balance 85.
func TestSubmitJobScenario(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	user := mustUser(t, s, "alice", 100)

	job, err := s.SubmitJob(ctx, types.Job{
		Title:           "scenario-1",
		SubmitterUserID: user.ID,
		Priority:        5,
		Code:            "print('hi')",
		CPURequired:     2,
		RAMRequiredGB:   1,
		GPURequired:     false,
		TimeoutSeconds:  300,
	}, 1)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.CreditCost != 15 {
		t.Fatalf("cost = %d, want 15", job.CreditCost)
	}

	got, err := s.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Credits != 85 {
		t.Fatalf("balance = %d, want 85", got.Credits)
	}

	jobs, err := s.ListJobs(ctx, types.JobPending, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("pending jobs = %d, want 1", len(jobs))
	}
}

func TestSubmitJobInsufficientCredits(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "poor", 1)

	_, err := s.SubmitJob(ctx, types.Job{
		Title:           "too-expensive",
		SubmitterUserID: user.ID,
		Priority:        1,
		Code:            "pass",
		CPURequired:     4,
		RAMRequiredGB:   4,
		TimeoutSeconds:  600,
	}, 1)
	if err != ErrInsufficientCredits {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}

	jobs, err := s.ListJobs(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs inserted on refused submit, got %d", len(jobs))
	}
}

// TestDispatchCapabilityGating exercises spec scenario 2: a GPU-gated job is
// only ever offered to a GPU-equipped worker, a job needing more cores than a
// worker has is skipped for it, and the queue is empty once both are taken.
func TestDispatchCapabilityGating(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "bob", 1000)

	j1, err := s.SubmitJob(ctx, types.Job{
		Title: "j1", SubmitterUserID: user.ID, Priority: 5,
		Code: "pass", CPURequired: 3, TimeoutSeconds: 60,
	}, 1)
	if err != nil {
		t.Fatalf("submit j1: %v", err)
	}
	j2, err := s.SubmitJob(ctx, types.Job{
		Title: "j2", SubmitterUserID: user.ID, Priority: 5,
		Code: "pass", CPURequired: 1, GPURequired: true, TimeoutSeconds: 60,
	}, 1)
	if err != nil {
		t.Fatalf("submit j2: %v", err)
	}

	specsB := types.Specs{CPUCores: 2, RAMGB: 4, GPUName: "NVIDIA T4"}
	dispatched, err := s.DispatchNext(ctx, "worker-b", specsB)
	if err != nil {
		t.Fatalf("DispatchNext(B): %v", err)
	}
	if dispatched == nil || dispatched.ID != j2.ID {
		t.Fatalf("expected B to receive gpu job j2, got %+v", dispatched)
	}

	specsA := types.Specs{CPUCores: 4, RAMGB: 8}
	dispatched, err = s.DispatchNext(ctx, "worker-a", specsA)
	if err != nil {
		t.Fatalf("DispatchNext(A): %v", err)
	}
	if dispatched == nil || dispatched.ID != j1.ID {
		t.Fatalf("expected A to receive j1, got %+v", dispatched)
	}

	none, err := s.DispatchNext(ctx, "worker-a", specsA)
	if err != nil {
		t.Fatalf("DispatchNext(empty): %v", err)
	}
	if none != nil {
		t.Fatalf("expected queue to be empty, got job %+v", none)
	}
}

func TestDispatchGpuGateRejectsNonGpuWorker(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "carol", 1000)

	if _, err := s.SubmitJob(ctx, types.Job{
		Title: "gpu-job", SubmitterUserID: user.ID, Priority: 1,
		Code: "pass", GPURequired: true, TimeoutSeconds: 60,
	}, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}

	dispatched, err := s.DispatchNext(ctx, "no-gpu-worker", types.Specs{CPUCores: 8, RAMGB: 16})
	if err != nil {
		t.Fatalf("DispatchNext: %v", err)
	}
	if dispatched != nil {
		t.Fatalf("expected no job dispatched to a gpu-less worker, got %+v", dispatched)
	}
}

func TestCompleteJobCreditsOwner(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	submitter := mustUser(t, s, "dave", 100)
	owner := mustUser(t, s, "owner", 0)

	worker, err := s.RegisterWorker(ctx, "w1", "dave-pc", owner.ID, types.Specs{CPUCores: 4, RAMGB: 8})
	if err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}

	job, err := s.SubmitJob(ctx, types.Job{
		Title: "completeme", SubmitterUserID: submitter.ID, Priority: 1,
		Code: "pass", CPURequired: 1, TimeoutSeconds: 60,
	}, 1)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	dispatched, err := s.DispatchNext(ctx, worker.ID, worker.Specs)
	if err != nil || dispatched == nil {
		t.Fatalf("DispatchNext: %v, %+v", err, dispatched)
	}

	if err := s.CompleteJob(ctx, job.ID, true, "ok", ""); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != types.JobCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}

	ownerAfter, err := s.GetUser(ctx, owner.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if ownerAfter.Credits != job.CreditReward {
		t.Fatalf("owner credits = %d, want %d", ownerAfter.Credits, job.CreditReward)
	}
}

func TestRequeueOrphanedJobRespectsRetryBudget(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "erin", 1000)
	worker, err := s.RegisterWorker(ctx, "w2", "flaky", "", types.Specs{CPUCores: 4, RAMGB: 8})
	if err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}

	job, err := s.SubmitJob(ctx, types.Job{
		Title: "orphan", SubmitterUserID: user.ID, Priority: 1,
		Code: "pass", TimeoutSeconds: 60,
	}, 1)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	for i := 0; i <= MaxDispatchRetries; i++ {
		if _, err := s.DispatchNext(ctx, worker.ID, worker.Specs); err != nil {
			t.Fatalf("DispatchNext iteration %d: %v", i, err)
		}
		if err := s.RequeueOrphanedJob(ctx, job.ID); err != nil {
			t.Fatalf("RequeueOrphanedJob iteration %d: %v", i, err)
		}
	}

	final, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.Status != types.JobFailed {
		t.Fatalf("status = %s, want failed after exhausting retry budget", final.Status)
	}
}

func TestQueueStats(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	user := mustUser(t, s, "frank", 1000)

	for i := 0; i < 3; i++ {
		if _, err := s.SubmitJob(ctx, types.Job{
			Title: "q", SubmitterUserID: user.ID, Priority: 1, Code: "pass", TimeoutSeconds: 60,
		}, 1); err != nil {
			t.Fatalf("SubmitJob: %v", err)
		}
	}

	stats, err := s.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.PendingJobs != 3 {
		t.Fatalf("PendingJobs = %d, want 3", stats.PendingJobs)
	}
}
