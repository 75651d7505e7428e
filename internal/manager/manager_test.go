package manager

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/campusgrid/campusgrid/internal/store"
	"github.com/campusgrid/campusgrid/internal/types"
	"github.com/campusgrid/campusgrid/internal/wire"
)

func newTestManager(t *testing.T) (*Manager, net.Listener) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "manager_test.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m := New(st, Config{
		HeartbeatTimeout:    200 * time.Millisecond,
		HealthCheckInterval: 20 * time.Millisecond,
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

	return m, ln
}

func dial(t *testing.T, ln net.Listener) *wire.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return wire.NewConn(nc)
}

func TestRegisterAssignsWorkerID(t *testing.T) {
	_, ln := newTestManager(t)
	conn := dial(t, ln)

	if err := conn.WriteMessage(map[string]interface{}{
		"type":        "register",
		"name":        "test-worker",
		"owner_token": "alice",
		"specs": map[string]interface{}{
			"cpu_cores": 4.0, "ram_gb": 8.0,
		},
	}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if wire.TypeOf(reply) != "registered" {
		t.Fatalf("reply type = %v, want registered", reply)
	}
	if _, ok := reply["worker_id"].(string); !ok {
		t.Fatalf("missing worker_id in reply: %v", reply)
	}
}

func TestUnexpectedFirstMessageClosesSession(t *testing.T) {
	_, ln := newTestManager(t)
	conn := dial(t, ln)

	if err := conn.WriteMessage(map[string]interface{}{"type": "heartbeat"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	_, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection to be closed for non-register first message")
	}
}

func TestRequestJobReturnsNoJobWhenQueueEmpty(t *testing.T) {
	_, ln := newTestManager(t)
	conn := dial(t, ln)

	mustRegister(t, conn, "worker-1", "bob", 4, 8)

	if err := conn.WriteMessage(map[string]interface{}{"type": "request_job"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if wire.TypeOf(reply) != "no_job" {
		t.Fatalf("reply = %v, want no_job", reply)
	}
}

func TestDispatchAndCompleteRoundTrip(t *testing.T) {
	m, ln := newTestManager(t)
	conn := dial(t, ln)

	mustRegister(t, conn, "worker-1", "carol", 4, 8)

	user, err := m.store.ResolveOrCreateUser(context.Background(), "carol", 100)
	if err != nil {
		t.Fatalf("ResolveOrCreateUser: %v", err)
	}
	job, err := m.store.SubmitJob(context.Background(), submitJob(user.ID), 1)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	if err := conn.WriteMessage(map[string]interface{}{"type": "request_job"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if wire.TypeOf(reply) != "job" {
		t.Fatalf("reply type = %v, want job", reply)
	}
	if reply["job_id"] != job.ID {
		t.Fatalf("job_id = %v, want %v", reply["job_id"], job.ID)
	}

	if err := conn.WriteMessage(map[string]interface{}{
		"type":    "job_result",
		"job_id":  job.ID,
		"success": true,
		"output":  "done",
	}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	reply, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if wire.TypeOf(reply) != "job_received" {
		t.Fatalf("reply = %v, want job_received", reply)
	}

	got, err := m.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "completed" {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func mustRegister(t *testing.T, conn *wire.Conn, name, owner string, cpu int, ram float64) string {
	t.Helper()
	if err := conn.WriteMessage(map[string]interface{}{
		"type": "register", "name": name, "owner_token": owner,
		"specs": map[string]interface{}{"cpu_cores": float64(cpu), "ram_gb": ram},
	}); err != nil {
		t.Fatalf("WriteMessage(register): %v", err)
	}
	reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage(registered): %v", err)
	}
	id, _ := reply["worker_id"].(string)
	return id
}

func submitJob(submitterID string) types.Job {
	return types.Job{
		Title: "round-trip", SubmitterUserID: submitterID, Priority: 5,
		Code: "print('ok')", CPURequired: 1, RAMRequiredGB: 1, TimeoutSeconds: 60,
	}
}
