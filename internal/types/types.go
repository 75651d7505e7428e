// Package types holds the domain model shared across the manager, worker,
// store, and API layers.
package types

import "time"

// UserRole distinguishes the three account kinds the grid recognizes.
type UserRole string

const (
	RoleCoordinator UserRole = "coordinator"
	RoleWorker      UserRole = "worker"
	RoleUser        UserRole = "user"
)

// User is an account that can submit jobs, own workers, or both.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Email        string
	Role         UserRole
	Credits      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WorkerStatus is the durable lifecycle state of a worker.
type WorkerStatus string

const (
	WorkerOffline WorkerStatus = "offline"
	WorkerOnline  WorkerStatus = "online"
	WorkerBusy    WorkerStatus = "busy"
	WorkerPaused  WorkerStatus = "paused"
)

// Specs describes a worker's probed hardware capability.
type Specs struct {
	CPUCores    int
	CPUModel    string
	RAMGB       float64
	GPUName     string
	GPUMemoryGB float64
	HasDocker   bool
}

// HasGPU reports whether the worker owns a usable GPU. Written out
// explicitly (rather than inferred from a SQL NULL comparison) so the
// dispatch gate's intent is unambiguous in code.
func (s Specs) HasGPU() bool {
	return s.GPUName != ""
}

// Worker is a registered compute contributor.
type Worker struct {
	ID              string
	Name            string
	OwnerUserID     string // empty when owner_token could not be resolved
	Status          WorkerStatus
	Specs           Specs
	LastHeartbeat   time.Time
	JobsCompleted   int
	CreditsEarned   int
	CreatedAt       time.Time
}

// JobStatus is the lifecycle state of a submitted job. Jobs move strictly
// forward: pending -> running -> (completed | failed). Terminal states are
// immutable.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is a unit of submitted work.
type Job struct {
	ID              string
	Title           string
	SubmitterUserID string
	AssignedWorker  string // empty until dispatched
	Status          JobStatus
	Priority        int // 1..10
	Code            string
	Requirements    string
	CPURequired     int
	RAMRequiredGB   float64
	GPURequired     bool
	TimeoutSeconds  int
	CreditCost      int
	CreditReward    int
	ResultOutput    string
	ErrorLog        string
	RetryCount      int // bumped each time an orphaned running job is re-queued
	CreatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
}

// IsTerminal reports whether the job can no longer change state.
func (j Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// TransactionKind categorizes an entry in the append-only credit ledger.
type TransactionKind string

const (
	TxnJobSubmitted TransactionKind = "job_submitted"
	TxnJobCompleted TransactionKind = "job_completed"
)

// Transaction is an immutable credit-ledger entry.
type Transaction struct {
	ID          int64
	UserID      string
	Amount      int // signed
	Kind        TransactionKind
	JobID       string // optional
	Description string
	CreatedAt   time.Time
}

// ActivityEvent is an append-only audit record.
type ActivityEvent struct {
	ID        int64
	Kind      string
	WorkerID  string
	JobID     string
	UserID    string
	Message   string
	CreatedAt time.Time
}

// OutputFile is a file produced by a sandboxed job run.
type OutputFile struct {
	Filename       string
	Size           int64
	ContentBase64  string
}

// QueueStats summarizes the pending queue for dashboards/monitoring.
type QueueStats struct {
	PendingJobs int
	RunningJobs int
	OnlineWorkers int
	BusyWorkers   int
}

// LeaderboardEntry ranks a worker owner by credits earned.
type LeaderboardEntry struct {
	UserID        string
	Username      string
	CreditsEarned int
	JobsCompleted int
}
