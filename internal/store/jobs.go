package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/campusgrid/campusgrid/internal/ledger"
	"github.com/campusgrid/campusgrid/internal/types"
)

// ErrInsufficientCredits is returned by SubmitJob when the submitter cannot
// afford the computed cost. No state is mutated.
var ErrInsufficientCredits = errors.New("store: insufficient credits")

const jobSelect = `
	SELECT id, title, submitter_user_id, assigned_worker, status, priority,
	       code, requirements, cpu_required, ram_required_gb, gpu_required,
	       timeout_seconds, credit_cost, credit_reward, result_output,
	       error_log, retry_count, created_at, started_at, completed_at
	FROM jobs`

// SubmitJob inserts the job row, its queue entry, debits the submitter, and
// appends a job_submitted transaction, all in one transaction. The cost is
// computed here so the caller cannot race a cost-formula change against a
// balance check.
func (s *Store) SubmitJob(ctx context.Context, j types.Job, minJobCost int) (*types.Job, error) {
	id := uuid.NewString()
	now := nowRFC3339()

	cost := ledger.ApplyFloor(ledger.CalculateCost(j.CPURequired, j.RAMRequiredGB, j.GPURequired, j.TimeoutSeconds), minJobCost)

	err := withRetry(ctx, s.db, func(tx *sql.Tx) error {
		var balance int
		if err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, j.SubmitterUserID).Scan(&balance); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("store: submitter %s not found", j.SubmitterUserID)
			}
			return err
		}
		if balance < cost {
			return ErrInsufficientCredits
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (
				id, title, submitter_user_id, assigned_worker, status, priority,
				code, requirements, cpu_required, ram_required_gb, gpu_required,
				timeout_seconds, credit_cost, credit_reward, result_output, error_log,
				retry_count, created_at
			) VALUES (?, ?, ?, '', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', 0, ?)`,
			id, j.Title, j.SubmitterUserID, types.JobPending, j.Priority,
			j.Code, j.Requirements, j.CPURequired, j.RAMRequiredGB, boolToInt(j.GPURequired),
			j.TimeoutSeconds, cost, cost, now,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO queue (job_id, priority, queued_at) VALUES (?, ?, ?)`,
			id, j.Priority, now,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits - ? WHERE id = ?`, cost, j.SubmitterUserID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (user_id, amount, kind, job_id, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			j.SubmitterUserID, -cost, types.TxnJobSubmitted, id, ledger.SubmitDescription(j.Title, cost), now,
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.GetJob(ctx, id)
}

// DispatchNext selects and assigns the single best-fit pending job for a
// worker with the given capabilities, per the priority-then-age ordering
// rule. Returns (nil, nil) when nothing fits. The SELECT and status
// transition happen in the same transaction, so concurrent dispatch calls
// for the same row serialize and at most one succeeds.
func (s *Store) DispatchNext(ctx context.Context, workerID string, specs types.Specs) (*types.Job, error) {
	var assigned *types.Job

	err := withRetry(ctx, s.db, func(tx *sql.Tx) error {
		assigned = nil

		workerHasGPU := specs.HasGPU()

		row := tx.QueryRowContext(ctx, `
			SELECT j.id
			FROM queue q
			JOIN jobs j ON j.id = q.job_id
			WHERE j.status = 'pending'
			  AND j.cpu_required <= ?
			  AND j.ram_required_gb <= ?
			  AND (j.gpu_required = 0 OR ? = 1)
			ORDER BY q.priority DESC, q.queued_at ASC
			LIMIT 1`,
			specs.CPUCores, specs.RAMGB, boolToInt(workerHasGPU))

		var jobID string
		if err := row.Scan(&jobID); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}

		now := nowRFC3339()
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, assigned_worker = ?, started_at = ? WHERE id = ? AND status = 'pending'`,
			types.JobRunning, workerID, now, jobID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE job_id = ?`, jobID); err != nil {
			return err
		}

		j, err := scanJobRow(tx.QueryRowContext(ctx, jobSelect+" WHERE id = ?", jobID))
		if err != nil {
			return err
		}
		assigned = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

// CompleteJob persists a job result. On success with a resolvable worker
// owner, it credits the owner, appends a job_completed transaction, and
// bumps the worker's lifetime counters — all in the same transaction.
func (s *Store) CompleteJob(ctx context.Context, jobID string, success bool, output, errLog string) error {
	return withRetry(ctx, s.db, func(tx *sql.Tx) error {
		var title, assignedWorker string
		var reward int
		if err := tx.QueryRowContext(ctx, `SELECT title, assigned_worker, credit_reward FROM jobs WHERE id = ?`, jobID).
			Scan(&title, &assignedWorker, &reward); err != nil {
			return err
		}

		status := types.JobFailed
		if success {
			status = types.JobCompleted
		}

		now := nowRFC3339()
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, result_output = ?, error_log = ?, completed_at = ? WHERE id = ?`,
			status, output, errLog, now, jobID,
		); err != nil {
			return err
		}

		if !success || assignedWorker == "" {
			return nil
		}

		var ownerUserID string
		if err := tx.QueryRowContext(ctx, `SELECT owner_user_id FROM workers WHERE id = ?`, assignedWorker).Scan(&ownerUserID); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}

		if ownerUserID == "" {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE workers SET jobs_completed = jobs_completed + 1, credits_earned = credits_earned + ? WHERE id = ?`,
			reward, assignedWorker,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits + ? WHERE id = ?`, reward, ownerUserID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (user_id, amount, kind, job_id, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ownerUserID, reward, types.TxnJobCompleted, jobID, ledger.CompletionDescription(title, reward), now,
		)
		return err
	})
}

// RequeueOrphanedJob re-queues a running job whose worker disconnected
// mid-execution, up to MaxDispatchRetries times; beyond that it is marked
// failed. The submitter already paid on submit and is not refunded either
// way (the re-queue policy decision).
func (s *Store) RequeueOrphanedJob(ctx context.Context, jobID string) error {
	return withRetry(ctx, s.db, func(tx *sql.Tx) error {
		var priority, retryCount int
		if err := tx.QueryRowContext(ctx, `SELECT priority, retry_count FROM jobs WHERE id = ? AND status = 'running'`, jobID).
			Scan(&priority, &retryCount); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}

		if retryCount >= MaxDispatchRetries {
			_, err := tx.ExecContext(ctx, `
				UPDATE jobs SET status = 'failed', error_log = 'worker disconnected, retry budget exhausted', completed_at = ? WHERE id = ?`,
				nowRFC3339(), jobID)
			return err
		}

		now := nowRFC3339()
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'pending', assigned_worker = '', started_at = NULL, retry_count = retry_count + 1 WHERE id = ?`,
			jobID,
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO queue (job_id, priority, queued_at) VALUES (?, ?, ?)`, jobID, priority, now)
		return err
	})
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	j, err := scanJobRow(s.roDB.QueryRowContext(ctx, jobSelect+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// ListJobs lists jobs, optionally filtered by status, newest first.
func (s *Store) ListJobs(ctx context.Context, status types.JobStatus, limit int) ([]types.Job, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.roDB.QueryContext(ctx, jobSelect+` WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
	} else {
		rows, err = s.roDB.QueryContext(ctx, jobSelect+` ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListUserJobs lists a single submitter's jobs, newest first.
func (s *Store) ListUserJobs(ctx context.Context, userID string, limit int) ([]types.Job, error) {
	rows, err := s.roDB.QueryContext(ctx, jobSelect+` WHERE submitter_user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list user jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// QueueStats summarizes the live queue and worker pool for monitoring.
func (s *Store) QueueStats(ctx context.Context) (types.QueueStats, error) {
	var stats types.QueueStats
	if err := s.roDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&stats.PendingJobs); err != nil {
		return stats, err
	}
	if err := s.roDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'running'`).Scan(&stats.RunningJobs); err != nil {
		return stats, err
	}
	if err := s.roDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM workers WHERE status = 'online'`).Scan(&stats.OnlineWorkers); err != nil {
		return stats, err
	}
	if err := s.roDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM workers WHERE status = 'busy'`).Scan(&stats.BusyWorkers); err != nil {
		return stats, err
	}
	return stats, nil
}

func scanJobs(rows *sql.Rows) ([]types.Job, error) {
	var jobs []types.Job
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func scanJobRow(row rowScanner) (*types.Job, error) {
	var j types.Job
	var status string
	var gpuRequired int
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&j.ID, &j.Title, &j.SubmitterUserID, &j.AssignedWorker, &status, &j.Priority,
		&j.Code, &j.Requirements, &j.CPURequired, &j.RAMRequiredGB, &gpuRequired,
		&j.TimeoutSeconds, &j.CreditCost, &j.CreditReward, &j.ResultOutput,
		&j.ErrorLog, &j.RetryCount, &createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Status = types.JobStatus(status)
	j.GPURequired = gpuRequired != 0
	j.CreatedAt = parseTime(createdAt)
	j.StartedAt = nullableTime(startedAt)
	j.CompletedAt = nullableTime(completedAt)
	return &j, nil
}
