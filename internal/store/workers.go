package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/campusgrid/campusgrid/internal/types"
)

const workerSelect = `
	SELECT id, name, owner_user_id, status, cpu_cores, cpu_model, ram_gb,
	       gpu_name, gpu_memory_gb, has_docker, last_heartbeat,
	       jobs_completed, credits_earned, created_at
	FROM workers`

// RegisterWorker inserts a new durable worker row, as issued on every fresh
// connection's register message — reconnects always get a new worker ID; the
// in-memory session entry is never reused across connections.
func (s *Store) RegisterWorker(ctx context.Context, id, name, ownerUserID string, specs types.Specs) (*types.Worker, error) {
	now := nowRFC3339()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (
			id, name, owner_user_id, status, cpu_cores, cpu_model, ram_gb,
			gpu_name, gpu_memory_gb, has_docker, last_heartbeat,
			jobs_completed, credits_earned, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		id, name, ownerUserID, types.WorkerOnline,
		specs.CPUCores, specs.CPUModel, specs.RAMGB,
		specs.GPUName, specs.GPUMemoryGB, boolToInt(specs.HasDocker), now, now)
	if err != nil {
		return nil, fmt.Errorf("store: register worker: %w", err)
	}
	return s.GetWorker(ctx, id)
}

// GetWorker fetches a worker by ID.
func (s *Store) GetWorker(ctx context.Context, id string) (*types.Worker, error) {
	return s.scanWorker(s.roDB.QueryRowContext(ctx, workerSelect+" WHERE id = ?", id))
}

// ListWorkers returns every worker, most recently created first.
func (s *Store) ListWorkers(ctx context.Context) ([]types.Worker, error) {
	rows, err := s.roDB.QueryContext(ctx, workerSelect+" ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("store: list workers: %w", err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

// SetWorkerStatus durably updates a worker's status (used for pause/resume,
// and by the manager when a session closes — online/busy only ever reflect
// a live connection, enforced by the manager, not the store).
func (s *Store) SetWorkerStatus(ctx context.Context, id string, status types.WorkerStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workers SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("store: set worker status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: worker %s not found", id)
	}
	return nil
}

// TouchHeartbeat records the last heartbeat time durably (the in-memory
// table is authoritative for liveness; this keeps the durable row roughly in
// sync for anything reading it directly).
func (s *Store) TouchHeartbeat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workers SET last_heartbeat = ? WHERE id = ?`, nowRFC3339(), id)
	return err
}

// RemoveWorker deletes a worker's durable row entirely.
func (s *Store) RemoveWorker(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: remove worker: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: worker %s not found", id)
	}
	return nil
}

func scanWorkers(rows *sql.Rows) ([]types.Worker, error) {
	var workers []types.Worker
	for rows.Next() {
		w, err := scanWorkerRow(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, *w)
	}
	return workers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanWorker(row *sql.Row) (*types.Worker, error) {
	w, err := scanWorkerRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func scanWorkerRow(row rowScanner) (*types.Worker, error) {
	var w types.Worker
	var status, lastHeartbeat, createdAt string
	var hasDocker int
	err := row.Scan(
		&w.ID, &w.Name, &w.OwnerUserID, &status,
		&w.Specs.CPUCores, &w.Specs.CPUModel, &w.Specs.RAMGB,
		&w.Specs.GPUName, &w.Specs.GPUMemoryGB, &hasDocker, &lastHeartbeat,
		&w.JobsCompleted, &w.CreditsEarned, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scan worker: %w", err)
	}
	w.Status = types.WorkerStatus(status)
	w.Specs.HasDocker = hasDocker != 0
	w.LastHeartbeat = parseTime(lastHeartbeat)
	w.CreatedAt = parseTime(createdAt)
	return &w, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
