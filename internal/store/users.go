package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/campusgrid/campusgrid/internal/types"
)

// ResolveOrCreateUser looks up a user by username, creating one with the
// configured starting balance when it does not exist. The REST submit
// path's submitter_token is passed here as a raw, unverified username
// (placeholder trust model). Worker registration does not use this; it
// resolves owner_token with the lookup-only GetUserByUsername.
func (s *Store) ResolveOrCreateUser(ctx context.Context, username string, startingCredits int) (*types.User, error) {
	if username == "" {
		return nil, nil
	}

	u, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}

	now := nowRFC3339()
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, email, role, credits, created_at, updated_at)
		VALUES (?, ?, '', '', ?, ?, ?, ?)`,
		id, username, types.RoleUser, startingCredits, now, now)
	if err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}

	return s.GetUser(ctx, id)
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	return s.scanUser(s.roDB.QueryRowContext(ctx, userSelect+" WHERE id = ?", id))
}

// GetUserByUsername fetches a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return s.scanUser(s.roDB.QueryRowContext(ctx, userSelect+" WHERE username = ?", username))
}

const userSelect = `SELECT id, username, password_hash, email, role, credits, created_at, updated_at FROM users`

func (s *Store) scanUser(row *sql.Row) (*types.User, error) {
	var u types.User
	var role, createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &role, &u.Credits, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan user: %w", err)
	}
	u.Role = types.UserRole(role)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

// Leaderboard ranks worker owners by lifetime credits earned.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]types.LeaderboardEntry, error) {
	rows, err := s.roDB.QueryContext(ctx, `
		SELECT u.id, u.username, SUM(w.credits_earned), SUM(w.jobs_completed)
		FROM workers w
		JOIN users u ON u.id = w.owner_user_id
		WHERE w.owner_user_id != ''
		GROUP BY u.id, u.username
		ORDER BY SUM(w.credits_earned) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []types.LeaderboardEntry
	for rows.Next() {
		var e types.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.CreditsEarned, &e.JobsCompleted); err != nil {
			return nil, fmt.Errorf("store: scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LogActivity appends an audit event. Best-effort: callers typically log and
// ignore the error rather than failing the triggering operation over it.
func (s *Store) LogActivity(ctx context.Context, kind, workerID, jobID, userID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (kind, worker_id, job_id, user_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		kind, workerID, jobID, userID, message, nowRFC3339())
	return err
}

// ListActivity returns the most recent activity log entries, newest first.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]types.ActivityEvent, error) {
	rows, err := s.roDB.QueryContext(ctx, `
		SELECT id, kind, worker_id, job_id, user_id, message, created_at
		FROM activity ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list activity: %w", err)
	}
	defer rows.Close()

	var events []types.ActivityEvent
	for rows.Next() {
		var e types.ActivityEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.WorkerID, &e.JobID, &e.UserID, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan activity row: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}
